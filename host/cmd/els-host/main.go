package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/google/shlex"

	"leadscrew/core"
	"leadscrew/host/client"
)

var (
	device   = flag.String("device", "/dev/ttyACM0", "Serial device path")
	timeout  = flag.Duration("timeout", 2*time.Second, "Per-command timeout")
	interval = flag.Duration("interval", 500*time.Millisecond, "Refresh interval for watch")
	verbose  = flag.Bool("verbose", false, "Enable verbose output")
)

func main() {
	flag.Usage = usage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *verbose {
		fmt.Printf("Connecting to %s...\n", *device)
	}
	dialCtx, cancel := context.WithTimeout(ctx, *timeout)
	c, err := client.Dial(dialCtx, *device)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()
	if *verbose {
		fmt.Printf("Connected, %d messages in dictionary\n", len(c.Messages()))
	}

	if flag.NArg() > 0 {
		if err := run(ctx, c, flag.Args()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Interactive command loop
	fmt.Println("Enter commands (type 'help' for available commands, 'quit' to exit):")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		fields, err := shlex.Split(scanner.Text())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "quit", "exit", "q":
			return
		case "help", "?":
			printHelp()
			continue
		}
		if err := run(ctx, c, fields); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: els-host [flags] [command [args]]\n\nFlags:\n")
	flag.PrintDefaults()
	printHelp()
}

func printHelp() {
	fmt.Println("\nCommands:")
	fmt.Println("  status          - Show spindle speed, position and pitch")
	fmt.Println("  watch           - Refresh status until interrupted")
	fmt.Println("  list            - List the pitch catalog")
	fmt.Println("  select I        - Select catalog entry I")
	fmt.Println("  pitch N D       - Set a metric pitch of N/D mm")
	fmt.Println("  cycle [back]    - Step to the next compatible pitch")
	fmt.Println("  run | stop      - Start or stop the leadscrew")
	fmt.Println("  config FILE     - Load a JSON machine config into the controller")
	fmt.Println("  regs            - Dump the register map")
	fmt.Println("  dict            - Print the message dictionary")
	fmt.Println()
}

// run executes one command line
func run(ctx context.Context, c *client.Client, args []string) error {
	cmd, args := args[0], args[1:]

	if cmd == "watch" {
		return watch(ctx, c)
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	switch cmd {
	case "status":
		st, err := c.Status(ctx)
		if err != nil {
			return err
		}
		return printStatus(ctx, c, st)

	case "list":
		pitches, err := c.Pitches(ctx)
		if err != nil {
			return err
		}
		for _, p := range pitches {
			fmt.Printf("  [%2d] %-8s %s\n", p.Index, p.String(), p.Compatibility)
		}
		return nil

	case "select":
		if len(args) != 1 {
			return fmt.Errorf("usage: select INDEX")
		}
		i, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("bad index %q: %w", args[0], err)
		}
		status, err := c.SelectPitch(ctx, i)
		if err != nil {
			return err
		}
		fmt.Printf("select %d: %s\n", i, status)
		return nil

	case "pitch":
		if len(args) != 2 {
			return fmt.Errorf("usage: pitch NUM DEN")
		}
		num, err := strconv.ParseUint(args[0], 10, 8)
		if err != nil {
			return fmt.Errorf("bad numerator %q: %w", args[0], err)
		}
		den, err := strconv.ParseUint(args[1], 10, 8)
		if err != nil {
			return fmt.Errorf("bad denominator %q: %w", args[1], err)
		}
		status, err := c.SetPitch(ctx, uint8(num), uint8(den))
		if err != nil {
			return err
		}
		fmt.Printf("pitch %d/%d mm: %s\n", num, den, status)
		return nil

	case "cycle":
		st, err := c.CyclePitch(ctx, len(args) == 0 || args[0] != "back")
		if err != nil {
			return err
		}
		return printStatus(ctx, c, st)

	case "run", "stop":
		running, err := c.SetMode(ctx, cmd == "run")
		if err != nil {
			return err
		}
		if cmd == "run" && !running {
			return fmt.Errorf("controller refused to run: no compatible pitch committed")
		}
		fmt.Printf("running: %v\n", running)
		return nil

	case "config":
		if len(args) != 1 {
			return fmt.Errorf("usage: config FILE")
		}
		doc, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		cfg, err := core.LoadMachineConfig(doc)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		if err := c.Configure(ctx, cfg); err != nil {
			return err
		}
		fmt.Printf("configured: %d counts/rev, %d pulses/rev\n", cfg.EncoderResolution, cfg.StepperResolution())
		return nil

	case "regs":
		mem, err := c.ReadRegisters(ctx, 0, core.RegisterMapSize)
		if err != nil {
			return err
		}
		for i := 0; i < len(mem); i += 16 {
			fmt.Printf("  %02d: % X\n", i, mem[i:i+16])
		}
		return nil

	case "dict":
		for _, m := range c.Messages() {
			fmt.Printf("  [%d] %s %s\n", m.ID, m.Name, m.Format)
		}
		return nil

	default:
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmd)
	}
}

func printStatus(ctx context.Context, c *client.Client, st client.Status) error {
	p, err := c.Pitch(ctx, int(st.Index))
	if err != nil {
		return err
	}
	state := "idle"
	if st.Running {
		state = "running"
	}
	fmt.Printf("%4d rpm  pos %5d  out %6d  err %4d  %-7s  pitch %s (%s)\n",
		st.RPM, st.Position, st.OutputPosition, st.Err, state, p.String(), st.Compatibility)
	return nil
}

func watch(ctx context.Context, c *client.Client) error {
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		callCtx, cancel := context.WithTimeout(ctx, *timeout)
		st, err := c.Status(callCtx)
		if err == nil {
			err = printStatus(callCtx, c, st)
		}
		cancel()
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
