package core

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"leadscrew/protocol"
)

// sentMessage is one response captured by recordingSender
type sentMessage struct {
	id   uint16
	args []byte
}

type recordingSender struct {
	sent []sentMessage
}

func (r *recordingSender) SendCommand(cmdID uint16, args func(output protocol.OutputBuffer)) {
	out := protocol.NewScratchOutput()
	if args != nil {
		args(out)
	}
	r.sent = append(r.sent, sentMessage{id: cmdID, args: append([]byte(nil), out.Result()...)})
}

func (r *recordingSender) last(t *testing.T) sentMessage {
	t.Helper()
	if len(r.sent) == 0 {
		t.Fatal("no response sent")
	}
	return r.sent[len(r.sent)-1]
}

func TestCommandRegistry(t *testing.T) {
	registry := NewCommandRegistry()

	var called bool
	handler := func(data *[]byte) error {
		called = true
		return nil
	}

	id := registry.Register("test_command", "arg=%u", handler)
	if id != 0 {
		t.Errorf("Expected first command to have ID 0, got %d", id)
	}

	cmd, ok := registry.GetCommand(id)
	if !ok {
		t.Fatal("Failed to retrieve registered command")
	}
	if cmd.Name != "test_command" {
		t.Errorf("Expected command name 'test_command', got '%s'", cmd.Name)
	}

	var data []byte
	if err := registry.Dispatch(id, &data); err != nil {
		t.Errorf("Dispatch failed: %v", err)
	}
	if !called {
		t.Error("Command handler was not called")
	}

	if err := registry.Dispatch(999, &data); err == nil {
		t.Error("Expected error for unknown command ID")
	}
}

func TestCommandRegistryMultiple(t *testing.T) {
	registry := NewCommandRegistry()

	id1 := registry.Register("command1", "arg1=%u", func(data *[]byte) error { return nil })
	id2 := registry.RegisterResponse("command2", "arg2=%u")
	id3 := registry.Register("command3", "arg3=%u", func(data *[]byte) error { return nil })

	if id1 != 0 || id2 != 1 || id3 != 2 {
		t.Errorf("Command IDs not sequential: %d, %d, %d", id1, id2, id3)
	}
	if registry.Count() != 3 {
		t.Errorf("Count = %d", registry.Count())
	}

	// Registering again keeps the ID
	if id := registry.Register("command1", "arg1=%u", nil); id != id1 || registry.Count() != 3 {
		t.Errorf("re-registration allocated ID %d", id)
	}

	var data []byte
	if err := registry.Dispatch(id2, &data); !errors.Is(err, ErrNoResponseHandler) {
		t.Errorf("dispatching a response: %v", err)
	}
}

func TestCommandRegistryDictionary(t *testing.T) {
	registry := NewCommandRegistry()

	registry.RegisterResponse("status", "rpm=%hu")
	registry.Register("get_status", "", func(data *[]byte) error { return nil })

	expected := "0 status rpm=%hu\n1 get_status\n"
	if dict := registry.Dictionary(); dict != expected {
		t.Errorf("Dictionary = %q, expected %q", dict, expected)
	}
}

func TestCommandWithArguments(t *testing.T) {
	registry := NewCommandRegistry()

	var receivedValue uint32
	handler := func(data *[]byte) error {
		val, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		receivedValue = val
		return nil
	}

	id := registry.Register("test_args", "value=%u", handler)

	output := protocol.NewScratchOutput()
	protocol.EncodeVLQUint(output, 12345)
	data := output.Result()

	if err := registry.Dispatch(id, &data); err != nil {
		t.Errorf("Dispatch failed: %v", err)
	}
	if receivedValue != 12345 {
		t.Errorf("Expected value 12345, got %d", receivedValue)
	}
}

func TestCommandRegistrySend(t *testing.T) {
	registry := NewCommandRegistry()
	id := registry.RegisterResponse("pong", "value=%u")

	if err := registry.Send("pong", nil); err != nil {
		t.Errorf("Send without a sender should drop silently: %v", err)
	}
	if err := registry.Send("missing", nil); !errors.Is(err, ErrResponseNotFound) {
		t.Errorf("expected ErrResponseNotFound, got %v", err)
	}

	rec := &recordingSender{}
	registry.SetSender(rec)
	registry.Send("pong", func(o protocol.OutputBuffer) { protocol.EncodeVLQUint(o, 7) })
	msg := rec.last(t)
	if msg.id != id || !bytes.Equal(msg.args, []byte{7}) {
		t.Errorf("sent id=%d args=% X", msg.id, msg.args)
	}
}

func TestGlobalRegistry(t *testing.T) {
	RegisterCommand("global_test", "arg=%u", func(data *[]byte) error {
		return nil
	})

	if !strings.Contains(GetGlobalRegistry().Dictionary(), "global_test arg=%u") {
		t.Error("Global registry dictionary is missing the command")
	}
}

// commandRig serves the controller command set on a private registry
func commandRig(t *testing.T) (*CommandRegistry, *recordingSender, *controllerRig) {
	t.Helper()
	r := newControllerRig(t, DefaultMachineConfig())
	registry := NewCommandRegistry()
	RegisterControllerCommands(registry, r.ctl)
	rec := &recordingSender{}
	registry.SetSender(rec)
	return registry, rec, r
}

func dispatchNamed(t *testing.T, registry *CommandRegistry, name string, args func(protocol.OutputBuffer)) {
	t.Helper()
	cmd, ok := registry.GetCommandByName(name)
	if !ok {
		t.Fatalf("command %s not registered", name)
	}
	out := protocol.NewScratchOutput()
	if args != nil {
		args(out)
	}
	data := append([]byte(nil), out.Result()...)
	if err := registry.Dispatch(cmd.ID, &data); err != nil {
		t.Fatalf("%s: %v", name, err)
	}
}

func responseID(t *testing.T, registry *CommandRegistry, name string) uint16 {
	t.Helper()
	cmd, ok := registry.GetCommandByName(name)
	if !ok {
		t.Fatalf("response %s not registered", name)
	}
	return cmd.ID
}

func TestControllerCommandIDs(t *testing.T) {
	registry, _, _ := commandRig(t)
	if responseID(t, registry, "identify_response") != 0 || responseID(t, registry, "identify") != 1 {
		t.Error("identify messages must hold IDs 0 and 1")
	}
}

func TestIdentifyCommand(t *testing.T) {
	registry, rec, _ := commandRig(t)
	dict := registry.Dictionary()

	var got string
	for offset := 0; ; {
		dispatchNamed(t, registry, "identify", func(o protocol.OutputBuffer) {
			protocol.EncodeVLQUint(o, uint32(offset))
			protocol.EncodeVLQUint(o, identifyChunkMax)
		})
		msg := rec.last(t)
		if msg.id != 0 {
			t.Fatalf("identify answered with message %d", msg.id)
		}
		args := msg.args
		off, _ := protocol.DecodeVLQUint(&args)
		chunk, err := protocol.DecodeVLQString(&args)
		if err != nil || int(off) != offset {
			t.Fatalf("chunk at %d: offset %d err %v", offset, off, err)
		}
		if chunk == "" {
			break
		}
		got += chunk
		offset += len(chunk)
	}
	if got != dict {
		t.Errorf("reassembled dictionary differs:\n%s\nexpected\n%s", got, dict)
	}
}

func TestWriteRegistersCommand(t *testing.T) {
	registry, rec, r := commandRig(t)

	dispatchNamed(t, registry, "write_registers", func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, RegPitchIndex)
		protocol.EncodeVLQBytes(o, []byte{4})
	})
	msg := rec.last(t)
	if msg.id != responseID(t, registry, "registers") {
		t.Fatalf("write answered with message %d", msg.id)
	}
	args := msg.args
	off, _ := protocol.DecodeVLQUint(&args)
	data, _ := protocol.DecodeVLQBytes(&args)
	if off != RegPitchIndex || !bytes.Equal(data, []byte{4}) {
		t.Errorf("registers response offset %d data % X", off, data)
	}
	if r.ctl.Configuration().Index() != 4 {
		t.Errorf("selection %d, expected 4", r.ctl.Configuration().Index())
	}
}

func TestWriteRegistersErrors(t *testing.T) {
	registry, rec, _ := commandRig(t)
	errorID := responseID(t, registry, "error")

	cases := []struct {
		name   string
		offset uint32
		data   []byte
		code   uint32
	}{
		{"read-only", RegRPM, []byte{1, 2}, ErrCodeReadOnly},
		{"range", RegisterMapSize - 1, []byte{1, 2}, ErrCodeRange},
		{"pitch index", RegPitchIndex, []byte{99}, ErrCodePitchIndex},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dispatchNamed(t, registry, "write_registers", func(o protocol.OutputBuffer) {
				protocol.EncodeVLQUint(o, tc.offset)
				protocol.EncodeVLQBytes(o, tc.data)
			})
			msg := rec.last(t)
			args := msg.args
			code, _ := protocol.DecodeVLQUint(&args)
			if msg.id != errorID || code != tc.code {
				t.Errorf("response id=%d code=%d, expected error %d", msg.id, code, tc.code)
			}
		})
	}
}

func TestGetPitchCommand(t *testing.T) {
	registry, rec, _ := commandRig(t)

	dispatchNamed(t, registry, "get_pitch", func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, 11)
	})
	args := rec.last(t).args
	index, _ := protocol.DecodeVLQUint(&args)
	unit, _ := protocol.DecodeVLQUint(&args)
	status, _ := protocol.DecodeVLQUint(&args)
	label, _ := protocol.DecodeVLQString(&args)
	if index != 11 || PitchUnit(unit) != PitchMetric || Compatibility(status) != ThreadTooLarge || label != "2.5" {
		t.Errorf("pitch response %d %d %d %q", index, unit, status, label)
	}
}

func TestStatusAndCycleCommands(t *testing.T) {
	registry, rec, r := commandRig(t)
	statusID := responseID(t, registry, "status")

	r.enc.Move(30)
	dispatchNamed(t, registry, "get_status", nil)
	msg := rec.last(t)
	if msg.id != statusID {
		t.Fatalf("get_status answered with message %d", msg.id)
	}
	args := msg.args
	rpm, _ := protocol.DecodeVLQUint(&args)
	pos, _ := protocol.DecodeVLQUint(&args)
	output, _ := protocol.DecodeVLQInt(&args)
	_, _ = protocol.DecodeVLQInt(&args)
	mode, _ := protocol.DecodeVLQUint(&args)
	index, _ := protocol.DecodeVLQUint(&args)
	if rpm != 0 || pos != 30 || output != 0 || mode != ModeIdle || index != DefaultPitchIndex {
		t.Errorf("status rpm=%d pos=%d output=%d mode=%d index=%d", rpm, pos, output, mode, index)
	}

	dispatchNamed(t, registry, "cycle_pitch", func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, 1)
	})
	if r.ctl.Configuration().Index() != DefaultPitchIndex+1 {
		t.Errorf("cycle_pitch selected %d", r.ctl.Configuration().Index())
	}
	if rec.last(t).id != statusID {
		t.Error("cycle_pitch did not answer with a status")
	}
}
