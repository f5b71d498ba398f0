package core

import (
	"errors"
	"sync"

	"leadscrew/protocol"
)

// CommandHandler decodes its own arguments from the front of data
type CommandHandler func(data *[]byte) error

// Command is one message of the host protocol. Responses are registered
// with a nil handler.
type Command struct {
	ID      uint16
	Name    string
	Format  string // argument list, e.g. "offset=%c count=%c"
	Handler CommandHandler
}

// ResponseSender encodes a message onto the link, normally a
// protocol.Transport
type ResponseSender interface {
	SendCommand(cmdID uint16, args func(output protocol.OutputBuffer))
}

var (
	ErrUnknownCommand    = errors.New("unknown command ID")
	ErrResponseNotFound  = errors.New("response not registered")
	ErrNoResponseHandler = errors.New("message has no handler")
)

// CommandRegistry allocates message IDs in registration order and
// dispatches received commands
type CommandRegistry struct {
	mu         sync.RWMutex
	commands   map[uint16]*Command
	nameToID   map[string]uint16
	nextID     uint16
	dictionary string
	sender     ResponseSender
}

var globalRegistry = NewCommandRegistry()

func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		commands: make(map[uint16]*Command),
		nameToID: make(map[string]uint16),
	}
}

// GetGlobalRegistry returns the registry the firmware serves
func GetGlobalRegistry() *CommandRegistry {
	return globalRegistry
}

// Register adds a message and returns its ID. Registering a name twice
// replaces the handler and keeps the ID.
func (r *CommandRegistry) Register(name, format string, handler CommandHandler) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, exists := r.nameToID[name]; exists {
		r.commands[id].Handler = handler
		return id
	}

	id := r.nextID
	r.nextID++
	r.commands[id] = &Command{ID: id, Name: name, Format: format, Handler: handler}
	r.nameToID[name] = id
	r.rebuildDictionary()
	return id
}

// RegisterResponse adds a device to host message
func (r *CommandRegistry) RegisterResponse(name, format string) uint16 {
	return r.Register(name, format, nil)
}

func (r *CommandRegistry) GetCommand(id uint16) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[id]
	return cmd, ok
}

func (r *CommandRegistry) GetCommandByName(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.nameToID[name]
	if !ok {
		return nil, false
	}
	return r.commands[id], true
}

func (r *CommandRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Dispatch runs the handler registered for cmdID
func (r *CommandRegistry) Dispatch(cmdID uint16, data *[]byte) error {
	cmd, ok := r.GetCommand(cmdID)
	if !ok {
		return errors.New(ErrUnknownCommand.Error() + " " + itoa(int(cmdID)))
	}
	if cmd.Handler == nil {
		return ErrNoResponseHandler
	}
	return cmd.Handler(data)
}

// Dictionary returns one line per message, "<id> <name> <format>", in ID
// order. The host learns message IDs from it through identify.
func (r *CommandRegistry) Dictionary() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dictionary
}

// must be called with lock held
func (r *CommandRegistry) rebuildDictionary() {
	dict := ""
	for i := uint16(0); i < r.nextID; i++ {
		cmd, ok := r.commands[i]
		if !ok {
			continue
		}
		dict += itoa(int(cmd.ID)) + " " + cmd.Name
		if cmd.Format != "" {
			dict += " " + cmd.Format
		}
		dict += "\n"
	}
	r.dictionary = dict
}

// SetSender sets where responses go
func (r *CommandRegistry) SetSender(s ResponseSender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sender = s
}

// Send encodes a registered response. Without a sender the response is
// dropped.
func (r *CommandRegistry) Send(name string, args func(output protocol.OutputBuffer)) error {
	cmd, ok := r.GetCommandByName(name)
	if !ok {
		return ErrResponseNotFound
	}
	r.mu.RLock()
	s := r.sender
	r.mu.RUnlock()
	if s != nil {
		s.SendCommand(cmd.ID, args)
	}
	return nil
}

// RegisterCommand registers on the global registry
func RegisterCommand(name, format string, handler CommandHandler) uint16 {
	return globalRegistry.Register(name, format, handler)
}

// DispatchCommand dispatches on the global registry; it has the shape of
// protocol.CommandHandler
func DispatchCommand(cmdID uint16, data *[]byte) error {
	return globalRegistry.Dispatch(cmdID, data)
}

// SetGlobalTransport routes global responses to a transport
func SetGlobalTransport(s ResponseSender) {
	globalRegistry.SetSender(s)
}
