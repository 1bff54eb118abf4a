package core

import (
	"errors"
	"strconv"
	"sync"
)

// ErrUnknownCommand is returned by Dispatch for an id nobody registered
var ErrUnknownCommand = errors.New("core: unknown command")

type unknownCommandError struct{ id uint16 }

func (e *unknownCommandError) Error() string {
	return ErrUnknownCommand.Error() + " " + strconv.Itoa(int(e.id))
}

func (e *unknownCommandError) Is(target error) bool { return target == ErrUnknownCommand }

// CommandHandler decodes its own arguments from data and runs the command
type CommandHandler func(data *[]byte) error

// Command is one entry of the data dictionary. Responses (MCU to host)
// have no handler.
type Command struct {
	ID      uint16
	Name    string
	Format  string // argument format, e.g. "oid=%c data=%*s"
	Handler CommandHandler
}

// Message returns the dictionary key: the name followed by its format
func (c *Command) Message() string {
	if c.Format == "" {
		return c.Name
	}
	return c.Name + " " + c.Format
}

// CommandRegistry assigns ids in registration order
type CommandRegistry struct {
	mu       sync.RWMutex
	commands []*Command
	byName   map[string]*Command
}

var globalRegistry = NewCommandRegistry()

func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{byName: make(map[string]*Command)}
}

// RegisterCommand adds a command to the firmware registry, like
// DECL_COMMAND in Klipper
func RegisterCommand(name, format string, handler CommandHandler) uint16 {
	return globalRegistry.Register(name, format, handler)
}

// RegisterResponse adds a message the firmware sends
func RegisterResponse(name, format string) uint16 {
	return globalRegistry.Register(name, format, nil)
}

// Register adds a command and returns its id. Registering a name twice
// returns the first id.
func (r *CommandRegistry) Register(name, format string, handler CommandHandler) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cmd, ok := r.byName[name]; ok {
		return cmd.ID
	}
	cmd := &Command{
		ID:      uint16(len(r.commands)),
		Name:    name,
		Format:  format,
		Handler: handler,
	}
	r.commands = append(r.commands, cmd)
	r.byName[name] = cmd
	return cmd.ID
}

func (r *CommandRegistry) GetCommand(id uint16) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.commands) {
		return nil, false
	}
	return r.commands[id], true
}

func (r *CommandRegistry) GetCommandByName(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.byName[name]
	return cmd, ok
}

func (r *CommandRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Dispatch runs the handler registered for cmdID. It matches
// protocol.CommandHandler once bound with a method value.
func (r *CommandRegistry) Dispatch(cmdID uint16, data *[]byte) error {
	cmd, ok := r.GetCommand(cmdID)
	if !ok || cmd.Handler == nil {
		return &unknownCommandError{id: cmdID}
	}
	return cmd.Handler(data)
}

// GetCommandsAndResponses splits the registry into the two dictionary
// maps, keyed by message
func (r *CommandRegistry) GetCommandsAndResponses() (commands, responses map[string]int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	commands = make(map[string]int)
	responses = make(map[string]int)
	for _, cmd := range r.commands {
		if cmd.Handler != nil {
			commands[cmd.Message()] = int(cmd.ID)
		} else {
			responses[cmd.Message()] = int(cmd.ID)
		}
	}
	return commands, responses
}

// GlobalRegistry returns the registry the firmware dispatches from
func GlobalRegistry() *CommandRegistry {
	return globalRegistry
}
