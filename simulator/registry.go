package simulator

import (
	"errors"
	"strconv"
	"sync"
)

// commandHandler handles one command, decoding its own arguments from data
type commandHandler func(data *[]byte) error

type command struct {
	id      uint16
	name    string
	format  string
	handler commandHandler
}

// registry assigns message ids in registration order.
// Responses are registered with a nil handler.
type registry struct {
	mu       sync.RWMutex
	commands map[uint16]*command
	nameToID map[string]uint16
	nextID   uint16
}

func newRegistry() *registry {
	return &registry{
		commands: make(map[uint16]*command),
		nameToID: make(map[string]uint16),
	}
}

func (r *registry) register(name, format string, handler commandHandler) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, exists := r.nameToID[name]; exists {
		return id
	}

	id := r.nextID
	r.nextID++
	r.commands[id] = &command{id: id, name: name, format: format, handler: handler}
	r.nameToID[name] = id
	return id
}

func (r *registry) responseID(name string) uint16 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nameToID[name]
}

func (r *registry) dispatch(id uint16, data *[]byte) error {
	r.mu.RLock()
	cmd, ok := r.commands[id]
	r.mu.RUnlock()

	if !ok || cmd.handler == nil {
		return errors.New("unknown command ID: " + strconv.Itoa(int(id)))
	}
	return cmd.handler(data)
}

// commandsAndResponses returns dictionary maps of "name format" to id
func (r *registry) commandsAndResponses() (map[string]int, map[string]int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	commands := make(map[string]int)
	responses := make(map[string]int)
	for _, cmd := range r.commands {
		key := cmd.name
		if cmd.format != "" {
			key = cmd.name + " " + cmd.format
		}
		if cmd.handler != nil {
			commands[key] = int(cmd.id)
		} else {
			responses[key] = int(cmd.id)
		}
	}
	return commands, responses
}
