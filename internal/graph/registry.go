package graph

import (
	"sort"
	"strings"
	"sync"
)

// PortSeparator splits a full port name into client and port parts.
const PortSeparator = ":"

// Registry tracks client names currently registered with the graph.
// Writes arrive from backend callback goroutines; all access is locked.
// The zero value is an empty registry ready for use.
type Registry struct {
	mu    sync.RWMutex
	names map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{names: make(map[string]struct{})}
}

// ScanPorts inserts the client prefix of every port the lister reports.
func (r *Registry) ScanPorts(lister PortLister) error {
	ports, err := lister.Ports()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, port := range ports {
		r.addLocked(ClientFromPort(port))
	}
	return nil
}

// OnRegistration is the RegistrationFunc that keeps the set current.
func (r *Registry) OnRegistration(name string, registering bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if registering {
		r.addLocked(name)
		return
	}
	delete(r.names, name)
}

func (r *Registry) addLocked(name string) {
	if r.names == nil {
		r.names = make(map[string]struct{})
	}
	r.names[name] = struct{}{}
}

func (r *Registry) Contains(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.names[name]
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}

// Names returns a sorted copy of the tracked set.
func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.names))
	for name := range r.names {
		out = append(out, name)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// ClientFromPort returns the text before the first separator.
func ClientFromPort(port string) string {
	if i := strings.Index(port, PortSeparator); i >= 0 {
		return port[:i]
	}
	return port
}
