package portbridge

import (
	"fmt"
	"sort"
	"sync"
)

// openPort records one port the adapter created on the server
type openPort struct {
	handle PortHandle
	driver string
	args   string

	// server-side name of the endpoint the module created, if known
	endpoint string
}

func (p *openPort) String() string {
	return fmt.Sprintf("<port %d: %s %s>", p.handle, p.driver, p.args)
}

// portTable is the set of ports owned by one adapter instance
type portTable struct {
	m    map[PortHandle]*openPort
	lock sync.Mutex
}

func newPortTable() *portTable {
	return &portTable{
		m: make(map[PortHandle]*openPort),
	}
}

func (t *portTable) add(port *openPort) {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.m[port.handle] = port
}

func (t *portTable) get(handle PortHandle) (*openPort, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()

	port, ok := t.m[handle]
	return port, ok
}

// remove forgets a handle and returns what it referred to
func (t *portTable) remove(handle PortHandle) (*openPort, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()

	port, ok := t.m[handle]
	if ok {
		delete(t.m, handle)
	}
	return port, ok
}

// drain empties the table, returning its former contents in handle order
func (t *portTable) drain() []*openPort {
	t.lock.Lock()
	defer t.lock.Unlock()

	ports := make([]*openPort, 0, len(t.m))
	for handle, port := range t.m {
		ports = append(ports, port)
		delete(t.m, handle)
	}

	sort.Slice(ports, func(i, j int) bool { return ports[i].handle < ports[j].handle })
	return ports
}

// findEndpoint returns the open port whose endpoint has the given name
func (t *portTable) findEndpoint(name string) (*openPort, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()

	for _, port := range t.m {
		if port.endpoint != "" && port.endpoint == name {
			return port, true
		}
	}
	return nil, false
}

func (t *portTable) len() int {
	t.lock.Lock()
	defer t.lock.Unlock()

	return len(t.m)
}

func (t *portTable) String() string {
	return fmt.Sprintf("<%d open ports>", t.len())
}
