package ingress

import (
	"net"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type registryEntry struct {
	conn net.Conn
	addr Address
}

// Registry maps live connections to their remote address. An entry exists
// while its session is reading and has not yet observed closure.
type Registry struct {
	mu      sync.Mutex
	clients map[uuid.UUID]registryEntry
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[uuid.UUID]registryEntry),
	}
}

func (r *Registry) Add(id uuid.UUID, conn net.Conn, addr Address) {
	r.addThen(id, conn, addr, nil)
}

func (r *Registry) addThen(id uuid.UUID, conn net.Conn, addr Address, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[id] = registryEntry{conn: conn, addr: addr}
	ConnectedClients.Set(float64(len(r.clients)))
	if fn != nil {
		fn()
	}
}

// Remove reports whether an entry was present. Only the caller that gets
// true may emit the Disconnected event for id.
func (r *Registry) Remove(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[id]; !ok {
		return false
	}
	delete(r.clients, id)
	ConnectedClients.Set(float64(len(r.clients)))
	return true
}

// Snapshot returns registered addresses sorted by their textual form.
func (r *Registry) Snapshot() []Address {
	r.mu.Lock()
	addrs := make([]Address, 0, len(r.clients))
	for _, e := range r.clients {
		addrs = append(addrs, e.addr)
	}
	r.mu.Unlock()

	sort.Slice(addrs, func(i, j int) bool {
		return addrs[i].String() < addrs[j].String()
	})
	return addrs
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// ifActive runs fn under the registry lock if id is still registered.
func (r *Registry) ifActive(id uuid.UUID, fn func(addr Address)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients[id]
	if !ok {
		return false
	}
	fn(e.addr)
	return true
}

// closeAll force-closes every registered connection, calls fn for each and
// empties the registry, all under one lock acquisition.
func (r *Registry) closeAll(fn func(id uuid.UUID, addr Address)) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.clients)
	for id, e := range r.clients {
		_ = e.conn.Close()
		fn(id, e.addr)
	}
	clear(r.clients)
	ConnectedClients.Set(0)
	return n
}
