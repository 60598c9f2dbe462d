package server

import (
	"errors"
	"net"

	"github.com/Pablu23/Utcp/internal/common"
)

var (
	errAlreadyRegistered = errors.New("connection already registered")
	errNotRegistered     = errors.New("connection not registered")
)

// handle is what the dispatcher keeps of a running connection: where to
// deliver its packets and where its result will appear.
type handle struct {
	inbox chan *common.Packet
	done  chan error
}

// registry maps peer addresses to live connections. It is owned by the
// dispatcher goroutine and must not be touched from anywhere else.
type registry struct {
	conns map[string]*handle
}

func newRegistry() *registry {
	return &registry{conns: make(map[string]*handle)}
}

func (r *registry) get(addr net.Addr) (*handle, bool) {
	h, ok := r.conns[addr.String()]
	return h, ok
}

func (r *registry) insert(addr net.Addr, h *handle) error {
	key := addr.String()
	if _, ok := r.conns[key]; ok {
		return errAlreadyRegistered
	}
	r.conns[key] = h
	return nil
}

func (r *registry) remove(addr net.Addr) (*handle, error) {
	key := addr.String()
	h, ok := r.conns[key]
	if !ok {
		return nil, errNotRegistered
	}
	delete(r.conns, key)
	return h, nil
}

func (r *registry) len() int {
	return len(r.conns)
}
