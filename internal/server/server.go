package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Pablu23/Utcp/internal/common"
)

const (
	// readErrorPause is how long the receive loop waits after a socket error
	// before reading again.
	readErrorPause = 10 * time.Millisecond
	// maxReadErrors consecutive socket errors stop the server.
	maxReadErrors = 50
)

type eventKind int

const (
	eventReceive eventKind = iota
	eventClose
)

type event struct {
	kind   eventKind
	addr   net.Addr
	packet *common.Packet
}

// Server accepts connections from any number of peers on one UDP socket.
// A single goroutine reads the socket, a second one routes packets to one
// goroutine per peer.
type Server struct {
	socket  *common.PacketSocket
	options *Options
	events  chan event

	live  atomic.Int64
	conns sync.WaitGroup
}

func New(conn net.PacketConn, opts ...func(*Options)) *Server {
	options := NewDefaultOptions()

	for _, opt := range opts {
		opt(options)
	}

	if options.InboxSize <= 0 {
		options.InboxSize = 1
	}
	if options.EventQueueSize <= 0 {
		options.EventQueueSize = 1
	}

	return &Server{
		socket:  common.NewPacketSocket(conn),
		options: options,
		events:  make(chan event, options.EventQueueSize),
	}
}

func Listen(address string, opts ...func(*Options)) (*Server, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}

	return New(conn, opts...), nil
}

func (server *Server) Addr() net.Addr {
	return server.socket.LocalAddr()
}

// Live returns the number of connections in the registry.
func (server *Server) Live() int {
	return int(server.live.Load())
}

// Serve runs until ctx is cancelled or the socket fails. It closes the socket
// before returning and waits for every connection goroutine to exit.
func (server *Server) Serve(ctx context.Context) error {
	log.WithField("Address", server.Addr()).Info("Started listening")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.receiveLoop(ctx)
	})
	g.Go(func() error {
		return server.dispatch(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		return server.socket.Close()
	})

	err := g.Wait()
	server.conns.Wait()
	log.Info("Server stopped")

	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (server *Server) receiveLoop(ctx context.Context) error {
	failures := 0
	for {
		pck, addr, err := server.socket.ReceiveFrom()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			if errors.Is(err, common.ErrTruncated) {
				server.options.Metrics.DecodeError()
				log.WithError(err).WithField("Peer", addr).Warn("Received invalid Packet")
				continue
			}
			failures++
			if failures >= maxReadErrors {
				return fmt.Errorf("giving up after %d read errors: %w", failures, err)
			}
			log.WithError(err).Error("Could not retrieve UDP Packet")
			select {
			case <-time.After(readErrorPause):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		failures = 0
		if pck == nil {
			log.WithField("Peer", addr).Debug("Dropping Packet with invalid checksum")
			continue
		}
		server.options.Metrics.PacketReceived()

		select {
		case server.events <- event{kind: eventReceive, addr: addr, packet: pck}:
		case <-ctx.Done():
			return nil
		}
	}
}

func (server *Server) dispatch(ctx context.Context) error {
	connections := newRegistry()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-server.events:
			switch ev.kind {
			case eventReceive:
				server.deliver(ctx, connections, ev.addr, ev.packet)
			case eventClose:
				server.reap(connections, ev.addr)
			}
		}
	}
}

func (server *Server) deliver(ctx context.Context, connections *registry, addr net.Addr, pck *common.Packet) {
	h, ok := connections.get(addr)
	if !ok {
		h = server.spawn(ctx, addr)
		if err := connections.insert(addr, h); err != nil {
			log.WithError(err).WithField("Peer", addr).Error("Registry is inconsistent")
			return
		}
		server.live.Store(int64(connections.len()))
	}

	select {
	case h.inbox <- pck:
	default:
		server.options.Metrics.Dropped()
		log.WithField("Peer", addr).Debug("Inbox full, dropping Packet")
	}
}

func (server *Server) spawn(ctx context.Context, addr net.Addr) *handle {
	h := &handle{
		inbox: make(chan *common.Packet, server.options.InboxSize),
		done:  make(chan error, 1),
	}
	conn := newConnection(server.socket, server.options, addr, h.inbox)

	server.options.Metrics.ConnectionOpened()
	log.WithField("Peer", addr).Info("New connection")

	server.conns.Add(1)
	go func() {
		defer server.conns.Done()

		h.done <- conn.run(ctx)

		select {
		case server.events <- event{kind: eventClose, addr: addr}:
		case <-ctx.Done():
		}
	}()

	return h
}

func (server *Server) reap(connections *registry, addr net.Addr) {
	h, err := connections.remove(addr)
	if err != nil {
		log.WithError(err).WithField("Peer", addr).Error("Close for unknown connection")
		return
	}
	server.live.Store(int64(connections.len()))

	err = <-h.done
	server.options.Metrics.ConnectionClosed(err)
	if err != nil {
		log.WithError(err).WithField("Peer", addr).Warn("Connection errored")
	} else {
		log.WithField("Peer", addr).Info("Connection closed")
	}

	if server.options.OnClose != nil {
		server.options.OnClose(addr, err)
	}
}
