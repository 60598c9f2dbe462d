package server

import (
	"bytes"
	"context"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/kelindar/bitmap"

	"github.com/Pablu23/Utcp/internal/client"
)

// dropper decides which writes never reach the wire. Writes are numbered
// from zero in the order they happen.
type dropper struct {
	drops   bitmap.Bitmap
	writes  atomic.Uint32
	dropped atomic.Uint32
}

func dropEvery(n, offset int, limit uint32) *dropper {
	d := &dropper{}
	for i := uint32(offset); i < limit; i += uint32(n) {
		d.drops.Set(i)
	}
	return d
}

func (d *dropper) drop() bool {
	i := d.writes.Add(1) - 1
	if d.drops.Contains(i) {
		d.dropped.Add(1)
		return true
	}
	return false
}

type lossyPacketConn struct {
	net.PacketConn
	*dropper
}

func (c lossyPacketConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	if c.drop() {
		return len(b), nil
	}
	return c.PacketConn.WriteTo(b, addr)
}

type lossyConn struct {
	net.Conn
	*dropper
}

func (c lossyConn) Write(b []byte) (int, error) {
	if c.drop() {
		return len(b), nil
	}
	return c.Conn.Write(b)
}

func randomPayload(t *testing.T, seed int64, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.New(rand.NewSource(seed)).Read(b); err != nil {
		t.Fatalf("generating payload: %v", err)
	}
	return b
}

func transferOptions(o *client.Options) {
	o.RetransmitTimeout = 20 * time.Millisecond
	o.IdleTimeout = 10 * time.Second
	o.Linger = 200 * time.Millisecond
}

// waitCleanCloses collects close events until want connections ended without
// error. Closes of connections opened by late duplicates are skipped.
func (h *harness) waitCleanCloses(want int) map[string]bool {
	h.t.Helper()
	clean := make(map[string]bool)
	timeout := time.After(20 * time.Second)
	for len(clean) < want {
		select {
		case c := <-h.closes:
			if c.err == nil {
				if clean[c.peer] {
					h.t.Errorf("%s closed cleanly twice", c.peer)
				}
				clean[c.peer] = true
			}
		case <-timeout:
			h.t.Fatalf("%d of %d connections closed cleanly", len(clean), want)
		}
	}
	return clean
}

func TestTransfer(t *testing.T) {
	h := startServer(t, func(o *Options) {
		o.RetransmitTimeout = 20 * time.Millisecond
	})

	conn, err := net.DialUDP("udp", nil, h.server.Addr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	c := client.New(conn, transferOptions)
	defer c.Close()

	payload := randomPayload(t, 1, 10*1024+17)
	if err := c.Run(context.Background(), bytes.NewReader(payload)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	h.waitCleanCloses(1)
	if diff := cmp.Diff(payload, h.received(conn.LocalAddr())); diff != "" {
		t.Errorf("reconstructed stream differs (-want +got):\n%s", diff)
	}
}

func TestTransferOverLossyLink(t *testing.T) {
	serverLoss := dropEvery(4, 1, 10000)
	h := startServerOn(t, lossyPacketConn{PacketConn: listenLoopback(t), dropper: serverLoss}, func(o *Options) {
		o.RetransmitTimeout = 20 * time.Millisecond
	})

	udp, err := net.DialUDP("udp", nil, h.server.Addr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	clientLoss := dropEvery(3, 0, 10000)
	c := client.New(lossyConn{Conn: udp, dropper: clientLoss}, transferOptions, func(o *client.Options) {
		o.ChunkSize = 512
	})
	defer c.Close()

	payload := randomPayload(t, 2, 8*1024+300)
	if err := c.Run(context.Background(), bytes.NewReader(payload)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	h.waitCleanCloses(1)
	if diff := cmp.Diff(payload, h.received(udp.LocalAddr())); diff != "" {
		t.Errorf("reconstructed stream differs (-want +got):\n%s", diff)
	}
	if clientLoss.dropped.Load() == 0 || serverLoss.dropped.Load() == 0 {
		t.Errorf("link dropped %d client and %d server packets, want both non-zero",
			clientLoss.dropped.Load(), serverLoss.dropped.Load())
	}
}

func TestConcurrentTransfers(t *testing.T) {
	h := startServer(t, func(o *Options) {
		o.RetransmitTimeout = 20 * time.Millisecond
	})

	const peers = 5
	payloads := make(map[string][]byte)
	var wg sync.WaitGroup
	errs := make(chan error, peers)

	for i := 0; i < peers; i++ {
		conn, err := net.DialUDP("udp", nil, h.server.Addr().(*net.UDPAddr))
		if err != nil {
			t.Fatalf("DialUDP: %v", err)
		}
		c := client.New(conn, transferOptions)
		defer c.Close()

		payload := randomPayload(t, int64(10+i), 3*1024+i*111)
		payloads[conn.LocalAddr().String()] = payload

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Run(context.Background(), bytes.NewReader(payload)); err != nil {
				errs <- err
			}
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Run: %v", err)
	}

	clean := h.waitCleanCloses(peers)
	for peer, payload := range payloads {
		if !clean[peer] {
			t.Errorf("%s did not close cleanly", peer)
		}
		h.mu.Lock()
		got := h.data[peer]
		h.mu.Unlock()
		if !bytes.Equal(payload, got) {
			t.Errorf("%s: reconstructed %d bytes, want %d", peer, len(got), len(payload))
		}
	}
}
