package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Pablu23/Utcp/internal/common"
)

var ErrIdleTimeout = errors.New("peer stopped responding")

// Client is the initiating side of a connection. It is strictly sequential:
// every method blocks until its phase is complete or the socket fails.
type Client struct {
	socket  *common.Socket
	header  common.Header
	options *Options

	state common.State
	seq   uint32 // next byte we send
	ack   uint32 // next byte we expect from the peer

	handshakeAck *common.Packet
	lastSeen     time.Time
}

func New(conn net.Conn, opts ...func(*Options)) *Client {
	options := NewDefaultOptions()

	for _, opt := range opts {
		opt(options)
	}

	if options.ChunkSize <= 0 || options.ChunkSize > common.ChunkSize {
		options.ChunkSize = common.ChunkSize
	}

	seq := options.InitialSeq
	if options.RandomizeSeq {
		seq = uint32(rand.Intn(1000))
	}

	return &Client{
		socket:   common.NewSocket(conn),
		header:   common.NewHeader(conn.LocalAddr(), conn.RemoteAddr()),
		options:  options,
		state:    common.Idle,
		seq:      seq,
		lastSeen: time.Now(),
	}
}

func Dial(address string, opts ...func(*Options)) (*Client, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, err
	}

	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, err
	}

	return New(conn, opts...), nil
}

func (client *Client) State() common.State { return client.state }
func (client *Client) Seq() uint32         { return client.seq }
func (client *Client) Ack() uint32         { return client.ack }

// Close releases the socket. Closing a client whose context was already
// cancelled is not an error.
func (client *Client) Close() error {
	if err := client.socket.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// watch closes the socket once ctx is done, which wakes a blocked read.
// The returned function stops watching.
func (client *Client) watch(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, func() {
		client.socket.Close()
	})
}

func (client *Client) log() *log.Entry {
	return log.WithFields(log.Fields{
		"Peer":  client.socket.RemoteAddr(),
		"State": client.state,
	})
}

// Run performs the whole session: handshake, one segment per chunk of r,
// and teardown. Cancelling ctx aborts the session and closes the socket.
func (client *Client) Run(ctx context.Context, r io.Reader) error {
	defer client.watch(ctx)()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	chunks := common.NewChunkReader(r, client.options.ChunkSize)
	for {
		chunk, err := chunks.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := client.SendChunk(ctx, chunk); err != nil {
			return fmt.Errorf("sending segment %d: %w", client.seq, err)
		}
	}

	if err := client.Terminate(ctx); err != nil {
		return fmt.Errorf("teardown: %w", err)
	}
	return nil
}

func (client *Client) Connect(ctx context.Context) error {
	defer client.watch(ctx)()
	client.state = common.Handshaking
	syn := client.header.Syn(client.seq)

	var peerSeq uint32
	for retransmit := false; ; retransmit = true {
		if err := client.send(ctx, syn, retransmit); err != nil {
			return err
		}

		pck, err := client.receive(ctx)
		if err != nil {
			return err
		}
		if pck == nil {
			continue
		}

		if seq, ok := pck.SynAckSeq(client.seq + 1); ok {
			peerSeq = seq
			break
		}
		client.log().WithField("Packet", pck).Debug("Ignoring packet")
	}

	client.seq++
	client.ack = peerSeq + 1
	client.handshakeAck = client.header.Ack(client.seq, client.ack)
	if err := client.send(ctx, client.handshakeAck, false); err != nil {
		return err
	}

	client.state = common.Established
	client.log().Info("Connection established")
	return nil
}

func (client *Client) SendChunk(ctx context.Context, chunk []byte) error {
	if client.state != common.Established {
		return fmt.Errorf("can not send data while %v", client.state)
	}
	defer client.watch(ctx)()

	expected := client.seq + uint32(len(chunk))
	data := client.header.Data(client.seq, chunk)

	for retransmit := false; ; retransmit = true {
		if err := client.send(ctx, data, retransmit); err != nil {
			return err
		}

		pck, err := client.receive(ctx)
		if err != nil {
			return err
		}
		if pck == nil {
			continue
		}

		if pck.AcksTo(expected) {
			break
		}
		if err := client.answerDuplicate(ctx, pck); err != nil {
			return err
		}
	}

	client.seq = expected
	return nil
}

// answerDuplicate repeats the handshake ACK when the peer is still
// retransmitting its SYN+ACK, which means our ACK was lost.
func (client *Client) answerDuplicate(ctx context.Context, pck *common.Packet) error {
	if client.handshakeAck == nil {
		return nil
	}
	if seq, ok := pck.SynAckSeq(client.handshakeAck.Seq); ok && seq+1 == client.handshakeAck.Ack {
		client.log().Debug("Repeating handshake acknowledge")
		return client.send(ctx, client.handshakeAck, true)
	}
	client.log().WithField("Packet", pck).Debug("Ignoring packet")
	return nil
}

func (client *Client) Terminate(ctx context.Context) error {
	if client.state != common.Established {
		return fmt.Errorf("can not close connection while %v", client.state)
	}
	defer client.watch(ctx)()
	client.state = common.Closing
	fin := client.header.Fin(client.seq)

	var peerSeq uint32
	for retransmit := false; ; retransmit = true {
		if err := client.send(ctx, fin, retransmit); err != nil {
			return err
		}

		pck, err := client.receive(ctx)
		if err != nil {
			return err
		}
		if pck == nil {
			continue
		}

		if seq, ok := pck.FinAckSeq(client.seq + 1); ok {
			peerSeq = seq
			break
		}
		if err := client.answerDuplicate(ctx, pck); err != nil {
			return err
		}
	}

	client.seq++
	client.ack = peerSeq + 1
	final := client.header.Ack(client.seq, client.ack)
	if err := client.send(ctx, final, false); err != nil {
		return err
	}

	client.state = common.Closed
	client.log().Info("Connection closed")
	client.linger(ctx, final, peerSeq)
	return nil
}

// linger answers FIN+ACKs the peer repeats because it did not see our final
// ACK. It returns once the peer has been quiet for Linger.
func (client *Client) linger(ctx context.Context, final *common.Packet, peerSeq uint32) {
	if client.options.Linger <= 0 {
		return
	}

	deadline := time.Now().Add(client.options.Linger)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}

		pck, err := client.socket.Receive(remaining)
		if err != nil {
			client.log().WithError(err).Debug("Stopped lingering")
			return
		}
		if pck == nil {
			continue
		}
		client.options.Metrics.PacketReceived()

		if seq, ok := pck.FinAckSeq(final.Seq); ok && seq == peerSeq {
			if err := client.send(ctx, final, true); err != nil {
				client.log().WithError(err).Debug("Stopped lingering")
				return
			}
			deadline = time.Now().Add(client.options.Linger)
		}
	}
}

func (client *Client) send(ctx context.Context, pck *common.Packet, retransmit bool) error {
	if err := client.socket.Send(pck); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	client.options.Metrics.PacketSent(retransmit)
	return nil
}

// receive returns the next packet, or nil when the retransmission interval
// elapsed without one.
func (client *Client) receive(ctx context.Context) (*common.Packet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	timeout := client.options.RetransmitTimeout
	idle := client.options.IdleTimeout
	if idle > 0 {
		remaining := idle - time.Since(client.lastSeen)
		if remaining <= 0 {
			return nil, ErrIdleTimeout
		}
		if timeout <= 0 || remaining < timeout {
			timeout = remaining
		}
	}

	pck, err := client.socket.Receive(timeout)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if pck == nil {
		if idle > 0 && time.Since(client.lastSeen) >= idle {
			return nil, ErrIdleTimeout
		}
		return nil, nil
	}

	client.lastSeen = time.Now()
	client.options.Metrics.PacketReceived()
	return pck, nil
}
