package server

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Pablu23/Utcp/internal/common"
)

var (
	ErrUnexpectedPacket = errors.New("unexpected packet")
	ErrIdleTimeout      = errors.New("peer stopped responding")
)

// connection is the responding side of one peer's session. All of its state
// is private to the goroutine running it.
type connection struct {
	socket  *common.PacketSocket
	options *Options
	addr    net.Addr
	header  common.Header
	inbox   <-chan *common.Packet

	state    common.State
	seq      uint32 // next byte we send
	ack      uint32 // next byte we expect from the peer
	lastSeen time.Time
}

func newConnection(socket *common.PacketSocket, options *Options, addr net.Addr, inbox <-chan *common.Packet) *connection {
	return &connection{
		socket:   socket,
		options:  options,
		addr:     addr,
		header:   common.NewHeader(socket.LocalAddr(), addr),
		inbox:    inbox,
		state:    common.Idle,
		lastSeen: time.Now(),
	}
}

func (conn *connection) log() *log.Entry {
	return log.WithFields(log.Fields{
		"Peer":  conn.addr,
		"State": conn.state,
	})
}

func (conn *connection) run(ctx context.Context) error {
	if err := conn.start(ctx); err != nil {
		return err
	}

	for {
		data, fin, err := conn.receiveChunk(ctx)
		if err != nil {
			return err
		}
		if fin {
			break
		}
		conn.deliver(data)
	}
	conn.report("received fin")

	return conn.terminate(ctx)
}

func (conn *connection) start(ctx context.Context) error {
	pck, err := conn.receive(ctx, false)
	if err != nil {
		return err
	}
	peerSeq, ok := pck.SynSeq()
	if !ok {
		return fmt.Errorf("%w: expected SYN, got %v", ErrUnexpectedPacket, pck)
	}

	conn.state = common.Handshaking
	isn := uint32(rand.Intn(1000))
	ack := peerSeq + 1
	synAck := conn.header.SynAck(isn, ack)

	for retransmit := false; ; retransmit = true {
		if err := conn.send(synAck, retransmit); err != nil {
			return err
		}

		pck, err := conn.receive(ctx, true)
		if err != nil {
			return err
		}
		if pck == nil {
			continue
		}

		if seq, ok := pck.AckSeq(isn + 1); ok && seq == ack {
			break
		}
		conn.log().WithField("Packet", pck).Debug("Ignoring packet")
	}

	conn.seq = isn + 1
	conn.ack = ack
	conn.state = common.Established
	conn.log().Info("Connection established")
	return nil
}

// receiveChunk acknowledges everything received so far until the peer sends
// the segment starting at conn.ack. It returns that segment's payload, or
// fin if the segment was a FIN.
func (conn *connection) receiveChunk(ctx context.Context) ([]byte, bool, error) {
	ackPck := conn.header.Ack(conn.seq, conn.ack)

	for retransmit := false; ; retransmit = true {
		if err := conn.send(ackPck, retransmit); err != nil {
			return nil, false, err
		}

		pck, err := conn.receive(ctx, true)
		if err != nil {
			return nil, false, err
		}
		if pck == nil {
			continue
		}

		if pck.Seq != conn.ack {
			conn.log().WithFields(log.Fields{
				"Expected": conn.ack,
				"Received": pck.Seq,
			}).Debug("Ignoring out of order segment")
			continue
		}
		if pck.IsFin() {
			return nil, true, nil
		}
		if len(pck.Data) == 0 {
			continue
		}

		conn.ack += uint32(len(pck.Data))
		return pck.Data, false, nil
	}
}

func (conn *connection) terminate(ctx context.Context) error {
	conn.state = common.Closing
	finAck := conn.header.FinAck(conn.seq, conn.ack+1)

	for retransmit := false; ; retransmit = true {
		if err := conn.send(finAck, retransmit); err != nil {
			return err
		}

		pck, err := conn.receive(ctx, true)
		if err != nil {
			return err
		}
		if pck == nil {
			continue
		}

		if seq, ok := pck.AckSeq(conn.seq + 1); ok && seq == conn.ack+1 {
			break
		}
		conn.log().WithField("Packet", pck).Debug("Ignoring packet")
	}

	conn.seq++
	conn.ack++
	conn.state = common.Closed
	return nil
}

func (conn *connection) deliver(data []byte) {
	conn.options.Metrics.PayloadReceived(len(data))
	if conn.options.OnData != nil {
		conn.options.OnData(conn.addr, data)
	}
	conn.report(describePayload(data))
}

func (conn *connection) report(message string) {
	if conn.options.Reporter != nil {
		conn.options.Reporter.Report(conn.addr, message)
	}
}

func (conn *connection) send(pck *common.Packet, retransmit bool) error {
	if err := conn.socket.SendTo(pck, conn.addr); err != nil {
		return err
	}
	conn.options.Metrics.PacketSent(retransmit)
	return nil
}

// receive waits for the next packet from the inbox. With retransmit set it
// returns nil once RetransmitTimeout passes, so the caller sends again.
func (conn *connection) receive(ctx context.Context, retransmit bool) (*common.Packet, error) {
	var tick <-chan time.Time
	if retransmit && conn.options.RetransmitTimeout > 0 {
		timer := time.NewTimer(conn.options.RetransmitTimeout)
		defer timer.Stop()
		tick = timer.C
	}

	var idle <-chan time.Time
	if conn.options.IdleTimeout > 0 {
		remaining := conn.options.IdleTimeout - time.Since(conn.lastSeen)
		if remaining <= 0 {
			return nil, ErrIdleTimeout
		}
		timer := time.NewTimer(remaining)
		defer timer.Stop()
		idle = timer.C
	}

	select {
	case pck := <-conn.inbox:
		conn.lastSeen = time.Now()
		return pck, nil
	case <-tick:
		return nil, nil
	case <-idle:
		return nil, ErrIdleTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
