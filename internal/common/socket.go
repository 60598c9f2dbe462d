package common

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// Socket sends and receives packets to exactly one peer.
type Socket struct {
	conn   net.Conn
	verify func(*Packet) bool
}

func NewSocket(conn net.Conn) *Socket {
	return &Socket{
		conn:   conn,
		verify: (*Packet).ValidChecksum,
	}
}

func (s *Socket) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *Socket) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

func (s *Socket) Send(pck *Packet) error {
	bytes := pck.ToBytes()
	n, err := s.conn.Write(bytes)
	if err != nil {
		return err
	}
	if n != len(bytes) {
		return fmt.Errorf("%w: wrote %d of %d bytes", io.ErrShortWrite, n, len(bytes))
	}
	return nil
}

// Receive blocks for the next datagram. A nil packet with a nil error means
// nothing usable arrived: the checksum did not validate, or timeout (if
// positive) expired first.
func (s *Socket) Receive(timeout time.Duration) (*Packet, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	buf := make([]byte, MaxPacketSize)
	r, err := s.conn.Read(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, nil
		}
		return nil, err
	}

	pck, err := PacketFromBytes(buf[:r])
	if err != nil {
		return nil, err
	}
	if !s.verify(pck) {
		return nil, nil
	}
	return pck, nil
}

func (s *Socket) Close() error {
	return s.conn.Close()
}

// PacketSocket sends and receives packets tagged with the peer address.
// It is safe for concurrent use by one reader and many writers.
type PacketSocket struct {
	conn   net.PacketConn
	verify func(*Packet) bool
}

func NewPacketSocket(conn net.PacketConn) *PacketSocket {
	return &PacketSocket{
		conn:   conn,
		verify: (*Packet).ValidChecksum,
	}
}

func (s *PacketSocket) LocalAddr() net.Addr { return s.conn.LocalAddr() }

func (s *PacketSocket) SendTo(pck *Packet, addr net.Addr) error {
	bytes := pck.ToBytes()
	n, err := s.conn.WriteTo(bytes, addr)
	if err != nil {
		return err
	}
	if n != len(bytes) {
		return fmt.Errorf("%w: wrote %d of %d bytes to %v", io.ErrShortWrite, n, len(bytes), addr)
	}
	return nil
}

// ReceiveFrom blocks for the next datagram from any peer. The address is
// returned even when decoding fails, so the caller can log it. A nil packet
// with a nil error means the checksum did not validate.
func (s *PacketSocket) ReceiveFrom() (*Packet, net.Addr, error) {
	buf := make([]byte, MaxPacketSize)
	r, addr, err := s.conn.ReadFrom(buf)
	if err != nil {
		return nil, addr, err
	}

	pck, err := PacketFromBytes(buf[:r])
	if err != nil {
		return nil, addr, err
	}
	if !s.verify(pck) {
		return nil, addr, nil
	}
	return pck, addr, nil
}

func (s *PacketSocket) Close() error {
	return s.conn.Close()
}
