package common

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strings"
)

var ErrTruncated = errors.New("packet truncated")

type Packet struct {
	SrcPort    uint16
	DstPort    uint16
	Seq        uint32
	Ack        uint32
	DataOffset uint8 // only the low 4 bits are sent
	Flags      Flags
	Window     uint16
	Checksum   uint16
	Urgent     uint16
	Data       []byte
}

func (f Flags) Has(flag Flags) bool {
	return f&flag != 0
}

func (f Flags) With(flag Flags) Flags {
	return f | flag
}

func (f Flags) String() string {
	names := make([]string, 0, 3)
	if f.Has(FlagSYN) {
		names = append(names, "SYN")
	}
	if f.Has(FlagFIN) {
		names = append(names, "FIN")
	}
	if f.Has(FlagACK) {
		names = append(names, "ACK")
	}
	if len(names) == 0 {
		return "DATA"
	}
	return strings.Join(names, "|")
}

func PacketFromBytes(bytes []byte) (*Packet, error) {
	if len(bytes) < HeaderSize {
		return nil, fmt.Errorf("%w: got %d bytes, need %d", ErrTruncated, len(bytes), HeaderSize)
	}

	combined := binary.BigEndian.Uint16(bytes[12:14])
	pck := &Packet{
		SrcPort:    binary.BigEndian.Uint16(bytes[0:2]),
		DstPort:    binary.BigEndian.Uint16(bytes[2:4]),
		Seq:        binary.BigEndian.Uint32(bytes[4:8]),
		Ack:        binary.BigEndian.Uint32(bytes[8:12]),
		DataOffset: uint8(combined >> offsetShift),
		Flags:      Flags(combined) & flagMask,
		Window:     binary.BigEndian.Uint16(bytes[14:16]),
		Checksum:   binary.BigEndian.Uint16(bytes[16:18]),
		Urgent:     binary.BigEndian.Uint16(bytes[18:20]),
	}
	// TODO: parse options once DataOffset can be non-zero
	if len(bytes) > HeaderSize {
		pck.Data = make([]byte, len(bytes)-HeaderSize)
		copy(pck.Data, bytes[HeaderSize:])
	}
	return pck, nil
}

func (pck *Packet) ToBytes() []byte {
	arr := make([]byte, HeaderSize+len(pck.Data))
	binary.BigEndian.PutUint16(arr[0:2], pck.SrcPort)
	binary.BigEndian.PutUint16(arr[2:4], pck.DstPort)
	binary.BigEndian.PutUint32(arr[4:8], pck.Seq)
	binary.BigEndian.PutUint32(arr[8:12], pck.Ack)
	combined := uint16(pck.DataOffset&0x0F)<<offsetShift | uint16(pck.Flags&flagMask)
	binary.BigEndian.PutUint16(arr[12:14], combined)
	binary.BigEndian.PutUint16(arr[14:16], pck.Window)
	binary.BigEndian.PutUint16(arr[16:18], pck.Checksum)
	binary.BigEndian.PutUint16(arr[18:20], pck.Urgent)
	copy(arr[HeaderSize:], pck.Data)

	return arr
}

func (pck *Packet) String() string {
	return fmt.Sprintf("%v(seq=%d, ack=%d, len=%d)", pck.Flags, pck.Seq, pck.Ack, len(pck.Data))
}

func (pck *Packet) IsSyn() bool { return pck.Flags.Has(FlagSYN) }
func (pck *Packet) IsAck() bool { return pck.Flags.Has(FlagACK) }
func (pck *Packet) IsFin() bool { return pck.Flags.Has(FlagFIN) }

// ValidChecksum always reports true; checksums are not computed yet.
func (pck *Packet) ValidChecksum() bool {
	return true
}

// ComputeChecksum is the send-side counterpart of ValidChecksum.
func ComputeChecksum(*Packet) uint16 {
	return 0
}

// HeaderLength is the value sent in the data offset nibble. Options are not
// supported, so it is always 0.
func HeaderLength() uint8 {
	return 0
}

// SynSeq returns the peer's sequence number if pck is a plain SYN.
func (pck *Packet) SynSeq() (uint32, bool) {
	if pck.IsSyn() && !pck.IsAck() {
		return pck.Seq, true
	}
	return 0, false
}

// AckSeq returns the peer's sequence number if pck acknowledges expected.
func (pck *Packet) AckSeq(expected uint32) (uint32, bool) {
	if pck.AcksTo(expected) {
		return pck.Seq, true
	}
	return 0, false
}

func (pck *Packet) SynAckSeq(expected uint32) (uint32, bool) {
	if pck.IsSyn() && pck.AcksTo(expected) {
		return pck.Seq, true
	}
	return 0, false
}

func (pck *Packet) FinAckSeq(expected uint32) (uint32, bool) {
	if pck.IsFin() && pck.AcksTo(expected) {
		return pck.Seq, true
	}
	return 0, false
}

func (pck *Packet) AcksTo(expected uint32) bool {
	return pck.IsAck() && pck.Ack == expected
}

// Header holds the port pair stamped on every outgoing packet of one
// connection. Ports are informational only.
type Header struct {
	SrcPort uint16
	DstPort uint16
}

func NewHeader(local, remote net.Addr) Header {
	return Header{
		SrcPort: portOf(local),
		DstPort: portOf(remote),
	}
}

func portOf(addr net.Addr) uint16 {
	if udp, ok := addr.(*net.UDPAddr); ok {
		return uint16(udp.Port)
	}
	return 0
}

func (h Header) packet(seq, ack uint32, flags Flags, data []byte) *Packet {
	pck := &Packet{
		SrcPort:    h.SrcPort,
		DstPort:    h.DstPort,
		Seq:        seq,
		Ack:        ack,
		DataOffset: HeaderLength(),
		Flags:      flags,
		Window:     WindowSize,
		Data:       data,
	}
	pck.Checksum = ComputeChecksum(pck)
	return pck
}

func (h Header) Syn(seq uint32) *Packet {
	return h.packet(seq, 0, FlagSYN, nil)
}

func (h Header) SynAck(seq, ack uint32) *Packet {
	return h.packet(seq, ack, FlagSYN.With(FlagACK), nil)
}

func (h Header) Ack(seq, ack uint32) *Packet {
	return h.packet(seq, ack, FlagACK, nil)
}

func (h Header) Fin(seq uint32) *Packet {
	return h.packet(seq, 0, FlagFIN, nil)
}

func (h Header) FinAck(seq, ack uint32) *Packet {
	return h.packet(seq, ack, FlagFIN.With(FlagACK), nil)
}

func (h Header) Data(seq uint32, data []byte) *Packet {
	return h.packet(seq, 0, 0, data)
}
