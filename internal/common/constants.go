package common

// MaxPacketSize is the receive buffer capacity, a generous upper bound for any
// datagram this module produces.
const MaxPacketSize = 2048

const (
	HeaderSize int = 2 + 2 + 4 + 4 + 2 + 2 + 2 + 2
	ChunkSize  int = 1024
)

// WindowSize is advertised in every packet but never interpreted by the peer.
const WindowSize uint16 = MaxPacketSize

const offsetShift = 12

type Flags uint16

const (
	FlagFIN Flags = 1 << 0
	FlagSYN Flags = 1 << 1
	FlagACK Flags = 1 << 4

	flagMask Flags = 1<<offsetShift - 1
)
