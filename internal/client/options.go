package client

import (
	"time"

	"github.com/Pablu23/Utcp/internal/common"
	"github.com/Pablu23/Utcp/internal/metrics"
)

// Options tunes the timers around the stop-and-wait loops. With
// RetransmitTimeout and IdleTimeout both zero every phase blocks until the
// peer's next packet arrives, with no timer of any kind.
type Options struct {
	RandomizeSeq bool
	InitialSeq   uint32
	ChunkSize    int

	// RetransmitTimeout is how long to wait for an answer before sending the
	// current packet again. Zero waits forever.
	RetransmitTimeout time.Duration
	// IdleTimeout aborts the run when nothing arrives for this long. Zero
	// disables it.
	IdleTimeout time.Duration
	// Linger is how long to keep answering duplicate FIN+ACKs after the final
	// ACK was sent. Zero sends the final ACK exactly once.
	Linger time.Duration

	Metrics *metrics.Metrics
}

func NewDefaultOptions() *Options {
	return &Options{
		RandomizeSeq:      true,
		ChunkSize:         common.ChunkSize,
		RetransmitTimeout: 200 * time.Millisecond,
		IdleTimeout:       30 * time.Second,
		Linger:            600 * time.Millisecond,
	}
}
