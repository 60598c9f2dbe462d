package server

import (
	"net"
	"time"

	"github.com/Pablu23/Utcp/internal/metrics"
)

// Options tunes the timers around the stop-and-wait loops. With
// RetransmitTimeout and IdleTimeout both zero every phase blocks until the
// peer's next packet arrives, with no timer of any kind.
type Options struct {
	// RetransmitTimeout is how long a connection waits for an answer before
	// sending its current packet again. Zero waits forever.
	RetransmitTimeout time.Duration
	// IdleTimeout fails a connection that received nothing for this long.
	// Zero disables it.
	IdleTimeout time.Duration

	InboxSize      int
	EventQueueSize int

	Reporter Reporter
	OnData   func(peer net.Addr, data []byte)
	OnClose  func(peer net.Addr, err error)

	Metrics *metrics.Metrics
}

func NewDefaultOptions() *Options {
	return &Options{
		RetransmitTimeout: 200 * time.Millisecond,
		IdleTimeout:       30 * time.Second,
		InboxSize:         64,
		EventQueueSize:    1024,
		Reporter:          LogReporter{},
	}
}
