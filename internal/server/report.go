package server

import (
	"fmt"
	"net"
	"strconv"
	"unicode/utf8"

	"github.com/pterm/pterm"
	log "github.com/sirupsen/logrus"
)

// Reporter receives human readable status lines about one peer.
type Reporter interface {
	Report(peer net.Addr, message string)
}

type LogReporter struct{}

func (LogReporter) Report(peer net.Addr, message string) {
	log.WithField("Peer", peer).Info(message)
}

// ConsolePrinter writes reports to stdout, prefixed with the peer address.
type ConsolePrinter struct{}

func (ConsolePrinter) Report(peer net.Addr, message string) {
	pterm.Printfln("[%v]: %s", peer, message)
}

func describePayload(data []byte) string {
	if utf8.Valid(data) {
		return strconv.Quote(string(data))
	}
	return fmt.Sprintf("<%d bytes of binary data>", len(data))
}
