// Package base defines the transport contract and wire-level constants
// shared by every layer of the DLMS/COSEM client stack (codec, APDU
// registry, security, connection state machine, HDLC and wrapper
// framing).
package base

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Stream is the transport contract consumed by the core.
// Concrete byte transports (TCP sockets, serial ports, modems) are
// collaborators implementing this interface; none is part of the core.
type Stream interface {
	io.ReadCloser
	Open() error
	Disconnect() error // hard end of connection, no release/unassociation
	SetLogger(logger *zap.SugaredLogger)
	SetDeadline(t time.Time)    // zero time means no deadline
	SetTimeout(t time.Duration) // zero duration means no timeout
	SetMaxReceivedBytes(m int64)
	Write(src []byte) error // always writes everything or returns an error
	GetRxTxBytes() (int64, int64)
}

// LogHex renders a labeled hex dump of b for frame-level trace logging,
// one line per 16 bytes with offsets and an ASCII gutter.
func LogHex(label string, b []byte) string {
	return fmt.Sprintf("%s (%d):\n%s", label, len(b), strings.TrimRight(hex.Dump(b), "\n"))
}
