// Package wrapper implements the DLMS Wrapper transport profile: an 8-byte header framing layer used instead
// of HDLC when the meter is reachable over plain TCP/IP.
package wrapper

import (
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/u9n/dlms-cosem/base"
)

const (
	wrapperVersion = 1
	headerSize     = 8
	maxPayload     = 65535
)

// wrapper frames application PDUs with the fixed 8-byte wrapper header
// (version, source wport, destination wport, length). Writes are buffered
// until the next Read, which flushes the pending frame and then demands
// the response header before yielding payload bytes.
type wrapper struct {
	transport   base.Stream
	logger      *zap.SugaredLogger
	source      uint16
	destination uint16
	buffer      []byte
	remaining   int
	expectResp  bool
	toWrite     int
}

// New wraps transport with wrapper framing. source and destination are the
// WPORT logical addresses carried in every header.
func New(transport base.Stream, source, destination uint16) base.Stream {
	return &wrapper{
		transport:   transport,
		source:      source,
		destination: destination,
		buffer:      make([]byte, 2048),
	}
}

func (w *wrapper) logf(format string, v ...any) {
	if w.logger != nil {
		w.logger.Infof(format, v...)
	}
}

func (w *wrapper) Open() error {
	w.logf("opening wrapper transport source=%d destination=%d", w.source, w.destination)
	return w.transport.Open()
}

func (w *wrapper) Close() error      { return w.transport.Close() }
func (w *wrapper) Disconnect() error { return w.transport.Disconnect() }

func (w *wrapper) SetMaxReceivedBytes(m int64)  { w.transport.SetMaxReceivedBytes(m) }
func (w *wrapper) SetTimeout(t time.Duration)   { w.transport.SetTimeout(t) }
func (w *wrapper) SetDeadline(t time.Time)      { w.transport.SetDeadline(t) }
func (w *wrapper) GetRxTxBytes() (int64, int64) { return w.transport.GetRxTxBytes() }

func (w *wrapper) SetLogger(logger *zap.SugaredLogger) {
	w.logger = logger
	w.transport.SetLogger(logger)
}

// Write buffers src behind the wrapper header, which is only finalized and
// flushed on the next Read (the length field needs the full frame size).
func (w *wrapper) Write(src []byte) error {
	if len(src) == 0 {
		return nil
	}
	if w.toWrite+len(src) > maxPayload+headerSize {
		return fmt.Errorf("wrapper: frame too large: size=%d max=%d", w.toWrite+len(src), maxPayload+headerSize)
	}
	for w.remaining > 0 {
		n, err := w.transport.Read(w.buffer)
		w.remaining -= n
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("wrapper: draining unread response yielded no data")
		}
	}
	if w.toWrite == 0 {
		w.buffer[0] = 0
		w.buffer[1] = wrapperVersion
		w.buffer[2] = byte(w.source >> 8)
		w.buffer[3] = byte(w.source)
		w.buffer[4] = byte(w.destination >> 8)
		w.buffer[5] = byte(w.destination)
		w.toWrite = headerSize
	}
	if w.toWrite+len(src) > len(w.buffer) {
		grown := make([]byte, w.toWrite+len(src))
		copy(grown, w.buffer[:w.toWrite])
		w.buffer = grown
	}
	copy(w.buffer[w.toWrite:], src)
	w.toWrite += len(src)
	w.expectResp = true
	return nil
}

func (w *wrapper) flush() error {
	if w.toWrite == 0 {
		return fmt.Errorf("wrapper: flush called with nothing buffered")
	}
	w.buffer[6] = byte((w.toWrite - headerSize) >> 8)
	w.buffer[7] = byte(w.toWrite - headerSize)
	if err := w.transport.Write(w.buffer[:w.toWrite]); err != nil {
		return err
	}
	w.toWrite = 0
	return nil
}

// Read flushes any pending write, reads and validates the response header,
// then tolerates short reads across the declared payload length.
func (w *wrapper) Read(p []byte) (int, error) {
	if w.expectResp {
		if err := w.flush(); err != nil {
			return 0, err
		}
		if _, err := io.ReadFull(w.transport, w.buffer[:headerSize]); err != nil {
			return 0, err
		}
		if w.buffer[0] != 0 || w.buffer[1] != wrapperVersion {
			return 0, fmt.Errorf("wrapper: invalid header version")
		}
		rsrc := uint16(w.buffer[2])<<8 | uint16(w.buffer[3])
		rdst := uint16(w.buffer[4])<<8 | uint16(w.buffer[5])
		if rsrc != w.destination || rdst != w.source {
			return 0, fmt.Errorf("wrapper: unexpected source/destination in response header")
		}
		w.remaining = int(uint16(w.buffer[6])<<8 | uint16(w.buffer[7]))
		w.expectResp = false
	}
	if len(p) == 0 {
		return 0, base.ErrNothingToRead
	}
	if w.remaining == 0 {
		return 0, io.EOF
	}
	n := len(p)
	if n > w.remaining {
		n = w.remaining
	}
	n, err := w.transport.Read(p[:n])
	w.remaining -= n
	return n, err
}
