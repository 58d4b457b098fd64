// Package hdlc implements the IEC 62056-46 HDLC data-link framing
// profile: SNRM/UA negotiation, modulo-8 N(S)/N(R) sequencing, CRC-16/X.25
// header and frame checksums, and outbound/inbound segmentation across
// the negotiated window.
package hdlc

import (
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/u9n/dlms-cosem/base"
	"github.com/u9n/dlms-cosem/dlmserr"
)

const (
	maxBytesBeforeFlag = 100
	maxFrameLength     = 2050
	maxPackets         = 20
	maxReadoutBytes    = 1000000
	initialFrameLength = 2000
	maxRRCycles        = 10
	maxEmptyCycles     = 10
)

// frame is one parsed HDLC frame: a control byte plus its information
// field, with segmented recording whether the sender's format field had the
// segmentation bit set.
type frame struct {
	control   byte
	info      []byte
	segmented bool
}

// Settings configures address negotiation and window sizing for an HDLC
// stream.
type Settings struct {
	Logical  uint16 // upper HDLC address (the server/logical device)
	Physical uint16 // lower HDLC address (0 when unused)
	Client   byte   // client (initiator) address
	MaxRecv  uint   // proposed N(R) info-field size in SNRM
	MaxSend  uint   // proposed N(S) info-field size in SNRM
}

// engine frames application PDUs with HDLC addressing, sequencing and
// checksums over transport, presenting the segmented byte stream as a
// plain base.Stream to callers above it (connfsm).
type engine struct {
	transport base.Stream
	logger    *zap.SugaredLogger

	logical  uint16
	physical uint16
	client   byte
	maxRecv  uint
	maxSend  uint

	recvBuf [maxFrameLength]byte
	sendBuf [maxFrameLength]byte

	nSend, nRecv byte // N(S), N(R) modulo-8 sequence counters
	toSend       int
	state        int // 0 idle (no exchange in progress), 1 writing, 2 reading
	isOpen       bool
	canWrite     bool // false while a final frame is outstanding (no windowing)

	framesBuf     [maxPackets]frame
	pending       []frame
	current       *frame
	emptyCycles   int
}

// New wraps transport with HDLC framing. Open() performs SNRM/UA
// negotiation before the stream is usable.
func New(transport base.Stream, settings *Settings) (base.Stream, error) {
	if settings.Logical > 0x3fff {
		return nil, dlmserr.New(dlmserr.PreconditionFailed, "hdlc: logical address %d out of range", settings.Logical)
	}
	if settings.Physical > 0x3fff {
		return nil, dlmserr.New(dlmserr.PreconditionFailed, "hdlc: physical address %d out of range", settings.Physical)
	}
	if settings.Client > 0x7f {
		return nil, dlmserr.New(dlmserr.PreconditionFailed, "hdlc: client address %d out of range", settings.Client)
	}
	maxRecv, maxSend := settings.MaxRecv, settings.MaxSend
	if maxRecv > initialFrameLength {
		maxRecv = initialFrameLength
	} else if maxRecv < 128 {
		maxRecv = 128
	}
	if maxSend > initialFrameLength {
		maxSend = initialFrameLength
	} else if maxSend < 128 {
		maxSend = 128
	}
	return &engine{
		transport: transport,
		logical:   settings.Logical,
		physical:  settings.Physical,
		client:    settings.Client,
		maxRecv:   maxRecv,
		maxSend:   maxSend,
		canWrite:  true,
	}, nil
}

func (e *engine) logf(format string, v ...any) {
	if e.logger != nil {
		e.logger.Infof(format, v...)
	}
}

func (e *engine) SetLogger(logger *zap.SugaredLogger) {
	e.logger = logger
	e.transport.SetLogger(logger)
}
func (e *engine) SetMaxReceivedBytes(m int64)  { e.transport.SetMaxReceivedBytes(m) }
func (e *engine) SetTimeout(t time.Duration)   { e.transport.SetTimeout(t) }
func (e *engine) SetDeadline(t time.Time)      { e.transport.SetDeadline(t) }
func (e *engine) GetRxTxBytes() (int64, int64) { return e.transport.GetRxTxBytes() }

// Open performs SNRM/UA negotiation, adopting whichever of our proposed
// window sizes the server accepts.
func (e *engine) Open() error {
	if e.isOpen {
		return nil
	}
	if err := e.transport.Open(); err != nil {
		return err
	}
	info := e.recvBuf[:0]
	if e.maxSend > 128 || e.maxRecv > 128 {
		info = append(info, 0x81, 0x80, 0x14, 0x05, 0x02, byte(e.maxSend>>8), byte(e.maxSend), 0x06, 0x02, byte(e.maxRecv>>8), byte(e.maxRecv))
	} else {
		info = append(info, 0x81, 0x80, 0x14, 0x05, 0x01, byte(e.maxSend), 0x06, 0x01, byte(e.maxRecv))
	}
	info = append(info, 0x07, 0x04, 0x00, 0x00, 0x00, 0x01, 0x08, 0x04, 0x00, 0x00, 0x00, 0x01)

	if err := e.writeFrame(frame{control: 0x83, info: info}, true); err != nil {
		return err
	}
	frames, err := e.readFrames()
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return dlmserr.New(dlmserr.ProtocolError, "hdlc: no snrm response received")
	}
	if len(frames) > 1 {
		return dlmserr.New(dlmserr.ProtocolError, "hdlc: expected exactly one ua frame, got %d", len(frames))
	}
	if frames[0].control != 0x63 {
		return dlmserr.New(dlmserr.ProtocolError, "hdlc: expected ua, got control byte %#x", frames[0].control)
	}
	if err := e.parseUA(frames[0].info); err != nil {
		return err
	}
	e.logf("hdlc snrm/ua negotiated maxsend=%d maxrecv=%d", e.maxSend, e.maxRecv)
	e.isOpen = true
	return nil
}

func (e *engine) parseUA(ua []byte) error {
	if len(ua) < 21 {
		return dlmserr.New(dlmserr.Malformed, "hdlc: truncated ua response")
	}
	if ua[0] != 0x81 || ua[1] != 0x80 {
		return dlmserr.New(dlmserr.Malformed, "hdlc: invalid ua header")
	}
	if len(ua) != int(ua[2])+3 {
		return dlmserr.New(dlmserr.Malformed, "hdlc: invalid ua length")
	}
	for i := 3; i < len(ua); i++ {
		consumed, value, err := readUATag(ua[i+1:])
		if err != nil {
			return err
		}
		switch ua[i] {
		case 5:
			if value < e.maxRecv {
				e.maxRecv = value
			}
		case 6:
			if value < e.maxSend {
				e.maxSend = value
			}
		case 7, 8: // window sizes, always 1 in this implementation
		default:
			return dlmserr.New(dlmserr.Malformed, "hdlc: unknown ua tag %d", ua[i])
		}
		i += consumed
	}
	return nil
}

func readUATag(t []byte) (consumed int, value uint, err error) {
	if len(t) < 2 {
		return 0, 0, dlmserr.New(dlmserr.Malformed, "hdlc: truncated ua tag")
	}
	switch t[0] {
	case 1:
		return 2, uint(t[1]), nil
	case 2:
		if len(t) < 3 {
			return 0, 0, dlmserr.New(dlmserr.Malformed, "hdlc: truncated ua tag")
		}
		return 3, uint(t[1])<<8 | uint(t[2]), nil
	case 4:
		if len(t) < 5 {
			return 0, 0, dlmserr.New(dlmserr.Malformed, "hdlc: truncated ua tag")
		}
		return 5, uint(t[1])<<24 | uint(t[2])<<16 | uint(t[3])<<8 | uint(t[4]), nil
	default:
		return 0, 0, dlmserr.New(dlmserr.Malformed, "hdlc: invalid ua tag length field")
	}
}

func (e *engine) Disconnect() error {
	e.isOpen = false
	return e.transport.Disconnect()
}

// Close sends a final RR then a DISC frame, draining any response, before
// closing the underlying transport.
func (e *engine) Close() error {
	if !e.isOpen {
		return nil
	}
	if err := e.drain(); err != nil {
		return err
	}
	if err := e.writeFrame(frame{control: (e.nRecv << 5) | 1}, true); err != nil {
		return err
	}
	if err := e.expectRR(); err != nil {
		return err
	}
	if err := e.writeFrame(frame{control: 0x43}, true); err != nil {
		return dlmserr.Wrap(dlmserr.ProtocolError, err, "hdlc: unable to send disconnect frame")
	}
	if _, err := e.readFrames(); err != nil {
		return err
	}
	e.isOpen = false
	return e.transport.Close()
}

func (e *engine) nextInboundI() (*frame, error) {
	for len(e.pending) > 0 {
		f := &e.pending[0]
		e.pending = e.pending[1:]
		switch {
		case f.control&1 == 0: // I frame
			if f.control>>5 != e.nSend {
				return nil, dlmserr.New(dlmserr.ProtocolError, "hdlc: unexpected N(R) in inbound i-frame")
			}
			if (f.control>>1)&7 != e.nRecv {
				return nil, dlmserr.New(dlmserr.ProtocolError, "hdlc: unexpected N(S) in inbound i-frame")
			}
			e.nRecv = (e.nRecv + 1) & 7
			return f, nil
		case f.control == 3:
			e.logf("hdlc: discarding unnumbered information frame")
		case f.control&0xf == 1: // RR
			if f.control>>5 != e.nSend {
				return nil, dlmserr.New(dlmserr.ProtocolError, "hdlc: unexpected N(R) in rr frame")
			}
		default:
			return nil, dlmserr.New(dlmserr.ProtocolError, "hdlc: unexpected frame type %#x", f.control)
		}
	}
	return nil, nil
}

func (e *engine) sendRR() error {
	return e.writeFrame(frame{control: (e.nRecv << 5) | 1}, true)
}

// Read yields reassembled I-frame payloads, requesting the next segment
// with RR while the server's I-frames carry the segmentation bit.
func (e *engine) Read(p []byte) (int, error) {
	if !e.isOpen {
		return 0, base.ErrNotOpened
	}
	if e.state == 0 {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, base.ErrNothingToRead
	}
	if err := e.writeOut(); err != nil {
		return 0, err
	}
	if e.current != nil {
		if len(e.current.info) == 0 {
			e.emptyCycles--
			if e.emptyCycles <= 0 {
				return 0, dlmserr.New(dlmserr.ProtocolError, "hdlc: too many empty inbound frames")
			}
			next, err := e.nextInboundI()
			if err != nil {
				return 0, err
			}
			if next == nil {
				if e.current.segmented {
					if err := e.sendRR(); err != nil {
						return 0, err
					}
					e.current = nil
				} else {
					e.state = 0
					e.current = nil
					return 0, io.EOF
				}
			} else {
				e.current = next
				return e.Read(p)
			}
		} else {
			e.emptyCycles = maxEmptyCycles
			n := copy(p, e.current.info)
			e.current.info = e.current.info[n:]
			return n, nil
		}
	}
	for cycles := maxRRCycles; cycles > 0; cycles-- {
		frames, err := e.readFrames()
		if err != nil {
			return 0, err
		}
		e.pending = frames
		e.current, err = e.nextInboundI()
		if err != nil {
			return 0, err
		}
		if e.current != nil {
			return e.Read(p)
		}
		if err := e.sendRR(); err != nil {
			return 0, err
		}
	}
	return 0, dlmserr.New(dlmserr.ProtocolError, "hdlc: too many RR cycles without an i-frame")
}

func (e *engine) nextOutboundControl() byte {
	c := (e.nRecv << 5) | (e.nSend << 1)
	e.nSend = (e.nSend + 1) & 7
	return c
}

func (e *engine) expectRR() error {
	frames, err := e.readFrames()
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return dlmserr.New(dlmserr.ProtocolError, "hdlc: no response received")
	}
	hasRR := false
	for _, f := range frames {
		switch {
		case f.control&1 == 0:
			return dlmserr.New(dlmserr.ProtocolError, "hdlc: unexpected i-frame while awaiting rr")
		case f.control == 3:
			e.logf("hdlc: discarding unnumbered information frame")
		case f.control&0xf == 1:
			if hasRR {
				return dlmserr.New(dlmserr.ProtocolError, "hdlc: duplicate rr received")
			}
			hasRR = true
			if f.control>>5 != e.nSend {
				return dlmserr.New(dlmserr.ProtocolError, "hdlc: unexpected N(R) in rr response")
			}
		default:
			return dlmserr.New(dlmserr.ProtocolError, "hdlc: unexpected frame type %#x", f.control)
		}
	}
	if !hasRR {
		return dlmserr.New(dlmserr.ProtocolError, "hdlc: no rr received")
	}
	return nil
}

// Write segments src across maxSend-sized I-frames, blocking for the
// server's RR between segments.
func (e *engine) Write(src []byte) error {
	if !e.isOpen {
		return base.ErrNotOpened
	}
	if len(src) == 0 {
		return nil
	}
	if err := e.drain(); err != nil {
		return err
	}
	for len(src) > 0 {
		chunk := len(src)
		segmented := false
		if e.toSend+chunk > int(e.maxSend) {
			chunk = int(e.maxSend) - e.toSend
			segmented = true
		}
		copy(e.sendBuf[e.toSend+11:], src[:chunk])
		e.toSend += chunk
		if segmented {
			if err := e.writeFrame(frame{control: e.nextOutboundControl(), info: e.sendBuf[11 : 11+e.toSend], segmented: true}, true); err != nil {
				return err
			}
			if err := e.expectRR(); err != nil {
				return err
			}
			e.toSend = 0
		}
		src = src[chunk:]
	}
	return nil
}

func (e *engine) writeOut() error {
	if e.toSend > 0 {
		if err := e.writeFrame(frame{control: e.nextOutboundControl(), info: e.sendBuf[11 : 11+e.toSend]}, true); err != nil {
			return err
		}
		e.toSend = 0
	}
	if e.state != 2 {
		e.pending = nil
		e.current = nil
		e.emptyCycles = maxEmptyCycles
		e.state = 2
	}
	return nil
}

func (e *engine) drain() error {
	switch e.state {
	case 0:
		e.toSend = 0
		e.state = 1
		return nil
	case 1:
		return nil
	}
	budget := maxReadoutBytes
	for {
		n, err := e.Read(e.sendBuf[:])
		budget -= n
		if err != nil {
			if errors.Is(err, io.EOF) {
				e.toSend = 0
				e.state = 1
				return nil
			}
			return err
		}
		if budget <= 0 {
			return dlmserr.New(dlmserr.ProtocolError, "hdlc: too many bytes drained without eof")
		}
	}
}

var crcTable = [256]uint16{
	0x0000, 0x1189, 0x2312, 0x329b, 0x4624, 0x57ad, 0x6536, 0x74bf,
	0x8c48, 0x9dc1, 0xaf5a, 0xbed3, 0xca6c, 0xdbe5, 0xe97e, 0xf8f7,
	0x1081, 0x0108, 0x3393, 0x221a, 0x56a5, 0x472c, 0x75b7, 0x643e,
	0x9cc9, 0x8d40, 0xbfdb, 0xae52, 0xdaed, 0xcb64, 0xf9ff, 0xe876,
	0x2102, 0x308b, 0x0210, 0x1399, 0x6726, 0x76af, 0x4434, 0x55bd,
	0xad4a, 0xbcc3, 0x8e58, 0x9fd1, 0xeb6e, 0xfae7, 0xc87c, 0xd9f5,
	0x3183, 0x200a, 0x1291, 0x0318, 0x77a7, 0x662e, 0x54b5, 0x453c,
	0xbdcb, 0xac42, 0x9ed9, 0x8f50, 0xfbef, 0xea66, 0xd8fd, 0xc974,
	0x4204, 0x538d, 0x6116, 0x709f, 0x0420, 0x15a9, 0x2732, 0x36bb,
	0xce4c, 0xdfc5, 0xed5e, 0xfcd7, 0x8868, 0x99e1, 0xab7a, 0xbaf3,
	0x5285, 0x430c, 0x7197, 0x601e, 0x14a1, 0x0528, 0x37b3, 0x263a,
	0xdecd, 0xcf44, 0xfddf, 0xec56, 0x98e9, 0x8960, 0xbbfb, 0xaa72,
	0x6306, 0x728f, 0x4014, 0x519d, 0x2522, 0x34ab, 0x0630, 0x17b9,
	0xef4e, 0xfec7, 0xcc5c, 0xddd5, 0xa96a, 0xb8e3, 0x8a78, 0x9bf1,
	0x7387, 0x620e, 0x5095, 0x411c, 0x35a3, 0x242a, 0x16b1, 0x0738,
	0xffcf, 0xee46, 0xdcdd, 0xcd54, 0xb9eb, 0xa862, 0x9af9, 0x8b70,
	0x8408, 0x9581, 0xa71a, 0xb693, 0xc22c, 0xd3a5, 0xe13e, 0xf0b7,
	0x0840, 0x19c9, 0x2b52, 0x3adb, 0x4e64, 0x5fed, 0x6d76, 0x7cff,
	0x9489, 0x8500, 0xb79b, 0xa612, 0xd2ad, 0xc324, 0xf1bf, 0xe036,
	0x18c1, 0x0948, 0x3bd3, 0x2a5a, 0x5ee5, 0x4f6c, 0x7df7, 0x6c7e,
	0xa50a, 0xb483, 0x8618, 0x9791, 0xe32e, 0xf2a7, 0xc03c, 0xd1b5,
	0x2942, 0x38cb, 0x0a50, 0x1bd9, 0x6f66, 0x7eef, 0x4c74, 0x5dfd,
	0xb58b, 0xa402, 0x9699, 0x8710, 0xf3af, 0xe226, 0xd0bd, 0xc134,
	0x39c3, 0x284a, 0x1ad1, 0x0b58, 0x7fe7, 0x6e6e, 0x5cf5, 0x4d7c,
	0xc60c, 0xd785, 0xe51e, 0xf497, 0x8028, 0x91a1, 0xa33a, 0xb2b3,
	0x4a44, 0x5bcd, 0x6956, 0x78df, 0x0c60, 0x1de9, 0x2f72, 0x3efb,
	0xd68d, 0xc704, 0xf59f, 0xe416, 0x90a9, 0x8120, 0xb3bb, 0xa232,
	0x5ac5, 0x4b4c, 0x79d7, 0x685e, 0x1ce1, 0x0d68, 0x3ff3, 0x2e7a,
	0xe70e, 0xf687, 0xc41c, 0xd595, 0xa12a, 0xb0a3, 0x8238, 0x93b1,
	0x6b46, 0x7acf, 0x4854, 0x59dd, 0x2d62, 0x3ceb, 0x0e70, 0x1ff9,
	0xf78f, 0xe606, 0xd49d, 0xc514, 0xb1ab, 0xa022, 0x92b9, 0x8330,
	0x7bc7, 0x6a4e, 0x58d5, 0x495c, 0x3de3, 0x2c6a, 0x1ef1, 0x0f78,
}

func crc16(d []byte) uint16 {
	c := uint16(0xffff)
	for _, b := range d {
		c = crcTable[byte(c)^b] ^ (c >> 8)
	}
	return c ^ 0xffff
}

// crc16Split returns the HCS over d[:headerEnd] and the FCS over all of d,
// matching the IEC 62056-46 convention of separately checksummed header and
// frame.
func crc16Split(d []byte, headerEnd int) (hcs, fcs uint16) {
	c := uint16(0xffff)
	for i := 0; i < headerEnd; i++ {
		c = crcTable[byte(c)^d[i]] ^ (c >> 8)
	}
	hcs = c ^ 0xffff
	for i := headerEnd; i < len(d); i++ {
		c = crcTable[byte(c)^d[i]] ^ (c >> 8)
	}
	return hcs, c ^ 0xffff
}

// readFrames reads a complete window of frames.
func (e *engine) readFrames() ([]frame, error) {
	if e.canWrite {
		return nil, dlmserr.New(dlmserr.ProtocolError, "hdlc: cannot read frames while a write is expected")
	}
	off := 0
	first := true
	final := false
	for !final {
		if off >= len(e.framesBuf) {
			return nil, dlmserr.New(dlmserr.ProtocolError, "hdlc: too many frames in one window")
		}
		f, err := e.readFrame(first)
		if err != nil {
			return nil, err
		}
		first = false
		final = f.control&0x10 != 0
		f.control &= 0xef
		e.framesBuf[off] = f
		off++
	}
	e.canWrite = true
	return e.framesBuf[:off], nil
}

func (e *engine) parseMinHeader() (uint, error) {
	if (e.recvBuf[1] & 0xf0) != 0xa0 {
		return 0, dlmserr.New(dlmserr.Malformed, "hdlc: invalid frame format field %#x", e.recvBuf[1])
	}
	length := (uint(e.recvBuf[1]) & 7 << 8) | uint(e.recvBuf[2])
	if length < 7 {
		return 0, dlmserr.New(dlmserr.Malformed, "hdlc: frame too short")
	}
	return length - 2, nil
}

func (e *engine) readFrame(first bool) (f frame, err error) {
	length := uint(0)
	if first {
		skipped := 0
		for {
			if _, err = io.ReadFull(e.transport, e.recvBuf[:3]); err != nil {
				return
			}
			switch {
			case e.recvBuf[0] == 0x7e:
				length, err = e.parseMinHeader()
			case e.recvBuf[1] == 0x7e:
				e.recvBuf[1] = e.recvBuf[2]
				if _, err = io.ReadFull(e.transport, e.recvBuf[2:3]); err != nil {
					return
				}
				length, err = e.parseMinHeader()
			case e.recvBuf[2] == 0x7e:
				if _, err = io.ReadFull(e.transport, e.recvBuf[1:3]); err != nil {
					return
				}
				length, err = e.parseMinHeader()
			default:
				skipped += 3
				if skipped > maxBytesBeforeFlag {
					return f, dlmserr.New(dlmserr.ProtocolError, "hdlc: no opening flag found")
				}
				continue
			}
			if err != nil {
				return
			}
			break
		}
	} else {
		if _, err = io.ReadFull(e.transport, e.recvBuf[1:3]); err != nil {
			return
		}
		switch {
		case (e.recvBuf[1] & 0xf0) == 0xa0:
			length, err = e.parseMinHeader()
		case e.recvBuf[1] == 0x7e:
			e.recvBuf[1] = e.recvBuf[2]
			if _, err = io.ReadFull(e.transport, e.recvBuf[2:3]); err != nil {
				return
			}
			length, err = e.parseMinHeader()
		}
		if err != nil {
			return
		}
	}

	var body []byte
	if first {
		body = e.recvBuf[1 : length+4]
	} else {
		body = make([]byte, length+3)
	}
	if _, err = io.ReadFull(e.transport, body[2:]); err != nil {
		return
	}
	if body[length+2] != 0x7e {
		return f, dlmserr.New(dlmserr.Malformed, "hdlc: missing closing flag")
	}
	body[0] = e.recvBuf[1]
	body[1] = e.recvBuf[2]
	return e.parseFrame(body[:length+2])
}

func (e *engine) parseFrame(src []byte) (f frame, err error) {
	if len(src) < 6 {
		return f, dlmserr.New(dlmserr.Malformed, "hdlc: frame too short")
	}
	if src[2]&1 == 0 {
		return f, dlmserr.New(dlmserr.Malformed, "hdlc: client address missing termination bit")
	}
	if src[2]>>1 != e.client {
		return f, dlmserr.New(dlmserr.ProtocolError, "hdlc: unexpected client address")
	}

	var logical, physical uint16
	var offset int
	switch {
	case src[3]&1 != 0:
		logical, physical, offset = uint16(src[3]>>1), 0, 1
	case src[4]&1 != 0:
		logical, physical, offset = uint16(src[3]>>1), uint16(src[4]>>1), 2
	case src[5]&1 != 0:
		return f, dlmserr.New(dlmserr.Malformed, "hdlc: premature termination bit in address field")
	case len(src) < 7:
		return f, dlmserr.New(dlmserr.Malformed, "hdlc: truncated address field")
	case src[6]&1 == 0:
		return f, dlmserr.New(dlmserr.Malformed, "hdlc: missing address termination bit")
	default:
		logical = uint16(src[3]>>1)<<7 | uint16(src[4]>>1)
		physical = uint16(src[5]>>1)<<7 | uint16(src[6]>>1)
		offset = 4
	}
	if logical != e.logical {
		return f, dlmserr.New(dlmserr.ProtocolError, "hdlc: unexpected logical address")
	}
	if physical != e.physical {
		return f, dlmserr.New(dlmserr.ProtocolError, "hdlc: unexpected physical address")
	}
	if len(src) < offset+6 {
		return f, dlmserr.New(dlmserr.Malformed, "hdlc: frame too short for header")
	}

	offset += 3
	f.segmented = src[0]&8 != 0
	f.control = src[offset]
	remaining := len(src) - offset
	switch {
	case remaining < 3:
		return f, dlmserr.New(dlmserr.Malformed, "hdlc: frame too short")
	case remaining == 3:
		if crc16(src[:len(src)-2]) != uint16(src[len(src)-2])|uint16(src[len(src)-1])<<8 {
			return f, dlmserr.New(dlmserr.Malformed, "hdlc: fcs mismatch")
		}
		return f, nil
	case remaining == 4:
		return f, dlmserr.New(dlmserr.Malformed, "hdlc: invalid frame length")
	default:
		hcs, fcs := crc16Split(src[:len(src)-2], offset+1)
		if hcs != uint16(src[offset+1])|uint16(src[offset+2])<<8 {
			return f, dlmserr.New(dlmserr.Malformed, "hdlc: hcs mismatch")
		}
		if fcs != uint16(src[len(src)-2])|uint16(src[len(src)-1])<<8 {
			return f, dlmserr.New(dlmserr.Malformed, "hdlc: fcs mismatch")
		}
		f.info = src[offset+3 : len(src)-2]
	}
	return f, nil
}

func (e *engine) addressLength() int {
	if e.logical <= 0x7f {
		if e.physical == 0 {
			return 1
		}
		if e.physical <= 0x7f {
			return 2
		}
	}
	return 4
}

func crc16Write(d []byte, headerEnd int) uint16 {
	c := uint16(0xffff)
	for i := 0; i < headerEnd; i++ {
		c = crcTable[byte(c)^d[i]] ^ (c >> 8)
	}
	hcs := c ^ 0xffff
	d[headerEnd] = byte(hcs)
	d[headerEnd+1] = byte(hcs >> 8)
	for i := headerEnd; i < len(d); i++ {
		c = crcTable[byte(c)^d[i]] ^ (c >> 8)
	}
	return c ^ 0xffff
}

func (e *engine) writeFrame(f frame, final bool) error {
	if !e.canWrite {
		return dlmserr.New(dlmserr.ProtocolError, "hdlc: cannot write, response still outstanding")
	}
	addrLen := e.addressLength()

	var pck []byte
	switch addrLen {
	case 1:
		e.sendBuf[6] = byte(e.logical<<1) | 1
		pck = e.sendBuf[3:]
	case 2:
		e.sendBuf[5] = byte(e.logical << 1)
		e.sendBuf[6] = byte(e.physical<<1) | 1
		pck = e.sendBuf[2:]
	case 4:
		e.sendBuf[3] = byte(e.logical>>7) << 1
		e.sendBuf[4] = byte(e.logical << 1)
		e.sendBuf[5] = byte(e.physical>>7) << 1
		e.sendBuf[6] = byte(e.physical<<1) | 1
		pck = e.sendBuf[:]
	default:
		return dlmserr.New(dlmserr.ProtocolError, "hdlc: invalid address length")
	}

	pck[0] = 0x7e
	offset := 3 + addrLen
	pck[offset] = byte(e.client<<1) | 1
	offset++
	pck[offset] = f.control
	if final {
		pck[offset] |= 0x10
	}
	offset++

	info := f.info
	if len(info) > 0 {
		total := offset + 3 + len(info)
		if total > 0x7ff {
			return dlmserr.New(dlmserr.PreconditionFailed, "hdlc: frame too long to encode")
		}
		pck[1] = 0xa0 | byte(total>>8)
		if f.segmented {
			pck[1] |= 8
		}
		pck[2] = byte(total)
		offset += 2
		copy(pck[offset:], info)
		offset += len(info)
		fcs := crc16Write(pck[1:offset], offset-3-len(info))
		pck[offset] = byte(fcs)
		offset++
		pck[offset] = byte(fcs >> 8)
		offset++
	} else {
		pck[1] = 0xa0
		if f.segmented {
			pck[1] |= 8
		}
		pck[2] = byte(offset + 1)
		fcs := crc16(pck[1:offset])
		pck[offset] = byte(fcs)
		offset++
		pck[offset] = byte(fcs >> 8)
		offset++
	}
	pck[offset] = 0x7e
	offset++

	e.canWrite = !final
	return e.transport.Write(pck[:offset])
}
