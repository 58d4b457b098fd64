// Package connfsm implements the xDLMS application-association state
// machine: AARQ/AARE negotiation,
// conformance intersection, HLS-GMAC authentication, invocation-counter
// bookkeeping, ciphering policy, and GET/SET/ACTION block transfer on top
// of a base.Stream transport. It is the engine the client package drives;
// it has no knowledge of sockets, only of the framed byte stream beneath
// it.
package connfsm

import (
	"io"

	"go.uber.org/zap"
	"k8s.io/utils/ptr"

	"github.com/u9n/dlms-cosem/apdu"
	"github.com/u9n/dlms-cosem/base"
	"github.com/u9n/dlms-cosem/dlmserr"
	"github.com/u9n/dlms-cosem/security"
)

// State is the association lifecycle.
type State int

const (
	StateNoAssociation State = iota
	StateAwaitingResponse
	StateAssociated
	StateAwaitingReleaseResponse
	StateReleased
	// StateReady marks a connection pre-established out of band (no
	// AARQ/AARE exchange performed by this package at all).
	StateReady
)

func (s State) String() string {
	switch s {
	case StateNoAssociation:
		return "NO_ASSOCIATION"
	case StateAwaitingResponse:
		return "AWAITING_RESPONSE"
	case StateAssociated:
		return "ASSOCIATED"
	case StateAwaitingReleaseResponse:
		return "AWAITING_RELEASE_RESPONSE"
	case StateReleased:
		return "RELEASED"
	case StateReady:
		return "READY"
	default:
		return "UNKNOWN"
	}
}

// maxPDUReadout bounds how many bytes a single APDU read-out may
// accumulate, guarding against a misbehaving or malicious peer that never
// signals end-of-frame.
const maxPDUReadout = 4 << 20

// Settings configures one association attempt.
type Settings struct {
	ApplicationContext      base.ApplicationContext
	Authentication          base.Authentication
	Password                []byte // low-level authentication secret
	ClientSystemTitle       []byte // required for any HLS mechanism
	ProposedConformance     uint32
	ClientMaxReceivePduSize uint16
	HighPriority            bool
	ConfirmedRequests       bool
	EmptyRLRQ               bool
	UserID                  *byte

	// BlockSize overrides how many bytes of an encoded SET value travel
	// per xDLMS block; nil means "derive from the server's negotiated
	// maximum PDU size".
	BlockSize *int

	// Cipher is non-nil when the association may use GeneralGlobalCipher
	// (security suite 0). Whether ciphering is actually active is decided
	// at association time from the authentication profile and the
	// negotiated general-protection conformance bit. The server system
	// title inside it is only known once the AARE arrives.
	Cipher *security.Cipher

	// CipherPolicy selects what an active cipher protects; the zero value
	// PolicyNone means the default, authenticated-and-encrypted.
	CipherPolicy      security.Policy
	InvocationCounter uint32 // client's own outbound counter, pre-increment
}

// Conn drives one association's worth of request/response traffic over a
// base.Stream. It is not safe for concurrent use: requires
// at-most-one-in-flight, which this type enforces simply by being
// single-threaded per caller.
type Conn struct {
	stream   base.Stream
	logger   *zap.SugaredLogger
	settings Settings
	state    State

	invokeID byte // 3-bit invoke id, combined with priority/confirm flags

	serverSystemTitle []byte
	negotiatedConf    uint32
	serverMaxPduSize  uint16
	vaAddress         int16

	// cipherActive is the ciphering decision made at association time;
	// outbound service APDUs are wrapped only while it holds.
	cipherActive bool

	lastServerIC *uint32 // last invocation counter accepted from the server; nil until first ciphered response
}

// New builds a Conn ready for Open. The stream must already implement
// whatever framing (HDLC or Wrapper) the transport requires.
func New(stream base.Stream, settings Settings) *Conn {
	return &Conn{stream: stream, settings: settings, state: StateNoAssociation}
}

// Ready adopts an out-of-band pre-established association, skipping
// AARQ/AARE entirely. The ciphering decision is made here from the
// supplied conformance, the same way Open makes it from the AARE.
func Ready(stream base.Stream, settings Settings, negotiatedConformance uint32, serverMaxPduSize uint16) *Conn {
	c := &Conn{
		stream:           stream,
		settings:         settings,
		state:            StateReady,
		negotiatedConf:   negotiatedConformance,
		serverMaxPduSize: serverMaxPduSize,
	}
	c.cipherActive = c.decideCiphering()
	return c
}

// decideCiphering is the association-time ciphering decision: a configured
// cipher becomes active when the authentication profile asks for a
// ciphered context (or an HLS mechanism) or the peer negotiated the
// general-protection conformance bit.
func (c *Conn) decideCiphering() bool {
	if c.settings.Cipher == nil {
		return false
	}
	if c.settings.ApplicationContext == base.ApplicationContextLNCiphering {
		return true
	}
	if c.settings.Authentication == base.AuthenticationHighGmac {
		return true
	}
	return c.negotiatedConf&base.ConformanceGeneralProtection != 0
}

func (c *Conn) SetLogger(logger *zap.SugaredLogger) {
	c.logger = logger
	c.stream.SetLogger(logger)
}

func (c *Conn) logf(format string, v ...any) {
	if c.logger != nil {
		c.logger.Infof(format, v...)
	}
}

func (c *Conn) State() State { return c.state }

// NegotiatedConformance is the intersection the server returned at
// association; zero before the AARE arrives.
func (c *Conn) NegotiatedConformance() uint32 { return c.negotiatedConf }

// ServerMaxPduSize is the server's maximum receive PDU size from the
// initiate-response; zero before the AARE arrives.
func (c *Conn) ServerMaxPduSize() uint16 { return c.serverMaxPduSize }

// ServerSystemTitle is the responding system title from the AARE; nil for
// a plain association or before the AARE arrives. Callers persisting
// session state across reconnects keep this alongside the counter.
func (c *Conn) ServerSystemTitle() []byte { return c.serverSystemTitle }

// InvocationCounter reports the client's outbound counter after the last
// ciphered APDU, for external persistence.
func (c *Conn) InvocationCounter() uint32 { return c.settings.InvocationCounter }

func (c *Conn) nextInvokeID() byte {
	id := c.invokeID
	c.invokeID = (c.invokeID + 1) & 7
	flags := byte(0)
	if c.settings.HighPriority {
		flags |= 0x80
	}
	if c.settings.ConfirmedRequests {
		flags |= 0x40
	}
	return id | flags
}

// readFullPDU reads one APDU out of the transport, which (per HDLC and
// Wrapper framing) signals the PDU boundary with io.EOF.
func (c *Conn) readFullPDU() ([]byte, error) {
	buf := make([]byte, 256)
	total := 0
	for {
		if total == len(buf) {
			if total >= maxPDUReadout {
				return nil, dlmserr.New(dlmserr.ProtocolError, "apdu exceeds maximum readout size")
			}
			grown := make([]byte, len(buf)*2)
			copy(grown, buf)
			buf = grown
		}
		n, err := c.stream.Read(buf[total:])
		total += n
		if err != nil {
			if err == io.EOF {
				return buf[:total], nil
			}
			return nil, err
		}
	}
}

// sendAPDU ciphers raw when the association-time decision made ciphering
// active, then writes it whole. AARQ bytes never pass through here, so
// the association exchange itself stays plain.
func (c *Conn) sendAPDU(raw []byte) error {
	if c.cipherActive {
		raw = c.cipherWrap(raw)
	}
	return c.stream.Write(raw)
}

func (c *Conn) cipherWrap(raw []byte) []byte {
	c.settings.InvocationCounter++
	policy := c.settings.CipherPolicy
	if policy == security.PolicyNone {
		policy = security.PolicyAuthenticatedAndEncrypted
	}
	sc := security.SecurityControlByte(policy, false)
	wire := c.settings.Cipher.Seal(sc, c.settings.InvocationCounter, raw)
	return apdu.GeneralGlobalCipher{SystemTitle: c.settings.ClientSystemTitle, Wire: wire}.Encode()
}

// receiveAPDU reads one PDU, deciphering it if it arrived wrapped in
// GeneralGlobalCipher, and enforces invocation-counter monotonicity: a
// counter that does not strictly increase is DECRYPTION_ERROR, the same
// kind a tag mismatch would produce, since both indicate the frame cannot
// be trusted.
func (c *Conn) receiveAPDU() (interface{}, error) {
	raw, err := c.readFullPDU()
	if err != nil {
		return nil, err
	}
	decoded, err := apdu.Decode(raw)
	if err != nil {
		return nil, err
	}
	wrapper, ok := decoded.(apdu.GeneralGlobalCipher)
	if !ok {
		return decoded, nil
	}
	if c.settings.Cipher == nil {
		return nil, dlmserr.New(dlmserr.DecryptionError, "received ciphered apdu but no cipher is configured")
	}
	title := wrapper.SystemTitle
	if len(title) == 0 {
		title = c.serverSystemTitle
	}
	plaintext, _, ic, err := c.settings.Cipher.Open(title, wrapper.Wire)
	if err != nil {
		return nil, err
	}
	if c.lastServerIC != nil && ic <= *c.lastServerIC {
		return nil, dlmserr.New(dlmserr.DecryptionError, "invocation counter did not increase: got %d, last %d", ic, *c.lastServerIC)
	}
	c.lastServerIC = ptr.To(ic)
	return apdu.Decode(plaintext)
}
