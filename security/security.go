// Package security implements AES-GCM-128 authenticated ciphering and
// HLS-GMAC challenge processing for DLMS security suite 0.
// Suites 1/2 and signature-based (ECDSA) authentication are out of scope.
package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"

	"github.com/u9n/dlms-cosem/base"
	"github.com/u9n/dlms-cosem/dlmserr"
)

// GCMTagSize is the DLMS-mandated AES-GCM authentication tag length.
const GCMTagSize = 12

// Policy selects what a ciphered APDU protects.
type Policy byte

const (
	// PolicyNone means ciphering is not active on this association.
	PolicyNone Policy = iota
	// PolicyAuthenticatedOnly sets the authenticated bit only; the
	// "ciphertext" equals the plaintext, only the tag authenticates it.
	PolicyAuthenticatedOnly
	// PolicyAuthenticatedAndEncrypted sets both the authenticated and
	// encrypted bits.
	PolicyAuthenticatedAndEncrypted
)

// Config holds the per-association cryptographic material. The zero
// value is not usable; build with New.
type Config struct {
	EncryptionKey     []byte // global unicast encryption key
	DedicatedKey      []byte // optional dedicated key for key-set=dedicated
	AuthenticationKey []byte
	ClientSystemTitle []byte // 8 bytes
	ServerSystemTitle []byte // 8 bytes, known once AARE is received
	Mechanism         base.Authentication
}

// Cipher performs AES-GCM-128 encrypt/decrypt under a fixed authentication
// key and exposes the HLS-GMAC challenge primitive, both keyed off the
// same Config.
type Cipher struct {
	cfg      Config
	block    cipher.Block
	dedBlock cipher.Block
	aead     cipher.AEAD
	dedAead  cipher.AEAD
}

// New validates cfg and builds a Cipher ready for Seal/Open/GMAC.
func New(cfg Config) (*Cipher, error) {
	if len(cfg.ClientSystemTitle) != 8 {
		return nil, dlmserr.New(dlmserr.PreconditionFailed, "client system title must be 8 bytes")
	}
	if len(cfg.EncryptionKey) == 0 {
		return nil, dlmserr.New(dlmserr.PreconditionFailed, "encryption key is required")
	}
	block, err := aes.NewCipher(cfg.EncryptionKey)
	if err != nil {
		return nil, dlmserr.Wrap(dlmserr.PreconditionFailed, err, "invalid encryption key")
	}
	aead, err := cipher.NewGCMWithTagSize(block, GCMTagSize)
	if err != nil {
		return nil, dlmserr.Wrap(dlmserr.PreconditionFailed, err, "gcm setup failed")
	}
	c := &Cipher{cfg: cfg, block: block, aead: aead}
	if len(cfg.DedicatedKey) > 0 {
		db, err := aes.NewCipher(cfg.DedicatedKey)
		if err != nil {
			return nil, dlmserr.Wrap(dlmserr.PreconditionFailed, err, "invalid dedicated key")
		}
		dAead, err := cipher.NewGCMWithTagSize(db, GCMTagSize)
		if err != nil {
			return nil, dlmserr.Wrap(dlmserr.PreconditionFailed, err, "gcm setup failed for dedicated key")
		}
		c.dedBlock, c.dedAead = db, dAead
	}
	return c, nil
}

// SecurityControlByte builds the control byte: bit 0x20
// encrypted, bit 0x10 authenticated, bit 0x01 key-set dedicated; bit 0x80
// (compressed) is never set, suite is always 0 (low nibble).
func SecurityControlByte(policy Policy, dedicated bool) byte {
	var sc byte
	switch policy {
	case PolicyAuthenticatedAndEncrypted:
		sc = byte(base.SecurityAuthentication) | byte(base.SecurityEncryption)
	case PolicyAuthenticatedOnly:
		sc = byte(base.SecurityAuthentication)
	}
	if dedicated {
		sc |= byte(base.KeySetDedicated)
	}
	return sc
}

func (c *Cipher) aeadFor(sc byte) (cipher.AEAD, []byte) {
	if sc&byte(base.KeySetDedicated) != 0 && c.dedAead != nil {
		return c.dedAead, c.cfg.DedicatedKey
	}
	return c.aead, c.cfg.EncryptionKey
}

func nonce(systemTitle []byte, ic uint32) []byte {
	n := make([]byte, 12)
	copy(n, systemTitle)
	n[8] = byte(ic >> 24)
	n[9] = byte(ic >> 16)
	n[10] = byte(ic >> 8)
	n[11] = byte(ic)
	return n
}

// Seal wraps plaintext for transmission: wire = sc || ic(4BE) || ciphertext || tag(12).
// With PolicyAuthenticatedOnly the "ciphertext" equals plaintext, only the
// tag differs (computed over plaintext as additional data).
func (c *Cipher) Seal(sc byte, ic uint32, plaintext []byte) []byte {
	aead, _ := c.aeadFor(sc)
	n := nonce(c.cfg.ClientSystemTitle, ic)
	aad := append([]byte{sc}, c.cfg.AuthenticationKey...)

	var sealed []byte
	if sc&byte(base.SecurityEncryption) != 0 {
		sealed = aead.Seal(nil, n, plaintext, aad)
	} else {
		// authenticated-only: plaintext is additional data, seal nothing.
		fullAAD := append(append([]byte{}, aad...), plaintext...)
		tag := aead.Seal(nil, n, nil, fullAAD)
		sealed = append(append([]byte{}, plaintext...), tag...)
	}

	out := make([]byte, 0, 5+len(sealed))
	out = append(out, sc, byte(ic>>24), byte(ic>>16), byte(ic>>8), byte(ic))
	return append(out, sealed...)
}

// Open unwraps a GeneralGlobalCipher payload (sc || ic(4BE) || body),
// verifying the GCM tag against serverSystemTitle. Any failure, whether a
// tag mismatch or an invocation-counter rollback the caller detects, is
// surfaced as DECRYPTION_ERROR rather than a lower-level crypto error.
func (c *Cipher) Open(serverSystemTitle []byte, wire []byte) (plaintext []byte, sc byte, ic uint32, err error) {
	if len(wire) < 5+GCMTagSize {
		return nil, 0, 0, dlmserr.New(dlmserr.DecryptionError, "ciphered apdu too short")
	}
	sc = wire[0]
	ic = uint32(wire[1])<<24 | uint32(wire[2])<<16 | uint32(wire[3])<<8 | uint32(wire[4])
	body := wire[5:]

	aead, _ := c.aeadFor(sc)
	n := nonce(serverSystemTitle, ic)
	aad := append([]byte{sc}, c.cfg.AuthenticationKey...)

	if sc&byte(base.SecurityEncryption) != 0 {
		plaintext, err = aead.Open(nil, n, body, aad)
		if err != nil {
			return nil, 0, 0, dlmserr.Wrap(dlmserr.DecryptionError, err, "gcm tag verification failed")
		}
		return plaintext, sc, ic, nil
	}

	if len(body) < GCMTagSize {
		return nil, 0, 0, dlmserr.New(dlmserr.DecryptionError, "authenticated-only apdu missing tag")
	}
	plain := body[:len(body)-GCMTagSize]
	tag := body[len(body)-GCMTagSize:]
	fullAAD := append(append([]byte{}, aad...), plain...)
	if _, err = aead.Open(nil, n, tag, fullAAD); err != nil {
		return nil, 0, 0, dlmserr.Wrap(dlmserr.DecryptionError, err, "gcm authenticated-only tag verification failed")
	}
	return plain, sc, ic, nil
}

// GMAC computes the HLS authentication-mechanism-5 challenge response
// f(challenge): an AES-GCM tag over
// sc||authentication_key||challenge with empty plaintext, nonce =
// systemTitle||ic, then prefixed with sc||ic, 17 bytes total.
func (c *Cipher) GMAC(systemTitle []byte, ic uint32, challenge []byte) ([]byte, error) {
	if c.aead == nil {
		return nil, dlmserr.New(dlmserr.PreconditionFailed, "cipher not initialized")
	}
	sc := SecurityControlByte(PolicyAuthenticatedOnly, false)
	n := nonce(systemTitle, ic)
	aad := make([]byte, 0, 1+len(c.cfg.AuthenticationKey)+len(challenge))
	aad = append(aad, sc)
	aad = append(aad, c.cfg.AuthenticationKey...)
	aad = append(aad, challenge...)
	tag := c.aead.Seal(nil, n, nil, aad)
	out := make([]byte, 0, 5+GCMTagSize)
	out = append(out, sc, byte(ic>>24), byte(ic>>16), byte(ic>>8), byte(ic))
	return append(out, tag...), nil
}

// VerifyGMAC checks a received f(challenge) response of the form
// sc||ic(4BE)||tag(12) against the expected challenge and system title.
func (c *Cipher) VerifyGMAC(systemTitle []byte, challenge []byte, response []byte) (bool, error) {
	if len(response) != 5+GCMTagSize {
		return false, dlmserr.New(dlmserr.AuthenticationFailed, "gmac response has wrong length: %d", len(response))
	}
	sc := response[0]
	ic := uint32(response[1])<<24 | uint32(response[2])<<16 | uint32(response[3])<<8 | uint32(response[4])
	want, err := c.GMAC(systemTitle, ic, challenge)
	if err != nil {
		return false, err
	}
	_ = sc
	return bytes.Equal(want, response), nil
}
