package connfsm

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/ptr"

	"github.com/u9n/dlms-cosem/apdu"
	"github.com/u9n/dlms-cosem/axdr"
	"github.com/u9n/dlms-cosem/base"
	"github.com/u9n/dlms-cosem/dlmserr"
	"github.com/u9n/dlms-cosem/obis"
	"github.com/u9n/dlms-cosem/security"
)

// fakeStream scripts a DLMS server behind the base.Stream contract: every
// Write hands the APDU to handler, whose return value is served back by
// Read with io.EOF marking the PDU boundary (the same boundary the HDLC
// and wrapper framings signal).
type fakeStream struct {
	handler func(req []byte) []byte
	writes  [][]byte
	pending []byte
	queued  bool
}

func (s *fakeStream) Open() error                         { return nil }
func (s *fakeStream) Close() error                        { return nil }
func (s *fakeStream) Disconnect() error                   { return nil }
func (s *fakeStream) SetLogger(logger *zap.SugaredLogger) {}
func (s *fakeStream) SetDeadline(t time.Time)             {}
func (s *fakeStream) SetTimeout(t time.Duration)          {}
func (s *fakeStream) SetMaxReceivedBytes(m int64)         {}
func (s *fakeStream) GetRxTxBytes() (int64, int64)        { return 0, 0 }

func (s *fakeStream) Write(src []byte) error {
	s.writes = append(s.writes, append([]byte(nil), src...))
	if s.handler != nil {
		s.pending = s.handler(src)
		s.queued = len(s.pending) > 0
	}
	return nil
}

func (s *fakeStream) Read(p []byte) (int, error) {
	if !s.queued {
		return 0, io.EOF
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	if len(s.pending) == 0 {
		s.queued = false
		return n, io.EOF
	}
	return n, nil
}

func (s *fakeStream) seed(pdu []byte) {
	s.pending = append([]byte(nil), pdu...)
	s.queued = true
}

var (
	testConformance = base.ConformanceGet | base.ConformanceSet | base.ConformanceAction |
		base.ConformanceBlockTransferWithGetOrRead | base.ConformanceBlockTransferWithSetOrWrite |
		base.ConformanceMultipleReferences | base.ConformanceGeneralProtection
	testMaxPdu = uint16(500)
)

// buildAARE hand-assembles a server association response the way a meter
// emits it: the ACSE field TLVs wrapped in the outer AARE tag/length.
func buildAARE(ctx base.ApplicationContext, result base.AssociationResult, serverTitle, stoc []byte) []byte {
	var content bytes.Buffer
	content.Write([]byte{0xa1, 0x09, 0x06, 0x07, 0x60, 0x85, 0x74, 0x05, 0x08, 0x01, byte(ctx)})
	content.Write([]byte{0xa2, 0x03, 0x02, 0x01, byte(result)})
	content.Write([]byte{0xa3, 0x05, 0xa1, 0x03, 0x02, 0x01, 0x00})
	if len(serverTitle) == 8 {
		content.Write([]byte{0xa4, 0x0a, 0x04, 0x08})
		content.Write(serverTitle)
	}
	if len(stoc) > 0 {
		content.Write([]byte{0xaa, byte(len(stoc) + 2), 0x80, byte(len(stoc))})
		content.Write(stoc)
	}
	initResp := []byte{byte(base.TagInitiateResponse), 0x00, base.DlmsVersion, 0x5f, 0x1f, 0x04,
		byte(testConformance >> 24), byte(testConformance >> 16), byte(testConformance >> 8), byte(testConformance),
		byte(testMaxPdu >> 8), byte(testMaxPdu), 0x00, 0x07}
	content.Write([]byte{0xbe, byte(len(initResp) + 2), 0x04, byte(len(initResp))})
	content.Write(initResp)

	out := []byte{byte(base.TagAARE), byte(content.Len())}
	return append(out, content.Bytes()...)
}

func plainSettings() Settings {
	return Settings{
		ApplicationContext:      base.ApplicationContextLNNoCiphering,
		Authentication:          base.AuthenticationNone,
		ProposedConformance:     uint32(testConformance),
		ClientMaxReceivePduSize: 1024,
	}
}

func openPlain(t *testing.T, handler func(req []byte) []byte) (*Conn, *fakeStream) {
	t.Helper()
	stream := &fakeStream{handler: func(req []byte) []byte {
		if req[0] == byte(base.TagAARQ) {
			return buildAARE(base.ApplicationContextLNNoCiphering, base.AssociationResultAccepted, nil, nil)
		}
		return handler(req)
	}}
	conn := New(stream, plainSettings())
	if err := conn.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	return conn, stream
}

func testGetItem() apdu.RequestItem {
	return apdu.RequestItem{Attribute: apdu.CosemAttribute{ClassID: 3, Instance: obis.New(1, 0, 1, 8, 0, 255), Attribute: 2}}
}

func TestOpenEstablishesAssociation(t *testing.T) {
	conn, stream := openPlain(t, nil)
	if conn.State() != StateAssociated {
		t.Fatalf("state = %s, want ASSOCIATED", conn.State())
	}
	if conn.NegotiatedConformance() != uint32(testConformance) {
		t.Fatalf("negotiated conformance = %#x, want %#x", conn.NegotiatedConformance(), uint32(testConformance))
	}
	if conn.ServerMaxPduSize() != testMaxPdu {
		t.Fatalf("server max pdu = %d, want %d", conn.ServerMaxPduSize(), testMaxPdu)
	}
	if len(stream.writes) != 1 || stream.writes[0][0] != byte(base.TagAARQ) {
		t.Fatalf("expected exactly one AARQ on the wire, got %d writes", len(stream.writes))
	}
}

func TestOpenRefusedAssociation(t *testing.T) {
	stream := &fakeStream{handler: func(req []byte) []byte {
		return buildAARE(base.ApplicationContextLNNoCiphering, base.AssociationResultPermanentRejected, nil, nil)
	}}
	conn := New(stream, plainSettings())
	err := conn.Open()
	if !errors.Is(err, dlmserr.ErrAssociationRefused) {
		t.Fatalf("expected ASSOCIATION_REFUSED, got %v", err)
	}
	if conn.State() != StateNoAssociation {
		t.Fatalf("state = %s, want NO_ASSOCIATION", conn.State())
	}
}

func TestGetNormal(t *testing.T) {
	value, _ := axdr.Encode(axdr.Uint32(42))
	conn, _ := openPlain(t, func(req []byte) []byte {
		decoded, err := apdu.Decode(req)
		if err != nil {
			t.Fatalf("server decode: %v", err)
		}
		get, ok := decoded.(apdu.GetRequestNormal)
		if !ok {
			t.Fatalf("server got %T, want GetRequestNormal", decoded)
		}
		return apdu.GetResponseNormal{InvokeID: get.InvokeID, Result: apdu.DataAccessResult{Success: true}, Value: value}.Encode()
	})
	got, err := conn.Get([]apdu.RequestItem{testGetItem()})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got[0].Value.(uint32) != 42 {
		t.Fatalf("got %+v, want uint32 42", got[0])
	}
}

func TestGetServiceErrorSurfacesCode(t *testing.T) {
	conn, _ := openPlain(t, func(req []byte) []byte {
		decoded, _ := apdu.Decode(req)
		get := decoded.(apdu.GetRequestNormal)
		return apdu.GetResponseNormal{InvokeID: get.InvokeID, Result: apdu.DataAccessResult{Result: base.ResultReadWriteDenied}}.Encode()
	})
	_, err := conn.Get([]apdu.RequestItem{testGetItem()})
	if !errors.Is(err, dlmserr.ErrServiceError) {
		t.Fatalf("expected SERVICE_ERROR, got %v", err)
	}
	var de *dlmserr.Error
	if !errors.As(err, &de) || de.Code != int(base.ResultReadWriteDenied) {
		t.Fatalf("expected service code %d, got %+v", base.ResultReadWriteDenied, de)
	}
}

func TestGetBlockTransferReassembles(t *testing.T) {
	payload, _ := axdr.Encode(axdr.OctetString(bytes.Repeat([]byte{0x5a}, 300)))
	x1, x2 := payload[:120], payload[120:]

	conn, stream := openPlain(t, func(req []byte) []byte {
		decoded, err := apdu.Decode(req)
		if err != nil {
			t.Fatalf("server decode: %v", err)
		}
		switch r := decoded.(type) {
		case apdu.GetRequestNormal:
			return apdu.GetResponseWithBlock{InvokeID: r.InvokeID, LastBlock: false, BlockNumber: 1,
				Result: apdu.DataAccessResult{Success: true}, Raw: x1}.Encode()
		case apdu.GetRequestNext:
			if r.BlockNumber != 2 {
				t.Fatalf("server got next-block request for %d, want 2", r.BlockNumber)
			}
			return apdu.GetResponseWithBlock{InvokeID: r.InvokeID, LastBlock: true, BlockNumber: 2,
				Result: apdu.DataAccessResult{Success: true}, Raw: x2}.Encode()
		default:
			t.Fatalf("server got %T", decoded)
			return nil
		}
	})

	got, err := conn.Get([]apdu.RequestItem{testGetItem()})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got[0].Value.([]byte), bytes.Repeat([]byte{0x5a}, 300)) {
		t.Fatal("reassembled value does not match X1||X2")
	}
	// one AARQ, the initial GET and one next-block request
	if len(stream.writes) != 3 {
		t.Fatalf("wire carried %d apdus, want 3", len(stream.writes))
	}
}

func TestGetBlockNumberMismatchAborts(t *testing.T) {
	conn, _ := openPlain(t, func(req []byte) []byte {
		decoded, _ := apdu.Decode(req)
		get := decoded.(apdu.GetRequestNormal)
		return apdu.GetResponseWithBlock{InvokeID: get.InvokeID, LastBlock: false, BlockNumber: 2,
			Result: apdu.DataAccessResult{Success: true}, Raw: []byte{1}}.Encode()
	})
	_, err := conn.Get([]apdu.RequestItem{testGetItem()})
	if !errors.Is(err, dlmserr.ErrProtocolError) {
		t.Fatalf("expected PROTOCOL_ERROR, got %v", err)
	}
}

func TestGetWithList(t *testing.T) {
	v1, _ := axdr.Encode(axdr.Uint16(7))
	v2, _ := axdr.Encode(axdr.Bool(true))
	conn, _ := openPlain(t, func(req []byte) []byte {
		decoded, _ := apdu.Decode(req)
		list, ok := decoded.(apdu.GetRequestWithList)
		if !ok {
			t.Fatalf("server got %T, want GetRequestWithList", decoded)
		}
		if len(list.Items) != 2 {
			t.Fatalf("server got %d items, want 2", len(list.Items))
		}
		return apdu.GetResponseWithList{InvokeID: list.InvokeID,
			Results: []apdu.DataAccessResult{{Success: true}, {Success: true}},
			Values:  [][]byte{v1, v2}}.Encode()
	})
	got, err := conn.Get([]apdu.RequestItem{testGetItem(), testGetItem()})
	if err != nil {
		t.Fatalf("get with list: %v", err)
	}
	if got[0].Value.(uint16) != 7 || got[1].Value.(bool) != true {
		t.Fatalf("got %+v", got)
	}
}

func TestSetSegmentedProducesExpectedBlocks(t *testing.T) {
	stream := &fakeStream{}
	stream.handler = func(req []byte) []byte {
		decoded, err := apdu.Decode(req)
		if err != nil {
			t.Fatalf("server decode: %v", err)
		}
		switch r := decoded.(type) {
		case apdu.SetRequestWithFirstBlock:
			if r.LastBlock || r.BlockNumber != 1 {
				t.Fatalf("first block: last=%v number=%d", r.LastBlock, r.BlockNumber)
			}
			return apdu.SetResponseDataBlock{InvokeID: r.InvokeID, BlockNumber: 1}.Encode()
		case apdu.SetRequestWithBlock:
			if r.LastBlock {
				return apdu.SetResponseLastBlock{InvokeID: r.InvokeID, Result: base.ResultSuccess, BlockNumber: r.BlockNumber}.Encode()
			}
			return apdu.SetResponseDataBlock{InvokeID: r.InvokeID, BlockNumber: r.BlockNumber}.Encode()
		default:
			t.Fatalf("server got %T", decoded)
			return nil
		}
	}
	settings := plainSettings()
	settings.BlockSize = ptr.To(500)
	conn := Ready(stream, settings, uint32(testConformance), testMaxPdu)

	err := conn.Set(testGetItem(), axdr.OctetString(bytes.Repeat([]byte{0xab}, 2000)))
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	// 2004 encoded bytes at 500 per block: first block + 4 follow-ups
	if len(stream.writes) != 5 {
		t.Fatalf("wire carried %d apdus, want 5", len(stream.writes))
	}
	for i, raw := range stream.writes {
		decoded, _ := apdu.Decode(raw)
		switch r := decoded.(type) {
		case apdu.SetRequestWithFirstBlock:
			if i != 0 {
				t.Fatalf("first block sent at position %d", i)
			}
		case apdu.SetRequestWithBlock:
			if int(r.BlockNumber) != i+1 {
				t.Fatalf("write %d carries block number %d", i, r.BlockNumber)
			}
			if last := i == len(stream.writes)-1; r.LastBlock != last {
				t.Fatalf("write %d last-block flag = %v", i, r.LastBlock)
			}
		default:
			t.Fatalf("write %d decoded to %T", i, decoded)
		}
	}
}

func TestSetWithList(t *testing.T) {
	conn, _ := openPlain(t, func(req []byte) []byte {
		decoded, _ := apdu.Decode(req)
		list, ok := decoded.(apdu.SetRequestWithList)
		if !ok {
			t.Fatalf("server got %T, want SetRequestWithList", decoded)
		}
		if len(list.Items) != 2 || len(list.Values) != 2 {
			t.Fatalf("server got %d items / %d values", len(list.Items), len(list.Values))
		}
		return apdu.SetResponseWithList{InvokeID: list.InvokeID,
			Results: []apdu.AccessResultTag{base.ResultSuccess, base.ResultReadWriteDenied}}.Encode()
	})
	results, err := conn.SetWithList(
		[]apdu.RequestItem{testGetItem(), testGetItem()},
		[]axdr.Data{axdr.Uint16(1), axdr.Bool(false)})
	if err != nil {
		t.Fatalf("set with list: %v", err)
	}
	if len(results) != 2 || results[0] != base.ResultSuccess || results[1] != base.ResultReadWriteDenied {
		t.Fatalf("results = %v", results)
	}
}

func TestSetBlockAckMismatchAborts(t *testing.T) {
	stream := &fakeStream{}
	stream.handler = func(req []byte) []byte {
		decoded, _ := apdu.Decode(req)
		switch r := decoded.(type) {
		case apdu.SetRequestWithFirstBlock:
			return apdu.SetResponseDataBlock{InvokeID: r.InvokeID, BlockNumber: 7}.Encode()
		default:
			t.Fatalf("server got %T", decoded)
			return nil
		}
	}
	settings := plainSettings()
	settings.BlockSize = ptr.To(100)
	conn := Ready(stream, settings, uint32(testConformance), testMaxPdu)
	err := conn.Set(testGetItem(), axdr.OctetString(bytes.Repeat([]byte{1}, 400)))
	if !errors.Is(err, dlmserr.ErrProtocolError) {
		t.Fatalf("expected PROTOCOL_ERROR, got %v", err)
	}
}

func TestServiceRequiresAssociation(t *testing.T) {
	conn := New(&fakeStream{}, plainSettings())
	if _, err := conn.Get([]apdu.RequestItem{testGetItem()}); !errors.Is(err, dlmserr.ErrPreconditionFailed) {
		t.Fatalf("expected PRECONDITION_FAILED, got %v", err)
	}
	if err := conn.Set(testGetItem(), axdr.Bool(true)); !errors.Is(err, dlmserr.ErrPreconditionFailed) {
		t.Fatalf("expected PRECONDITION_FAILED, got %v", err)
	}
	if err := conn.Release(); !errors.Is(err, dlmserr.ErrPreconditionFailed) {
		t.Fatalf("expected PRECONDITION_FAILED, got %v", err)
	}
}

func TestReleaseTransitions(t *testing.T) {
	conn, _ := openPlain(t, func(req []byte) []byte {
		return []byte{byte(base.TagRLRE), 0}
	})
	if err := conn.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if conn.State() != StateReleased {
		t.Fatalf("state = %s, want RELEASED", conn.State())
	}
}

func TestReadyAssociationCannotBeReleased(t *testing.T) {
	conn := Ready(&fakeStream{}, plainSettings(), uint32(testConformance), testMaxPdu)
	if conn.State() != StateReady {
		t.Fatalf("state = %s, want READY", conn.State())
	}
	if err := conn.Open(); err != nil {
		t.Fatalf("open should be a no-op for pre-established associations: %v", err)
	}
	if err := conn.Release(); !errors.Is(err, dlmserr.ErrPreconditionFailed) {
		t.Fatalf("expected PRECONDITION_FAILED, got %v", err)
	}
}

func TestReceiveDataNotification(t *testing.T) {
	stream := &fakeStream{}
	conn := Ready(stream, plainSettings(), uint32(testConformance), testMaxPdu)

	dt := axdr.DateTime{Date: axdr.Date{Year: 2026, Month: 7, Day: 31, DayOfWeek: 5},
		Time: axdr.Time{Hour: 12}, Deviation: -60}
	raw, err := apdu.DataNotification{LongInvokeID: 77, DateTime: axdr.EncodeDateTime(nil, dt), Body: axdr.Uint32(9)}.Encode()
	if err != nil {
		t.Fatalf("encode notification: %v", err)
	}
	stream.seed(raw)

	invokeID, when, body, err := conn.ReceiveDataNotification()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if invokeID != 77 {
		t.Fatalf("long invoke id = %d, want 77", invokeID)
	}
	if when == nil || *when != dt {
		t.Fatalf("date-time = %+v, want %+v", when, dt)
	}
	if body.Value.(uint32) != 9 {
		t.Fatalf("body = %+v", body)
	}
}

const gcmTestIC = 100

func testCiphers(t *testing.T) (client, server *security.Cipher, cliTitle, srvTitle []byte) {
	t.Helper()
	ek := bytes.Repeat([]byte{0x11}, 16)
	ak := bytes.Repeat([]byte{0x22}, 16)
	cliTitle = []byte("CLI00001")
	srvTitle = []byte("SRV00001")
	var err error
	client, err = security.New(security.Config{EncryptionKey: ek, AuthenticationKey: ak, ClientSystemTitle: cliTitle})
	if err != nil {
		t.Fatalf("client cipher: %v", err)
	}
	server, err = security.New(security.Config{EncryptionKey: ek, AuthenticationKey: ak, ClientSystemTitle: srvTitle})
	if err != nil {
		t.Fatalf("server cipher: %v", err)
	}
	return client, server, cliTitle, srvTitle
}

func sealResponse(server *security.Cipher, srvTitle []byte, ic uint32, plain []byte) []byte {
	sc := security.SecurityControlByte(security.PolicyAuthenticatedAndEncrypted, false)
	return apdu.GeneralGlobalCipher{SystemTitle: srvTitle, Wire: server.Seal(sc, ic, plain)}.Encode()
}

func TestCipheredInvocationCounterMonotonicity(t *testing.T) {
	clientCipher, serverCipher, cliTitle, srvTitle := testCiphers(t)

	value, _ := axdr.Encode(axdr.Uint32(1))
	serverIC := uint32(gcmTestIC)
	respond := func(req []byte) []byte {
		decoded, err := apdu.Decode(req)
		if err != nil {
			t.Fatalf("server decode: %v", err)
		}
		wrapped, ok := decoded.(apdu.GeneralGlobalCipher)
		if !ok {
			t.Fatalf("server got %T, want ciphered apdu", decoded)
		}
		plain, _, _, err := serverCipher.Open(wrapped.SystemTitle, wrapped.Wire)
		if err != nil {
			t.Fatalf("server decipher: %v", err)
		}
		inner, _ := apdu.Decode(plain)
		get := inner.(apdu.GetRequestNormal)
		resp := apdu.GetResponseNormal{InvokeID: get.InvokeID, Result: apdu.DataAccessResult{Success: true}, Value: value}.Encode()
		return sealResponse(serverCipher, srvTitle, serverIC, resp)
	}
	stream := &fakeStream{handler: respond}

	settings := plainSettings()
	settings.ClientSystemTitle = cliTitle
	settings.Cipher = clientCipher
	settings.InvocationCounter = 40
	conn := Ready(stream, settings, uint32(testConformance), testMaxPdu)

	for i := 0; i < 2; i++ {
		if _, err := conn.Get([]apdu.RequestItem{testGetItem()}); err != nil {
			t.Fatalf("ciphered get %d: %v", i, err)
		}
		serverIC++
	}

	// outbound counter on the wire is strictly monotonic from the initial
	// value: 41 then 42
	for i, raw := range stream.writes {
		decoded, _ := apdu.Decode(raw)
		wrapped := decoded.(apdu.GeneralGlobalCipher)
		ic := uint32(wrapped.Wire[1])<<24 | uint32(wrapped.Wire[2])<<16 | uint32(wrapped.Wire[3])<<8 | uint32(wrapped.Wire[4])
		if ic != 41+uint32(i) {
			t.Fatalf("outbound ic for request %d = %d, want %d", i, ic, 41+i)
		}
	}
	if conn.InvocationCounter() != 42 {
		t.Fatalf("persisted counter = %d, want 42", conn.InvocationCounter())
	}

	// a server response replaying an already-seen counter is rejected
	serverIC -= 2
	_, err := conn.Get([]apdu.RequestItem{testGetItem()})
	if !errors.Is(err, dlmserr.ErrDecryptionError) {
		t.Fatalf("expected DECRYPTION_ERROR on counter rollback, got %v", err)
	}
}

func TestCipheringInactiveWithoutGeneralProtection(t *testing.T) {
	clientCipher, _, cliTitle, _ := testCiphers(t)
	value, _ := axdr.Encode(axdr.Uint32(1))
	stream := &fakeStream{handler: func(req []byte) []byte {
		decoded, err := apdu.Decode(req)
		if err != nil {
			t.Fatalf("server decode: %v", err)
		}
		get, ok := decoded.(apdu.GetRequestNormal)
		if !ok {
			t.Fatalf("server got %T, want a plain GetRequestNormal", decoded)
		}
		return apdu.GetResponseNormal{InvokeID: get.InvokeID, Result: apdu.DataAccessResult{Success: true}, Value: value}.Encode()
	}}
	// a cipher is configured, but neither the authentication profile nor
	// the negotiated conformance asks for protection
	settings := plainSettings()
	settings.ClientSystemTitle = cliTitle
	settings.Cipher = clientCipher
	plainConf := uint32(testConformance) &^ base.ConformanceGeneralProtection
	conn := Ready(stream, settings, plainConf, testMaxPdu)

	if _, err := conn.Get([]apdu.RequestItem{testGetItem()}); err != nil {
		t.Fatalf("get: %v", err)
	}
	if conn.InvocationCounter() != 0 {
		t.Fatalf("invocation counter advanced to %d on an unciphered association", conn.InvocationCounter())
	}
}

func TestCipherPolicyAuthenticatedOnly(t *testing.T) {
	clientCipher, serverCipher, cliTitle, srvTitle := testCiphers(t)
	value, _ := axdr.Encode(axdr.Uint32(1))
	inner := []byte(nil)
	stream := &fakeStream{handler: func(req []byte) []byte {
		decoded, err := apdu.Decode(req)
		if err != nil {
			t.Fatalf("server decode: %v", err)
		}
		wrapped := decoded.(apdu.GeneralGlobalCipher)
		if wrapped.Wire[0] != byte(base.SecurityAuthentication) {
			t.Fatalf("security control byte = %#x, want authenticated-only", wrapped.Wire[0])
		}
		plain, _, _, err := serverCipher.Open(wrapped.SystemTitle, wrapped.Wire)
		if err != nil {
			t.Fatalf("server verify: %v", err)
		}
		inner = append([]byte(nil), wrapped.Wire[5:len(wrapped.Wire)-security.GCMTagSize]...)
		get, _ := apdu.Decode(plain)
		resp := apdu.GetResponseNormal{InvokeID: get.(apdu.GetRequestNormal).InvokeID,
			Result: apdu.DataAccessResult{Success: true}, Value: value}.Encode()
		sc := security.SecurityControlByte(security.PolicyAuthenticatedOnly, false)
		return apdu.GeneralGlobalCipher{SystemTitle: srvTitle, Wire: serverCipher.Seal(sc, gcmTestIC, resp)}.Encode()
	}}
	settings := plainSettings()
	settings.ClientSystemTitle = cliTitle
	settings.Cipher = clientCipher
	settings.CipherPolicy = security.PolicyAuthenticatedOnly
	conn := Ready(stream, settings, uint32(testConformance), testMaxPdu)

	got, err := conn.Get([]apdu.RequestItem{testGetItem()})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got[0].Value.(uint32) != 1 {
		t.Fatalf("value = %+v", got[0])
	}
	// authenticated-only leaves the request legible on the wire
	if len(inner) == 0 || inner[0] != byte(base.TagGetRequest) {
		t.Fatalf("request was not carried in clear: % x", inner)
	}
}

func TestCipheredResponseTamperIsDecryptionError(t *testing.T) {
	clientCipher, serverCipher, cliTitle, srvTitle := testCiphers(t)
	value, _ := axdr.Encode(axdr.Uint32(1))
	stream := &fakeStream{handler: func(req []byte) []byte {
		resp := apdu.GetResponseNormal{InvokeID: 0, Result: apdu.DataAccessResult{Success: true}, Value: value}.Encode()
		sealed := sealResponse(serverCipher, srvTitle, gcmTestIC, resp)
		sealed[len(sealed)-1] ^= 0xff
		return sealed
	}}
	settings := plainSettings()
	settings.ClientSystemTitle = cliTitle
	settings.Cipher = clientCipher
	conn := Ready(stream, settings, uint32(testConformance), testMaxPdu)
	_, err := conn.Get([]apdu.RequestItem{testGetItem()})
	if !errors.Is(err, dlmserr.ErrDecryptionError) {
		t.Fatalf("expected DECRYPTION_ERROR, got %v", err)
	}
}

func gmacSettings(cipher *security.Cipher, cliTitle []byte) Settings {
	return Settings{
		ApplicationContext:      base.ApplicationContextLNCiphering,
		Authentication:          base.AuthenticationHighGmac,
		Password:                []byte("CTOS_CHALLENGE_1"),
		ClientSystemTitle:       cliTitle,
		ProposedConformance:     uint32(testConformance),
		ClientMaxReceivePduSize: 1024,
		Cipher:                  cipher,
	}
}

func TestHLSGMACAssociation(t *testing.T) {
	clientCipher, serverCipher, cliTitle, srvTitle := testCiphers(t)
	stoc := []byte("STOC_CHALLENGE_9")

	stream := &fakeStream{}
	stream.handler = func(req []byte) []byte {
		if req[0] == byte(base.TagAARQ) {
			return buildAARE(base.ApplicationContextLNCiphering, base.AssociationResultAccepted, srvTitle, stoc)
		}
		decoded, err := apdu.Decode(req)
		if err != nil {
			t.Fatalf("server decode: %v", err)
		}
		wrapped, ok := decoded.(apdu.GeneralGlobalCipher)
		if !ok {
			t.Fatalf("hls reply arrived unciphered as %T", decoded)
		}
		plain, _, _, err := serverCipher.Open(wrapped.SystemTitle, wrapped.Wire)
		if err != nil {
			t.Fatalf("server decipher: %v", err)
		}
		inner, _ := apdu.Decode(plain)
		action, ok := inner.(apdu.ActionRequestNormal)
		if !ok {
			t.Fatalf("server got %T, want ActionRequestNormal", inner)
		}
		m := action.Item.Method
		if m.ClassID != 15 || !m.Instance.Equal(obis.New(0, 0, 40, 0, 0, 255)) || m.Attribute != 2 {
			t.Fatalf("hls reply targeted %d/%s/%d", m.ClassID, m.Instance, m.Attribute)
		}
		param, _, err := axdr.Decode(action.Parameters)
		if err != nil {
			t.Fatalf("decode hls parameter: %v", err)
		}
		want, _ := clientCipher.GMAC(cliTitle, 1, stoc)
		if !bytes.Equal(param.Value.([]byte), want) {
			t.Fatal("client f(StoC) does not verify")
		}
		ftoc, _ := serverCipher.GMAC(srvTitle, gcmTestIC, []byte("CTOS_CHALLENGE_1"))
		ret, _ := axdr.Encode(axdr.OctetString(ftoc))
		resp := apdu.ActionResponseNormal{InvokeID: action.InvokeID, Result: apdu.ActionResultSuccess, Return: ret}.Encode()
		return sealResponse(serverCipher, srvTitle, gcmTestIC+1, resp)
	}

	conn := New(stream, gmacSettings(clientCipher, cliTitle))
	if err := conn.Open(); err != nil {
		t.Fatalf("hls-gmac open: %v", err)
	}
	if conn.State() != StateAssociated {
		t.Fatalf("state = %s, want ASSOCIATED", conn.State())
	}
	if !bytes.Equal(conn.ServerSystemTitle(), srvTitle) {
		t.Fatal("server system title not captured from aare")
	}
}

func TestHLSGMACServerProofMismatch(t *testing.T) {
	clientCipher, serverCipher, cliTitle, srvTitle := testCiphers(t)
	stoc := []byte("STOC_CHALLENGE_9")

	stream := &fakeStream{}
	stream.handler = func(req []byte) []byte {
		if req[0] == byte(base.TagAARQ) {
			return buildAARE(base.ApplicationContextLNCiphering, base.AssociationResultAccepted, srvTitle, stoc)
		}
		decoded, _ := apdu.Decode(req)
		wrapped := decoded.(apdu.GeneralGlobalCipher)
		plain, _, _, err := serverCipher.Open(wrapped.SystemTitle, wrapped.Wire)
		if err != nil {
			t.Fatalf("server decipher: %v", err)
		}
		inner, _ := apdu.Decode(plain)
		action := inner.(apdu.ActionRequestNormal)
		// server answers with a proof over the wrong challenge
		bogus, _ := serverCipher.GMAC(srvTitle, gcmTestIC, []byte("NOT_THE_CTOS____"))
		ret, _ := axdr.Encode(axdr.OctetString(bogus))
		resp := apdu.ActionResponseNormal{InvokeID: action.InvokeID, Result: apdu.ActionResultSuccess, Return: ret}.Encode()
		return sealResponse(serverCipher, srvTitle, gcmTestIC+1, resp)
	}

	conn := New(stream, gmacSettings(clientCipher, cliTitle))
	err := conn.Open()
	if !errors.Is(err, dlmserr.ErrAuthenticationFailed) {
		t.Fatalf("expected AUTHENTICATION_FAILED, got %v", err)
	}
	if conn.State() != StateNoAssociation {
		t.Fatalf("state = %s, want NO_ASSOCIATION", conn.State())
	}
}
