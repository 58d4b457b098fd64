package client

import (
	"bytes"
	"io"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/u9n/dlms-cosem/base"
	"github.com/u9n/dlms-cosem/connfsm"
	"github.com/u9n/dlms-cosem/obis"
	"github.com/u9n/dlms-cosem/wrapper"
)

// tcpFake plays the raw socket under the wrapper framing, serving the
// scripted response in short reads.
type tcpFake struct {
	response []byte
	writes   [][]byte
}

func (f *tcpFake) Open() error                         { return nil }
func (f *tcpFake) Close() error                        { return nil }
func (f *tcpFake) Disconnect() error                   { return nil }
func (f *tcpFake) SetLogger(logger *zap.SugaredLogger) {}
func (f *tcpFake) SetDeadline(t time.Time)             {}
func (f *tcpFake) SetTimeout(t time.Duration)          {}
func (f *tcpFake) SetMaxReceivedBytes(m int64)         {}
func (f *tcpFake) GetRxTxBytes() (int64, int64)        { return 0, 0 }

func (f *tcpFake) Write(src []byte) error {
	f.writes = append(f.writes, append([]byte(nil), src...))
	return nil
}

func (f *tcpFake) Read(p []byte) (int, error) {
	if len(f.response) == 0 {
		return 0, io.EOF
	}
	n := copy(p, f.response)
	if n > 64 {
		n = 64 // force the facade to loop over short reads
	}
	f.response = f.response[n:]
	return n, nil
}

// TestPlainGetOverWrapper drives an entire unciphered GET through the
// facade, the connection engine and the wrapper framing, down to the exact
// bytes a DLMS-over-TCP meter sees.
func TestPlainGetOverWrapper(t *testing.T) {
	socket := &tcpFake{}
	transport := wrapper.New(socket, 0x10, 0x01)

	c := Ready(transport, connfsm.Settings{
		ApplicationContext:      base.ApplicationContextLNNoCiphering,
		ClientMaxReceivePduSize: 1024,
		HighPriority:            true,
		ConfirmedRequests:       true,
	}, base.ConformanceGet, 500)

	// get-response-normal: success carrying double-long-unsigned 1,
	// prefixed by the 8-byte wrapper header
	response := []byte{0xc4, 0x01, 0xc0, 0x00, 0x06, 0x00, 0x00, 0x00, 0x01}
	socket.response = append([]byte{0x00, 0x01, 0x00, 0x01, 0x00, 0x10, 0x00, byte(len(response))}, response...)

	got, err := c.Get(AttributeRef{ClassID: 15, Instance: obis.New(0, 0, 43, 1, 0, 255), Attribute: 2})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Value.(uint32) != 1 {
		t.Fatalf("value = %+v, want uint32 1", got)
	}

	want := []byte{
		0x00, 0x01, 0x00, 0x10, 0x00, 0x01, 0x00, 0x0d, // wrapper header
		0xc0, 0x01, 0xc0, // get-request-normal, invoke id with priority+confirmed
		0x00, 0x0f, // class 15
		0x00, 0x00, 0x2b, 0x01, 0x00, 0xff, // obis 0-0:43.1.0.255
		0x02, // attribute 2
		0x00, // no access selector
	}
	if len(socket.writes) != 1 || !bytes.Equal(socket.writes[0], want) {
		t.Fatalf("wire = % x, want % x", socket.writes[0], want)
	}
}

func TestClientLifecycleState(t *testing.T) {
	socket := &tcpFake{}
	transport := wrapper.New(socket, 0x10, 0x01)
	c := Ready(transport, connfsm.Settings{}, base.ConformanceGet, 500)
	if c.State() != connfsm.StateReady {
		t.Fatalf("state = %s, want READY", c.State())
	}
	if c.NegotiatedConformance() != base.ConformanceGet {
		t.Fatalf("conformance = %#x", c.NegotiatedConformance())
	}
}
