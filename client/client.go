// Package client is the synchronous facade applications drive: it wires
// a connfsm.Conn to a base.Stream transport and exposes one call per
// COSEM service, hiding block transfer, ciphering and invocation-counter
// bookkeeping behind plain Go method calls.
package client

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/u9n/dlms-cosem/apdu"
	"github.com/u9n/dlms-cosem/axdr"
	"github.com/u9n/dlms-cosem/base"
	"github.com/u9n/dlms-cosem/connfsm"
	"github.com/u9n/dlms-cosem/obis"
)

// Client is a single association's worth of request/response traffic.
// It is not safe for concurrent use: one request in flight per
// association, same as connfsm.Conn.
type Client struct {
	conn *connfsm.Conn
	id   uuid.UUID
}

// New builds a Client that will perform the AARQ/AARE exchange (and, for
// HLS-GMAC, the challenge/response) on Associate.
func New(transport base.Stream, settings connfsm.Settings) *Client {
	return &Client{conn: connfsm.New(transport, settings), id: uuid.New()}
}

// Ready adopts an out-of-band pre-established association, skipping
// AARQ/AARE entirely (connfsm.Ready).
func Ready(transport base.Stream, settings connfsm.Settings, negotiatedConformance uint32, serverMaxPduSize uint16) *Client {
	return &Client{conn: connfsm.Ready(transport, settings, negotiatedConformance, serverMaxPduSize), id: uuid.New()}
}

// SetLogger tags every log line from this association with a stable
// correlation id, so interleaved associations in one process's logs stay
// distinguishable.
func (c *Client) SetLogger(logger *zap.SugaredLogger) {
	c.conn.SetLogger(logger.With("conn", c.id.String()))
}

// Associate performs the AARQ/AARE exchange (and HLS-GMAC challenge, when
// configured). A no-op for a Client built with Ready.
func (c *Client) Associate() error { return c.conn.Open() }

// Release sends an RLRQ and awaits the RLRE.
func (c *Client) Release() error { return c.conn.Release() }

// Close releases the association (best-effort) and closes the transport.
func (c *Client) Close() error { return c.conn.Close() }

// State reports the current association lifecycle state.
func (c *Client) State() connfsm.State { return c.conn.State() }

// NegotiatedConformance, ServerSystemTitle and InvocationCounter expose
// the session state a caller may persist across reconnects.
func (c *Client) NegotiatedConformance() uint32 { return c.conn.NegotiatedConformance() }
func (c *Client) ServerSystemTitle() []byte     { return c.conn.ServerSystemTitle() }
func (c *Client) InvocationCounter() uint32     { return c.conn.InvocationCounter() }

// AttributeRef names a single COSEM attribute to GET or SET.
type AttributeRef struct {
	ClassID   uint16
	Instance  obis.Obis
	Attribute int8
	Access    *apdu.AccessSelector
}

func (r AttributeRef) toRequestItem() apdu.RequestItem {
	return apdu.RequestItem{
		Attribute: apdu.CosemAttribute{ClassID: r.ClassID, Instance: r.Instance, Attribute: r.Attribute},
		Access:    r.Access,
	}
}

// Get reads a single attribute.
func (c *Client) Get(ref AttributeRef) (axdr.Data, error) {
	values, err := c.conn.Get([]apdu.RequestItem{ref.toRequestItem()})
	if err != nil {
		return axdr.Data{}, err
	}
	return values[0], nil
}

// GetWithList reads several attributes in one PDU (requires the server to
// have negotiated ConformanceMultipleReferences).
func (c *Client) GetWithList(refs []AttributeRef) ([]axdr.Data, error) {
	items := make([]apdu.RequestItem, len(refs))
	for i, r := range refs {
		items[i] = r.toRequestItem()
	}
	return c.conn.Get(items)
}

// Set writes a single attribute, transparently segmenting the value if
// it does not fit in one PDU.
func (c *Client) Set(ref AttributeRef, value axdr.Data) error {
	return c.conn.Set(ref.toRequestItem(), value)
}

// SetWithList writes several attributes in one PDU (requires the server
// to have negotiated ConformanceMultipleReferences), returning per-item
// result codes in request order.
func (c *Client) SetWithList(refs []AttributeRef, values []axdr.Data) ([]apdu.AccessResultTag, error) {
	items := make([]apdu.RequestItem, len(refs))
	for i, r := range refs {
		items[i] = r.toRequestItem()
	}
	return c.conn.SetWithList(items, values)
}

// MethodRef names a single COSEM method to invoke via ACTION.
type MethodRef struct {
	ClassID   uint16
	Instance  obis.Obis
	MethodID  int8
}

func (r MethodRef) toActionItem() apdu.ActionItem {
	return apdu.ActionItem{Method: apdu.CosemAttribute{ClassID: r.ClassID, Instance: r.Instance, Attribute: r.MethodID}}
}

// Action invokes a COSEM method, transparently reassembling a segmented
// result. parameters may be nil when the method takes no argument.
func (c *Client) Action(ref MethodRef, parameters *axdr.Data) (*axdr.Data, error) {
	var encodedParams []byte
	if parameters != nil {
		encoded, err := axdr.Encode(*parameters)
		if err != nil {
			return nil, err
		}
		encodedParams = encoded
	}
	raw, err := c.conn.Action(ref.toActionItem(), encodedParams)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	d, _, err := axdr.Decode(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ReceiveDataNotification blocks for the next unsolicited push APDU. The
// date-time is nil when the server omitted it.
func (c *Client) ReceiveDataNotification() (invokeID uint32, when *axdr.DateTime, body axdr.Data, err error) {
	return c.conn.ReceiveDataNotification()
}
