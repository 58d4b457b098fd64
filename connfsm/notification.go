package connfsm

import (
	"github.com/u9n/dlms-cosem/apdu"
	"github.com/u9n/dlms-cosem/axdr"
	"github.com/u9n/dlms-cosem/dlmserr"
)

// ReceiveDataNotification reads one unsolicited DataNotification APDU
// arriving outside the normal request/response cycle. The returned date-time is nil when the server
// omitted it. Callers that expect pushes on an otherwise idle association
// should run this in its own read loop.
func (c *Conn) ReceiveDataNotification() (uint32, *axdr.DateTime, axdr.Data, error) {
	decoded, err := c.receiveAPDU()
	if err != nil {
		return 0, nil, axdr.Data{}, err
	}
	notif, ok := decoded.(apdu.DataNotification)
	if !ok {
		return 0, nil, axdr.Data{}, dlmserr.New(dlmserr.ProtocolError, "expected data-notification, got %T", decoded)
	}
	var when *axdr.DateTime
	if len(notif.DateTime) > 0 {
		dt, err := axdr.DecodeDateTime(notif.DateTime)
		if err != nil {
			return 0, nil, axdr.Data{}, dlmserr.Wrap(dlmserr.Malformed, err, "data-notification date-time")
		}
		when = &dt
	}
	return notif.LongInvokeID, when, notif.Body, nil
}
