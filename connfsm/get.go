package connfsm

import (
	"github.com/u9n/dlms-cosem/apdu"
	"github.com/u9n/dlms-cosem/axdr"
	"github.com/u9n/dlms-cosem/base"
	"github.com/u9n/dlms-cosem/dlmserr"
)

// Get fetches one or more attributes, transparently reassembling a
// segmented response. A single item uses GetRequestNormal; more than one
// uses GetRequestWithList, gated by the negotiated
// ConformanceMultipleReferences bit.
func (c *Conn) Get(items []apdu.RequestItem) ([]axdr.Data, error) {
	if c.state != StateAssociated && c.state != StateReady {
		return nil, dlmserr.New(dlmserr.PreconditionFailed, "get called from state %s", c.state)
	}
	if len(items) > 1 && c.negotiatedConf&base.ConformanceMultipleReferences == 0 {
		return nil, dlmserr.New(dlmserr.PreconditionFailed, "server did not negotiate multiple-references conformance")
	}

	invokeID := c.nextInvokeID()
	var req interface{ Encode() []byte }
	if len(items) == 1 {
		req = apdu.GetRequestNormal{InvokeID: apdu.InvokeIdAndPriority(invokeID), Item: items[0]}
	} else {
		req = apdu.GetRequestWithList{InvokeID: apdu.InvokeIdAndPriority(invokeID), Items: items}
	}
	if err := c.sendAPDU(req.Encode()); err != nil {
		return nil, err
	}

	decoded, err := c.receiveAPDU()
	if err != nil {
		return nil, err
	}

	if len(items) > 1 {
		return c.finishGetWithList(decoded)
	}
	return c.finishGetNormal(decoded, invokeID)
}

func (c *Conn) finishGetWithList(decoded interface{}) ([]axdr.Data, error) {
	resp, ok := decoded.(apdu.GetResponseWithList)
	if !ok {
		return nil, dlmserr.New(dlmserr.ProtocolError, "expected get-response-with-list, got %T", decoded)
	}
	out := make([]axdr.Data, len(resp.Results))
	for i, res := range resp.Results {
		if !res.Success {
			return nil, dlmserr.ServiceErrorFor(int(res.Result), res.Result.String())
		}
		d, _, err := axdr.Decode(resp.Values[i])
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

func (c *Conn) finishGetNormal(decoded interface{}, invokeID byte) ([]axdr.Data, error) {
	var payload []byte
	expectedBlock := uint32(1)
	for {
		switch resp := decoded.(type) {
		case apdu.GetResponseNormal:
			if !resp.Result.Success {
				return nil, dlmserr.ServiceErrorFor(int(resp.Result.Result), resp.Result.Result.String())
			}
			d, _, err := axdr.Decode(resp.Value)
			if err != nil {
				return nil, err
			}
			return []axdr.Data{d}, nil
		case apdu.GetResponseWithBlock:
			if !resp.Result.Success {
				return nil, dlmserr.ServiceErrorFor(int(resp.Result.Result), resp.Result.Result.String())
			}
			// Block numbers start at 1 and increase by one per block; any
			// other sequence means client and server lost sync.
			if resp.BlockNumber != expectedBlock {
				return nil, dlmserr.New(dlmserr.ProtocolError, "get block number %d, expected %d", resp.BlockNumber, expectedBlock)
			}
			expectedBlock++
			payload = append(payload, resp.Raw...)
			if resp.LastBlock {
				d, _, err := axdr.Decode(payload)
				if err != nil {
					return nil, err
				}
				return []axdr.Data{d}, nil
			}
			nextReq := apdu.GetRequestNext{InvokeID: apdu.InvokeIdAndPriority(invokeID), BlockNumber: resp.BlockNumber + 1}
			if err := c.sendAPDU(nextReq.Encode()); err != nil {
				return nil, err
			}
		default:
			return nil, dlmserr.New(dlmserr.ProtocolError, "unexpected apdu in get response stream: %T", decoded)
		}
		next, err := c.receiveAPDU()
		if err != nil {
			return nil, err
		}
		decoded = next
	}
}
