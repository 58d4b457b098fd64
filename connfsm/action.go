package connfsm

import (
	"github.com/u9n/dlms-cosem/apdu"
	"github.com/u9n/dlms-cosem/dlmserr"
)

// Action invokes a single COSEM method, transparently reassembling a
// segmented result via ActionRequestNextPBlock/ActionResponseWithPBlock.
// parameters is the encoded axdr.Data argument, nil when the method takes
// none. The returned bytes are the encoded axdr.Data return value, nil
// when the method returns nothing.
func (c *Conn) Action(item apdu.ActionItem, parameters []byte) ([]byte, error) {
	if c.state != StateAssociated && c.state != StateReady {
		return nil, dlmserr.New(dlmserr.PreconditionFailed, "action called from state %s", c.state)
	}
	invokeID := c.nextInvokeID()
	req := apdu.ActionRequestNormal{
		InvokeID:   apdu.InvokeIdAndPriority(invokeID),
		Item:       item,
		Parameters: parameters,
	}
	if err := c.sendAPDU(req.Encode()); err != nil {
		return nil, err
	}

	decoded, err := c.receiveAPDU()
	if err != nil {
		return nil, err
	}

	var payload []byte
	expectedBlock := uint32(1)
	for {
		switch resp := decoded.(type) {
		case apdu.ActionResponseNormal:
			if resp.Result != apdu.ActionResultSuccess {
				return nil, dlmserr.ServiceErrorFor(int(resp.Result), "action failed")
			}
			if resp.ReturnError != nil {
				return nil, dlmserr.ServiceErrorFor(int(*resp.ReturnError), resp.ReturnError.String())
			}
			return resp.Return, nil
		case apdu.ActionResponseWithPBlock:
			if resp.BlockNumber != expectedBlock {
				return nil, dlmserr.New(dlmserr.ProtocolError, "action block number %d, expected %d", resp.BlockNumber, expectedBlock)
			}
			expectedBlock++
			payload = append(payload, resp.Raw...)
			if resp.LastBlock {
				return payload, nil
			}
			nextReq := apdu.ActionRequestNextPBlock{InvokeID: apdu.InvokeIdAndPriority(invokeID), BlockNumber: resp.BlockNumber + 1}
			if err := c.sendAPDU(nextReq.Encode()); err != nil {
				return nil, err
			}
		default:
			return nil, dlmserr.New(dlmserr.ProtocolError, "unexpected apdu in action response stream: %T", decoded)
		}
		next, err := c.receiveAPDU()
		if err != nil {
			return nil, err
		}
		decoded = next
	}
}

// ActionWithList invokes several methods in one PDU, none of which may
// segment their results.
func (c *Conn) ActionWithList(items []apdu.ActionItem, parameters [][]byte) ([]apdu.ActionResultTag, error) {
	if c.state != StateAssociated && c.state != StateReady {
		return nil, dlmserr.New(dlmserr.PreconditionFailed, "action called from state %s", c.state)
	}
	req := apdu.ActionRequestWithList{
		InvokeID:   apdu.InvokeIdAndPriority(c.nextInvokeID()),
		Items:      items,
		Parameters: parameters,
	}
	if err := c.sendAPDU(req.Encode()); err != nil {
		return nil, err
	}
	decoded, err := c.receiveAPDU()
	if err != nil {
		return nil, err
	}
	resp, ok := decoded.(apdu.ActionResponseWithList)
	if !ok {
		return nil, dlmserr.New(dlmserr.ProtocolError, "expected action-response-with-list, got %T", decoded)
	}
	return resp.Results, nil
}
