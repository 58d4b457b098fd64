package connfsm

import (
	"github.com/u9n/dlms-cosem/apdu"
	"github.com/u9n/dlms-cosem/axdr"
	"github.com/u9n/dlms-cosem/base"
	"github.com/u9n/dlms-cosem/dlmserr"
)

// defaultBlockSize bounds SET segmentation when neither the caller nor
// the association negotiation provided a PDU size to derive it from.
const defaultBlockSize = 500

// blockSize is how many bytes of an encoded SET value travel per xDLMS
// block: the caller's override, else the server's negotiated maximum PDU
// size. It is independent of the HDLC/Wrapper framing window.
func (c *Conn) blockSize() int {
	if c.settings.BlockSize != nil && *c.settings.BlockSize > 0 {
		return *c.settings.BlockSize
	}
	if c.serverMaxPduSize > 0 {
		return int(c.serverMaxPduSize)
	}
	return defaultBlockSize
}

// Set writes a single attribute, segmenting the value across
// SetRequestWithFirstBlock/WithBlock when it does not fit in one PDU.
func (c *Conn) Set(item apdu.RequestItem, value axdr.Data) error {
	if c.state != StateAssociated && c.state != StateReady {
		return dlmserr.New(dlmserr.PreconditionFailed, "set called from state %s", c.state)
	}
	encoded, err := axdr.Encode(value)
	if err != nil {
		return err
	}
	invokeID := c.nextInvokeID()

	if len(encoded) <= c.blockSize() {
		req := apdu.SetRequestNormal{InvokeID: apdu.InvokeIdAndPriority(invokeID), Item: item, Value: encoded}
		if err := c.sendAPDU(req.Encode()); err != nil {
			return err
		}
		decoded, err := c.receiveAPDU()
		if err != nil {
			return err
		}
		resp, ok := decoded.(apdu.SetResponseNormal)
		if !ok {
			return dlmserr.New(dlmserr.ProtocolError, "expected set-response-normal, got %T", decoded)
		}
		if resp.Result != 0 {
			return dlmserr.ServiceErrorFor(int(resp.Result), resp.Result.String())
		}
		return nil
	}

	return c.setSegmented(invokeID, item, encoded)
}

func (c *Conn) setSegmented(invokeID byte, item apdu.RequestItem, encoded []byte) error {
	size := c.blockSize()
	blockNumber := uint32(1)
	first := encoded[:size]
	rest := encoded[size:]
	lastBlock := len(rest) == 0

	req := apdu.SetRequestWithFirstBlock{
		InvokeID:    apdu.InvokeIdAndPriority(invokeID),
		Item:        item,
		LastBlock:   lastBlock,
		BlockNumber: blockNumber,
		Raw:         first,
	}
	if err := c.sendAPDU(req.Encode()); err != nil {
		return err
	}

	for {
		decoded, err := c.receiveAPDU()
		if err != nil {
			return err
		}
		switch resp := decoded.(type) {
		case apdu.SetResponseLastBlock:
			if resp.Result != 0 {
				return dlmserr.ServiceErrorFor(int(resp.Result), resp.Result.String())
			}
			return nil
		case apdu.SetResponseNormal:
			// some servers close a block write with a plain normal response
			if resp.Result != 0 {
				return dlmserr.ServiceErrorFor(int(resp.Result), resp.Result.String())
			}
			return nil
		case apdu.SetResponseDataBlock:
			if resp.BlockNumber != blockNumber {
				return dlmserr.New(dlmserr.ProtocolError, "set block ack %d, expected %d", resp.BlockNumber, blockNumber)
			}
			if len(rest) == 0 {
				return dlmserr.New(dlmserr.ProtocolError, "set block ack received after the final block")
			}
			blockNumber++
			chunk := rest
			if len(chunk) > size {
				chunk = chunk[:size]
			}
			rest = rest[len(chunk):]
			lastBlock = len(rest) == 0
			next := apdu.SetRequestWithBlock{
				InvokeID:    apdu.InvokeIdAndPriority(invokeID),
				LastBlock:   lastBlock,
				BlockNumber: blockNumber,
				Raw:         chunk,
			}
			if err := c.sendAPDU(next.Encode()); err != nil {
				return err
			}
		default:
			return dlmserr.New(dlmserr.ProtocolError, "unexpected apdu in set response stream: %T", decoded)
		}
	}
}

// SetWithList writes several attributes in one PDU, none of which may
// segment. Returns the per-item result codes in request order.
func (c *Conn) SetWithList(items []apdu.RequestItem, values []axdr.Data) ([]apdu.AccessResultTag, error) {
	if c.state != StateAssociated && c.state != StateReady {
		return nil, dlmserr.New(dlmserr.PreconditionFailed, "set called from state %s", c.state)
	}
	if len(items) != len(values) {
		return nil, dlmserr.New(dlmserr.PreconditionFailed, "set with list needs one value per item: %d != %d", len(items), len(values))
	}
	if c.negotiatedConf&base.ConformanceMultipleReferences == 0 {
		return nil, dlmserr.New(dlmserr.PreconditionFailed, "server did not negotiate multiple-references conformance")
	}
	encoded := make([][]byte, len(values))
	for i, v := range values {
		enc, err := axdr.Encode(v)
		if err != nil {
			return nil, err
		}
		encoded[i] = enc
	}
	req := apdu.SetRequestWithList{InvokeID: apdu.InvokeIdAndPriority(c.nextInvokeID()), Items: items, Values: encoded}
	if err := c.sendAPDU(req.Encode()); err != nil {
		return nil, err
	}
	decoded, err := c.receiveAPDU()
	if err != nil {
		return nil, err
	}
	resp, ok := decoded.(apdu.SetResponseWithList)
	if !ok {
		return nil, dlmserr.New(dlmserr.ProtocolError, "expected set-response-with-list, got %T", decoded)
	}
	return resp.Results, nil
}
