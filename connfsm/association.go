package connfsm

import (
	"bytes"

	"go.uber.org/multierr"

	"github.com/u9n/dlms-cosem/apdu"
	"github.com/u9n/dlms-cosem/axdr"
	"github.com/u9n/dlms-cosem/base"
	"github.com/u9n/dlms-cosem/dlmserr"
	"github.com/u9n/dlms-cosem/obis"
)

// associationLNObis / hlsReplyMethod identify the Association-LN COSEM
// object this package invokes for HLS-GMAC mutual authentication: class
// 15, instance 0-0:40.0.0.255, method 2 ("reply_to_hls_authentication").
var associationLNObis = obis.New(0, 0, 40, 0, 0, 255)

const (
	associationLNClass = 15
	hlsReplyMethod     = 2
)

// Open performs the AARQ/AARE exchange and, for the HLS-GMAC mechanism,
// the subsequent challenge/response. It is a
// no-op when the Conn was built with Ready.
func (c *Conn) Open() error {
	if c.state == StateReady {
		return nil
	}
	if c.state != StateNoAssociation {
		return dlmserr.New(dlmserr.PreconditionFailed, "open called from state %s", c.state)
	}
	if err := c.stream.Open(); err != nil {
		return err
	}

	initiate := apdu.InitiateRequest{
		ProposedConformance:     c.settings.ProposedConformance,
		ClientMaxReceivePduSize: c.settings.ClientMaxReceivePduSize,
	}
	userInfo := initiate.Encode()

	// For HLS-GMAC the CtoS challenge is taken verbatim from
	// Settings.Password; a caller wanting fresh randomness per
	// association draws it before building the settings.
	challenge := c.settings.Password

	req := apdu.AARQ{
		ApplicationContext:        c.settings.ApplicationContext,
		AuthenticationMechanism:   c.settings.Authentication,
		ClientSystemTitle:         c.settings.ClientSystemTitle,
		CallingAuthenticationValue: challenge,
		UserID:                    c.settings.UserID,
		UserInformation:           userInfo,
	}

	c.state = StateAwaitingResponse
	if err := c.stream.Write(req.Encode()); err != nil {
		c.state = StateNoAssociation
		return err
	}

	raw, err := c.readFullPDU()
	if err != nil {
		c.state = StateNoAssociation
		return err
	}
	decoded, err := apdu.Decode(raw)
	if err != nil {
		c.state = StateNoAssociation
		return err
	}
	aare, ok := decoded.(apdu.AARE)
	if !ok {
		c.state = StateNoAssociation
		return dlmserr.New(dlmserr.ProtocolError, "expected aare, got %T", decoded)
	}
	if aare.UserInformationTag == base.TagConfirmedServiceError {
		c.state = StateNoAssociation
		cse, cerr := apdu.DecodeConfirmedServiceError(aare.UserInformation)
		if cerr != nil {
			return cerr
		}
		return dlmserr.New(dlmserr.AssociationRefused, "association refused: result=%s diagnostic=%s confirmed-service-error service=%d error=%d value=%d",
			aare.Result, aare.SourceDiagnostic, cse.Service, cse.ServiceError, cse.Value)
	}
	if aare.Result != base.AssociationResultAccepted {
		c.state = StateNoAssociation
		return dlmserr.New(dlmserr.AssociationRefused, "association refused: result=%s diagnostic=%s", aare.Result, aare.SourceDiagnostic)
	}
	if aare.ApplicationContext != c.settings.ApplicationContext {
		c.state = StateNoAssociation
		return dlmserr.New(dlmserr.ProtocolError, "application context mismatch: got %d want %d", aare.ApplicationContext, c.settings.ApplicationContext)
	}
	userInfoBody := aare.UserInformation
	switch aare.UserInformationTag {
	case base.TagInitiateResponse:
	case base.TagGloInitiateResponse, base.TagGeneralGloCiphering:
		if c.settings.Cipher == nil {
			c.state = StateNoAssociation
			return dlmserr.New(dlmserr.DecryptionError, "aare carries ciphered initiate-response but no cipher is configured")
		}
		plain, derr := c.decipherInitiate(aare.ServerSystemTitle, userInfoBody)
		if derr != nil {
			c.state = StateNoAssociation
			return derr
		}
		if len(plain) < 1 || base.CosemTag(plain[0]) != base.TagInitiateResponse {
			c.state = StateNoAssociation
			return dlmserr.New(dlmserr.Malformed, "deciphered aare user-information is not an initiate-response")
		}
		userInfoBody = plain[1:]
	default:
		c.state = StateNoAssociation
		return dlmserr.New(dlmserr.Malformed, "expected initiate-response in aare user-information, got tag %d", aare.UserInformationTag)
	}
	initResp, err := apdu.DecodeInitiateResponse(userInfoBody)
	if err != nil {
		c.state = StateNoAssociation
		return err
	}

	c.serverSystemTitle = aare.ServerSystemTitle
	c.negotiatedConf = initResp.ReturnedConformance
	c.serverMaxPduSize = initResp.ServerMaxReceivePduSize
	c.vaAddress = initResp.VAAddress
	c.cipherActive = c.decideCiphering()
	c.state = StateAssociated

	if c.settings.Authentication == base.AuthenticationHighGmac {
		if err := c.authenticateGMAC(aare.ServerChallenge); err != nil {
			c.state = StateNoAssociation
			c.cipherActive = false
			return err
		}
	}
	c.logf("association established: conformance=%#x maxpdu=%d vaa=%d ciphered=%v", c.negotiatedConf, c.serverMaxPduSize, c.vaAddress, c.cipherActive)
	return nil
}

// decipherInitiate unwraps a glo-ciphered initiate-response carried in the
// AARE user-information field: a DLMS length, then the usual
// sc||ic(4BE)||ciphertext||tag wire bytes.
func (c *Conn) decipherInitiate(serverSystemTitle, body []byte) ([]byte, error) {
	n, consumed, err := axdr.DecodeLength(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if int(n) > len(body)-consumed {
		return nil, dlmserr.New(dlmserr.Malformed, "ciphered initiate-response length exceeds buffer")
	}
	plain, _, _, err := c.settings.Cipher.Open(serverSystemTitle, body[consumed:consumed+int(n)])
	return plain, err
}

// authenticateGMAC completes the HLS-GMAC mutual challenge: the client
// answers the server's StoC challenge via an ActionRequest on
// Association-LN, and verifies the server's own response against the
// client-to-server challenge it proposed in the AARQ.
func (c *Conn) authenticateGMAC(serverChallenge []byte) error {
	if c.settings.Cipher == nil {
		return dlmserr.New(dlmserr.PreconditionFailed, "hls-gmac mechanism requires a configured cipher")
	}
	response, err := c.settings.Cipher.GMAC(c.settings.ClientSystemTitle, c.settings.InvocationCounter+1, serverChallenge)
	if err != nil {
		return err
	}
	c.settings.InvocationCounter++

	params, err := axdr.Encode(axdr.OctetString(response))
	if err != nil {
		return err
	}
	req := apdu.ActionRequestNormal{
		InvokeID: apdu.InvokeIdAndPriority(c.nextInvokeID()),
		Item: apdu.ActionItem{Method: apdu.CosemAttribute{
			ClassID:   associationLNClass,
			Instance:  associationLNObis,
			Attribute: hlsReplyMethod,
		}},
		Parameters: params,
	}
	if err := c.sendAPDU(req.Encode()); err != nil {
		return err
	}
	decoded, err := c.receiveAPDU()
	if err != nil {
		return err
	}
	resp, ok := decoded.(apdu.ActionResponseNormal)
	if !ok {
		return dlmserr.New(dlmserr.ProtocolError, "expected action-response-normal for hls-gmac reply, got %T", decoded)
	}
	if resp.Result != apdu.ActionResultSuccess {
		return dlmserr.New(dlmserr.AuthenticationFailed, "server rejected hls-gmac reply: result=%d", resp.Result)
	}
	if resp.ReturnError != nil {
		return dlmserr.New(dlmserr.AuthenticationFailed, "server returned %s instead of a verification value", resp.ReturnError)
	}
	if len(resp.Return) == 0 {
		return dlmserr.New(dlmserr.AuthenticationFailed, "server sent no verification value for hls-gmac")
	}
	serverValue, _, err := axdr.Decode(resp.Return)
	if err != nil {
		return err
	}
	serverResponse, ok := serverValue.Value.([]byte)
	if !ok {
		return dlmserr.New(dlmserr.Malformed, "hls-gmac verification value is not an octet string")
	}
	ok, err = c.settings.Cipher.VerifyGMAC(c.serverSystemTitle, c.settings.Password, serverResponse)
	if err != nil {
		return err
	}
	if !ok {
		return dlmserr.New(dlmserr.AuthenticationFailed, "server failed to prove knowledge of the authentication key")
	}
	return nil
}

// Release sends an RLRQ and awaits the RLRE.
func (c *Conn) Release() error {
	if c.state != StateAssociated {
		return dlmserr.New(dlmserr.PreconditionFailed, "release called from state %s", c.state)
	}
	req := apdu.RLRQ{Empty: c.settings.EmptyRLRQ}
	c.state = StateAwaitingReleaseResponse
	if err := c.sendAPDU(req.Encode()); err != nil {
		return err
	}
	decoded, err := c.receiveAPDU()
	if err != nil {
		return err
	}
	if _, ok := decoded.(apdu.RLRE); !ok {
		return dlmserr.New(dlmserr.ProtocolError, "expected rlre, got %T", decoded)
	}
	c.state = StateReleased
	return nil
}

// Close releases the association (best-effort) and closes the transport,
// reporting both failures when teardown stumbles twice.
func (c *Conn) Close() error {
	var err error
	if c.state == StateAssociated {
		err = c.Release()
	}
	return multierr.Append(err, c.stream.Close())
}
