package base

// DlmsVersion is the fixed protocol version carried in AARQ/AARE.
const DlmsVersion = 0x06

// Authentication identifies the association authentication mechanism.
type Authentication byte

const (
	AuthenticationNone     Authentication = 0
	AuthenticationLow      Authentication = 1
	AuthenticationHigh     Authentication = 2
	AuthenticationHighMD5  Authentication = 3
	AuthenticationHighSHA1 Authentication = 4
	AuthenticationHighGmac Authentication = 5 // the only HLS mechanism in scope
	// AuthenticationHighSha256 and AuthenticationHighEcdsa are not
	// offered: signature-based authentication is out of scope.
)

// Security encodes the security-control-byte bits.
type Security byte

const (
	SecurityNone           Security = 0
	SecurityAuthentication Security = 0x10
	SecurityEncryption     Security = 0x20
	// The bits under SecuritySuiteMask are always 0: only security suite 0
	// (AES-GCM-128) is in scope.
	SecuritySuiteMask Security = 0x0f
	KeySetDedicated   Security = 0x01
)

// AssociationResult is the outcome of an AARE.
type AssociationResult byte

const (
	AssociationResultAccepted          AssociationResult = 0
	AssociationResultPermanentRejected AssociationResult = 1
	AssociationResultTransientRejected AssociationResult = 2
)

func (a AssociationResult) String() string {
	switch a {
	case AssociationResultAccepted:
		return "accepted"
	case AssociationResultPermanentRejected:
		return "permanent-rejected"
	case AssociationResultTransientRejected:
		return "transient-rejected"
	default:
		return "unknown"
	}
}

// SourceDiagnostic refines an AARE result.
type SourceDiagnostic byte

const (
	SourceDiagnosticNone                   SourceDiagnostic = 0
	SourceDiagnosticNoReasonGiven          SourceDiagnostic = 1
	SourceDiagnosticAuthenticationFailure  SourceDiagnostic = 13
	SourceDiagnosticAuthenticationRequired SourceDiagnostic = 14
)

func (s SourceDiagnostic) String() string {
	switch s {
	case SourceDiagnosticNone:
		return "none"
	case SourceDiagnosticNoReasonGiven:
		return "no-reason-given"
	case SourceDiagnosticAuthenticationFailure:
		return "authentication-failure"
	case SourceDiagnosticAuthenticationRequired:
		return "authentication-required"
	default:
		return "unknown"
	}
}

// ApplicationContext selects LN/SN referencing and whether ciphering
// applies. Only the LN variants are produced by this module.
type ApplicationContext byte

const (
	ApplicationContextLNNoCiphering ApplicationContext = 1
	ApplicationContextLNCiphering   ApplicationContext = 3
)

// ReleaseRequestReason is the RLRQ reason code.
type ReleaseRequestReason byte

const (
	ReleaseRequestReasonNormal ReleaseRequestReason = 0
	ReleaseRequestReasonUrgent ReleaseRequestReason = 1
)

// BER tag-class bits used by AARQ/AARE field encoding.
const (
	BERTypeContext     = 0x80
	BERTypeApplication = 0x40
	BERTypeConstructed = 0x20
)

// AARQ/AARE field tag numbers (ACSE / A-profile selector bytes).
const (
	PduTypeProtocolVersion            = 0
	PduTypeApplicationContextName     = 1
	PduTypeCalledAPTitle              = 2
	PduTypeCalledAEQualifier          = 3
	PduTypeCalledAPInvocationID       = 4
	PduTypeCalledAEInvocationID       = 5
	PduTypeCallingAPTitle             = 6
	PduTypeCallingAEQualifier         = 7
	PduTypeCallingAPInvocationID      = 8
	PduTypeCallingAEInvocationID      = 9
	PduTypeSenderAcseRequirements     = 10
	PduTypeMechanismName              = 11
	PduTypeCallingAuthenticationValue = 12
	PduTypeUserInformation            = 30
)

// Conformance block bits.
const (
	ConformanceGeneralProtection           uint32 = 0b010000000000000000000000
	ConformanceBlockTransferWithGetOrRead  uint32 = 0b000000000001000000000000
	ConformanceBlockTransferWithSetOrWrite uint32 = 0b000000000000100000000000
	ConformanceBlockTransferWithAction     uint32 = 0b000000000000010000000000
	ConformanceMultipleReferences          uint32 = 0b000000000000001000000000
	ConformanceAttribute0SupportedWithGet  uint32 = 0b000000000010000000000000
	ConformanceSelectiveAccess             uint32 = 0b000000000000000000000100
	ConformanceGet                         uint32 = 0b000000000000000000010000
	ConformanceSet                         uint32 = 0b000000000000000000001000
	ConformanceAction                      uint32 = 0b000000000000000000000001
)

// CosemTag is the leading byte of an APDU.
type CosemTag byte

const (
	TagInitiateRequest          CosemTag = 1
	TagConfirmedServiceError    CosemTag = 14
	TagDataNotification         CosemTag = 15
	TagInitiateResponse         CosemTag = 8
	TagGloInitiateRequest       CosemTag = 33
	TagGloInitiateResponse      CosemTag = 40
	TagGloConfirmedServiceError CosemTag = 46

	TagAARQ CosemTag = 96
	TagAARE CosemTag = 97
	TagRLRQ CosemTag = 98
	TagRLRE CosemTag = 99

	TagGetRequest     CosemTag = 192
	TagSetRequest     CosemTag = 193
	TagActionRequest  CosemTag = 195
	TagGetResponse    CosemTag = 196
	TagSetResponse    CosemTag = 197
	TagActionResponse CosemTag = 199

	TagGloGetRequest     CosemTag = 200
	TagGloSetRequest     CosemTag = 201
	TagGloActionRequest  CosemTag = 203
	TagGloGetResponse    CosemTag = 204
	TagGloSetResponse    CosemTag = 205
	TagGloActionResponse CosemTag = 207

	TagExceptionResponse   CosemTag = 216
	TagGeneralGloCiphering CosemTag = 219
	TagGeneralDedCiphering CosemTag = 220
	TagGeneralCiphering    CosemTag = 221
)

// AccessResultTag / DataAccessResult codes returned by the server for
// service errors.
type AccessResultTag byte

const (
	ResultSuccess                AccessResultTag = 0
	ResultHardwareFault          AccessResultTag = 1
	ResultTemporaryFailure       AccessResultTag = 2
	ResultReadWriteDenied        AccessResultTag = 3
	ResultObjectUndefined        AccessResultTag = 4
	ResultObjectUnavailable      AccessResultTag = 11
	ResultTypeUnmatched          AccessResultTag = 12
	ResultScopeAccessViolated    AccessResultTag = 13
	ResultDataBlockUnavailable   AccessResultTag = 14
	ResultLongGetAborted         AccessResultTag = 15
	ResultNoLongGetInProgress    AccessResultTag = 16
	ResultLongSetAborted         AccessResultTag = 17
	ResultNoLongSetInProgress    AccessResultTag = 18
	ResultDataBlockNumberInvalid AccessResultTag = 19
	ResultOtherReason            AccessResultTag = 250
)

func (s AccessResultTag) String() string {
	switch s {
	case ResultSuccess:
		return "success"
	case ResultHardwareFault:
		return "hardware-fault"
	case ResultTemporaryFailure:
		return "temporary-failure"
	case ResultReadWriteDenied:
		return "read-write-denied"
	case ResultObjectUndefined:
		return "object-undefined"
	case ResultObjectUnavailable:
		return "object-unavailable"
	case ResultTypeUnmatched:
		return "type-unmatched"
	case ResultScopeAccessViolated:
		return "scope-of-access-violated"
	case ResultDataBlockUnavailable:
		return "data-block-unavailable"
	case ResultLongGetAborted:
		return "long-get-aborted"
	case ResultNoLongGetInProgress:
		return "no-long-get-in-progress"
	case ResultLongSetAborted:
		return "long-set-aborted"
	case ResultNoLongSetInProgress:
		return "no-long-set-in-progress"
	case ResultDataBlockNumberInvalid:
		return "data-block-number-invalid"
	case ResultOtherReason:
		return "other-reason"
	default:
		return "unknown"
	}
}
