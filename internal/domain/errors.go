package domain

import (
	"errors"
	"fmt"
)

// ErrorCode is the machine-readable code carried by a DomainError
type ErrorCode string

const (
	// Configuration faults (CONFIG_*) are fatal at startup
	ErrorCodeConfigMissingCredentials ErrorCode = "CONFIG_MISSING_CREDENTIALS"
	ErrorCodeConfigCertificateInvalid ErrorCode = "CONFIG_CERTIFICATE_INVALID"
	ErrorCodeConfigNoEndpoint         ErrorCode = "CONFIG_NO_ENDPOINT"

	// Transport faults (TRANSPORT_*)
	ErrorCodeTransportFailed  ErrorCode = "TRANSPORT_FAILED"
	ErrorCodeTransportTimeout ErrorCode = "TRANSPORT_TIMEOUT"

	// Protocol faults (PROTOCOL_*) are never retried
	ErrorCodeProtocolDecodeFailed     ErrorCode = "PROTOCOL_DECODE_FAILED"
	ErrorCodeProtocolSignatureInvalid ErrorCode = "PROTOCOL_SIGNATURE_INVALID"
	ErrorCodeProtocolInvalidResponse  ErrorCode = "PROTOCOL_INVALID_RESPONSE"

	// Gateway selection
	ErrorCodeGatewayNoEndpoint ErrorCode = "GATEWAY_NO_ENDPOINT"

	// Reconciliation outcomes (reported as results, not thrown)
	ErrorCodeOperationNotSupported ErrorCode = "OPERATION_NOT_SUPPORTED"
	ErrorCodeRecordAlreadyDealt    ErrorCode = "RECORD_ALREADY_DEALT"

	// Lookups
	ErrorCodeTxnNotFound         ErrorCode = "TXN_NOT_FOUND"
	ErrorCodeDiscrepancyNotFound ErrorCode = "DISCREPANCY_NOT_FOUND"

	// Validation Errors (VALIDATION_*)
	ErrorCodeValidationMissingField  ErrorCode = "VALIDATION_MISSING_FIELD"
	ErrorCodeValidationAmountInvalid ErrorCode = "VALIDATION_AMOUNT_INVALID"

	// Internal Errors (INTERNAL_*)
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrorCodeDatabaseError ErrorCode = "INTERNAL_DATABASE_ERROR"
)

// ErrorClass groups codes by how callers react to them
type ErrorClass int

const (
	ClassUnknown ErrorClass = iota
	ClassConfiguration
	ClassTransport
	ClassProtocol
	ClassGateway
	ClassOutcome
	ClassLookup
	ClassValidation
	ClassInternal
)

var errorClasses = map[ErrorCode]ErrorClass{
	ErrorCodeConfigMissingCredentials: ClassConfiguration,
	ErrorCodeConfigCertificateInvalid: ClassConfiguration,
	ErrorCodeConfigNoEndpoint:         ClassConfiguration,
	ErrorCodeTransportFailed:          ClassTransport,
	ErrorCodeTransportTimeout:         ClassTransport,
	ErrorCodeProtocolDecodeFailed:     ClassProtocol,
	ErrorCodeProtocolSignatureInvalid: ClassProtocol,
	ErrorCodeProtocolInvalidResponse:  ClassProtocol,
	ErrorCodeGatewayNoEndpoint:        ClassGateway,
	ErrorCodeOperationNotSupported:    ClassOutcome,
	ErrorCodeRecordAlreadyDealt:       ClassOutcome,
	ErrorCodeTxnNotFound:              ClassLookup,
	ErrorCodeDiscrepancyNotFound:      ClassLookup,
	ErrorCodeValidationMissingField:   ClassValidation,
	ErrorCodeValidationAmountInvalid:  ClassValidation,
	ErrorCodeInternalError:            ClassInternal,
	ErrorCodeDatabaseError:            ClassInternal,
}

// Class returns the class of c, ClassUnknown for codes outside the table
func (c ErrorCode) Class() ErrorClass {
	return errorClasses[c]
}

// DomainError carries a code from the table above, a caller-safe message,
// the wrapped cause and structured details for logs
type DomainError struct {
	Code    ErrorCode
	Message string
	Err     error
	Details map[string]interface{}
}

func (e *DomainError) Error() string {
	if e.Err == nil {
		return string(e.Code) + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// Is matches any DomainError with the same code, so the Err* values below
// work as errors.Is targets
func (e *DomainError) Is(target error) bool {
	var other *DomainError
	return errors.As(target, &other) && other.Code == e.Code
}

// WithDetail returns a copy of e with key set. The receiver is left alone so
// shared values like ErrTxnNotFound never accumulate details.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	out := *e
	out.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		out.Details[k] = v
	}
	out.Details[key] = value
	return &out
}

// NewDomainError creates an error with no cause
func NewDomainError(code ErrorCode, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// WrapError attaches code and message to err
func WrapError(code ErrorCode, message string, err error) *DomainError {
	return &DomainError{Code: code, Message: message, Err: err}
}

// GetErrorCode returns the code of the first DomainError in err's chain, or ""
func GetErrorCode(err error) ErrorCode {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsDomainError reports whether err's chain carries code
func IsDomainError(err error, code ErrorCode) bool {
	return err != nil && GetErrorCode(err) == code
}

func classOf(err error) ErrorClass { return GetErrorCode(err).Class() }

// IsConfigurationFault reports missing or unusable credentials, certificates or endpoints
func IsConfigurationFault(err error) bool { return classOf(err) == ClassConfiguration }

// IsTransportFault reports I/O, handshake and timeout failures
func IsTransportFault(err error) bool { return classOf(err) == ClassTransport }

// IsProtocolFault reports malformed or unverifiable channel responses
func IsProtocolFault(err error) bool { return classOf(err) == ClassProtocol }

// IsNotFoundError reports a missing ticket or discrepancy
func IsNotFoundError(err error) bool { return classOf(err) == ClassLookup }

// IsValidationError reports a rejected caller input
func IsValidationError(err error) bool { return classOf(err) == ClassValidation }

var (
	ErrMissingCredentials = NewDomainError(ErrorCodeConfigMissingCredentials, "gateway credentials are incomplete")
	ErrCertificateInvalid = NewDomainError(ErrorCodeConfigCertificateInvalid, "client certificate could not be loaded")

	ErrTransportFailed  = NewDomainError(ErrorCodeTransportFailed, "gateway request failed")
	ErrTransportTimeout = NewDomainError(ErrorCodeTransportTimeout, "gateway request timed out")

	ErrDecodeFailed     = NewDomainError(ErrorCodeProtocolDecodeFailed, "malformed gateway response")
	ErrSignatureInvalid = NewDomainError(ErrorCodeProtocolSignatureInvalid, "gateway response signature is invalid")
	ErrInvalidResponse  = NewDomainError(ErrorCodeProtocolInvalidResponse, "unexpected gateway response")

	ErrNoEndpointAvailable = NewDomainError(ErrorCodeGatewayNoEndpoint, "no gateway endpoint available")

	ErrTxnNotFound         = NewDomainError(ErrorCodeTxnNotFound, "transaction not found")
	ErrDiscrepancyNotFound = NewDomainError(ErrorCodeDiscrepancyNotFound, "discrepancy record not found")

	ErrValidationMissingField  = NewDomainError(ErrorCodeValidationMissingField, "required field missing")
	ErrValidationAmountInvalid = NewDomainError(ErrorCodeValidationAmountInvalid, "invalid amount")

	ErrInternalError = NewDomainError(ErrorCodeInternalError, "internal server error")
	ErrDatabaseError = NewDomainError(ErrorCodeDatabaseError, "database error")
)
