package domain

// Result codes shared by the dispatcher entry and the channel wire protocol
const (
	ResultSuccess         = "SUCCESS"
	ResultFail            = "FAIL"
	ResultSystemError     = "SYSTEM_ERROR"
	ResultNotSupported    = "OPERATION_NOT_SUPPORTED"
	ResultAlreadyDealt    = "RECORD_ALREADY_DEALT"
	ResultMissingField    = "VALIDATION_MISSING_FIELD"
	ResultNotFound        = "NOT_FOUND"
	ResultInvalidArgument = "INVALID_ARGUMENT"
)

// Result is the return-code/return-message pair handed to external callers.
// Data carries operation specific key/value output.
type Result struct {
	Code    string            `json:"return_code"`
	Message string            `json:"return_msg"`
	Data    map[string]string `json:"data,omitempty"`
}

// OK builds a successful result
func OK(data map[string]string) Result {
	return Result{Code: ResultSuccess, Message: "ok", Data: data}
}

// NotSupported is the normal-branch answer for an invalid remediation request
func NotSupported() Result {
	return Result{Code: ResultNotSupported, Message: "operation not supported"}
}

// AlreadyDealt is returned when a discrepancy has already been resolved
func AlreadyDealt() Result {
	return Result{Code: ResultAlreadyDealt, Message: "discrepancy already dealt"}
}

// Succeeded reports whether the result carries the success code
func (r Result) Succeeded() bool {
	return r.Code == ResultSuccess
}

// Map flattens the result into the key/value form used by the dispatch framework
func (r Result) Map() map[string]string {
	out := make(map[string]string, len(r.Data)+2)
	for k, v := range r.Data {
		out[k] = v
	}
	out["return_code"] = r.Code
	out["return_msg"] = r.Message
	return out
}

// ResultFromError translates an error into a caller-facing result.
// Faults collapse to a generic system error so internal detail never leaves the process.
func ResultFromError(err error) Result {
	switch GetErrorCode(err) {
	case ErrorCodeValidationMissingField:
		return Result{Code: ResultMissingField, Message: "required field missing"}
	case ErrorCodeValidationAmountInvalid:
		return Result{Code: ResultInvalidArgument, Message: "invalid amount"}
	case ErrorCodeTxnNotFound:
		return Result{Code: ResultNotFound, Message: "transaction not found"}
	case ErrorCodeDiscrepancyNotFound:
		return Result{Code: ResultNotFound, Message: "discrepancy record not found"}
	case ErrorCodeOperationNotSupported:
		return NotSupported()
	case ErrorCodeRecordAlreadyDealt:
		return AlreadyDealt()
	default:
		return Result{Code: ResultSystemError, Message: "system error"}
	}
}
