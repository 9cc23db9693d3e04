package providersync

import (
	"errors"
	"fmt"
)

// Fault codes for a sync run. Handlers surface these as structured
// {code, message} payloads; raw provider bodies ride along for diagnostics
// but are never shown as stack traces.
const (
	CodeNoConnection      = "no_connection"
	CodeUnauthorized      = "unauthorized"
	CodeRefreshFailed     = "refresh_failed"
	CodeProviderError     = "provider_error"
	CodeInvalidIdentifier = "invalid_identifier"
	CodeRecordMergeError  = "record_merge_error"
	CodeTransactionError  = "transaction_error"
)

// SyncFault is a classified sync failure. StatusCode/Body are set for
// provider-originated faults.
type SyncFault struct {
	Code       string
	Message    string
	StatusCode int
	Body       string
	Err        error
}

func (f *SyncFault) Error() string {
	if f.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status=%d)", f.Code, f.Message, f.StatusCode)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

func (f *SyncFault) Unwrap() error { return f.Err }

func newFault(code string, message string) *SyncFault {
	return &SyncFault{Code: code, Message: message}
}

func noConnectionFault(provider string) *SyncFault {
	return newFault(CodeNoConnection, fmt.Sprintf("no active %s connection", provider))
}

func refreshFailedFault(provider string, body string, err error) *SyncFault {
	return &SyncFault{
		Code:    CodeRefreshFailed,
		Message: fmt.Sprintf("%s refresh token grant rejected", provider),
		Body:    body,
		Err:     err,
	}
}

func unauthorizedFault(provider string, statusCode int, body string) *SyncFault {
	return &SyncFault{
		Code:       CodeUnauthorized,
		Message:    fmt.Sprintf("%s rejected the access token", provider),
		StatusCode: statusCode,
		Body:       body,
	}
}

func providerFault(provider string, statusCode int, body string) *SyncFault {
	return &SyncFault{
		Code:       CodeProviderError,
		Message:    fmt.Sprintf("%s api error", provider),
		StatusCode: statusCode,
		Body:       body,
	}
}

func transactionFault(err error) *SyncFault {
	return &SyncFault{Code: CodeTransactionError, Message: "sync transaction failed", Err: err}
}

// FaultCode extracts the sync fault code from an error chain, or
// CodeTransactionError when the error is not a classified fault.
func FaultCode(err error) string {
	var f *SyncFault
	if errors.As(err, &f) {
		return f.Code
	}
	return CodeTransactionError
}

func IsFault(err error, code string) bool {
	var f *SyncFault
	return errors.As(err, &f) && f.Code == code
}
