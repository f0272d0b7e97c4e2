package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind says what the sync engine should do with a failed remote call.
type ErrorKind int

const (
	// KindTransient failures are retried on a later cycle.
	KindTransient ErrorKind = iota + 1
	// KindValidation failures will not succeed on retry and go straight to the dead-letter archive.
	KindValidation
	// KindChecksumMismatch means the peer rejected the batch integrity digest.
	KindChecksumMismatch
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindValidation:
		return "validation"
	case KindChecksumMismatch:
		return "checksum_mismatch"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error codes the peer may place in an error body or an item result.
const (
	CodeChecksumMismatch = "checksum_mismatch"
	CodeValidation       = "validation"
	CodeInvalidPayload   = "invalid_payload"
)

// RemoteError is a classified failure of a remote call.
type RemoteError struct {
	Kind       ErrorKind
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *RemoteError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote %s error (http %d): %s", e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("remote %s error: %s", e.Kind, msg)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// KindOf extracts the classification of err. ok is false for unclassified errors,
// including a cancelled caller context.
func KindOf(err error) (ErrorKind, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return 0, false
}

// ClassifyStatus maps a non-2xx HTTP status to an error kind. Auth failures count as
// transient: credentials can be fixed without touching the payload.
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status >= 500:
		return KindTransient
	case status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status == http.StatusUnauthorized,
		status == http.StatusForbidden:
		return KindTransient
	case status >= 400:
		return KindValidation
	default:
		return KindTransient
	}
}

// ClassifyItemCode maps the code of a failed batch item to an error kind.
func ClassifyItemCode(code string) ErrorKind {
	switch code {
	case CodeValidation, CodeInvalidPayload:
		return KindValidation
	default:
		return KindTransient
	}
}

func transient(err error) *RemoteError {
	return &RemoteError{Kind: KindTransient, Err: err}
}
