package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v4"
)

// Unretriable wraps an error to mark it as non-retriable for backoff loops.
func Unretriable(err error) error {
	return backoff.Permanent(err)
}

func IsUnretriable(err error) bool {
	var permErr *backoff.PermanentError
	return errors.As(err, &permErr)
}

// TransientExternalError is a network-level or rate-limit failure from an
// external service. Callers retry these with linear backoff.
type TransientExternalError struct {
	Service string
	Err     error
}

func (e *TransientExternalError) Error() string {
	return fmt.Sprintf("transient %s error: %s", e.Service, e.Err)
}

func (e *TransientExternalError) Unwrap() error { return e.Err }

func NewTransientExternalError(service string, err error) error {
	return &TransientExternalError{Service: service, Err: err}
}

func IsTransientExternal(err error) bool {
	var t *TransientExternalError
	return errors.As(err, &t)
}

// FatalExternalError is a non-transient API failure. It propagates up and
// marks the job failed with the service's own message.
type FatalExternalError struct {
	Service string
	Code    string
	Msg     string
}

func (e *FatalExternalError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s error %s: %s", e.Service, e.Code, e.Msg)
	}
	return fmt.Sprintf("%s error: %s", e.Service, e.Msg)
}

func NewFatalExternalError(service, code, msg string) error {
	return &FatalExternalError{Service: service, Code: code, Msg: msg}
}

// MediaToolchainError is a non-zero encoder exit, a timeout, or a missing or
// empty expected output file. The sanitized stderr tail rides along.
type MediaToolchainError struct {
	Op     string
	Msg    string
	Stderr string
}

func (e *MediaToolchainError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s failed: %s: %s", e.Op, e.Msg, e.Stderr)
	}
	return fmt.Sprintf("%s failed: %s", e.Op, e.Msg)
}

func NewMediaToolchainError(op, msg, stderr string) error {
	return &MediaToolchainError{Op: op, Msg: msg, Stderr: SanitizeStderr(stderr)}
}

func IsMediaToolchain(err error) bool {
	var m *MediaToolchainError
	return errors.As(err, &m)
}

// InputInvalidError covers empty chapter lists, empty user scripts and
// invalid time ranges. Always fatal for the job.
type InputInvalidError struct {
	Msg string
}

func (e *InputInvalidError) Error() string { return e.Msg }

func NewInputInvalidError(format string, args ...interface{}) error {
	return &InputInvalidError{Msg: fmt.Sprintf(format, args...)}
}

const maxStderrTail = 800

// SanitizeStderr trims encoder stderr to its last lines so error messages
// stay readable when surfaced on the job record.
func SanitizeStderr(stderr string) string {
	s := strings.TrimSpace(stderr)
	if len(s) > maxStderrTail {
		s = s[len(s)-maxStderrTail:]
		if idx := strings.IndexByte(s, '\n'); idx >= 0 && idx < len(s)-1 {
			s = s[idx+1:]
		}
	}
	return s
}

// transientCodes are API result codes the understanding service returns for
// retriable conditions.
var transientCodes = map[string]bool{
	"0001": true,
	"0429": true,
}

var transientSubstrings = []string{"network", "abnormal", "try again", "busy"}

// IsTransientServiceFailure classifies an external API failure by result code
// and message text.
func IsTransientServiceFailure(code, msg string) bool {
	if transientCodes[code] {
		return true
	}
	lower := strings.ToLower(msg)
	for _, s := range transientSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
