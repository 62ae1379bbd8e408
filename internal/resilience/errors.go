package resilience

import (
	"errors"
	"io"
	"net"
	"net/textproto"
	"strings"
	"syscall"
)

// TransientError marks a failure that is safe to retry. Code is the HTTP
// status or FTP reply code when one is known.
type TransientError struct {
	Err  error
	Code int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as retryable.
func NewTransientError(err error, code int) *TransientError {
	return &TransientError{Err: err, Code: code}
}

// transientPatterns catch network failures that arrive as plain strings.
var transientPatterns = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"unexpected eof",
}

// IsTransient reports whether err is worth another attempt.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var ftpErr *textproto.Error
	if errors.As(err, &ftpErr) {
		return IsTransientFTPCode(ftpErr.Code)
	}

	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether an HTTP status is worth retrying.
func IsTransientHTTPStatus(code int) bool {
	switch code {
	case 408, 425, 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// IsTransientFTPCode reports whether an FTP reply is a 4xx transient
// negative completion (service not available, busy, transfer aborted).
func IsTransientFTPCode(code int) bool {
	return code >= 400 && code < 500
}
