package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind classifies a failed backend interaction
type Kind int

const (
	KindServer Kind = iota
	KindNotFound
	KindUnauthorized
	KindInstanceNotReady
	KindNetwork
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindInstanceNotReady:
		return "instance_not_ready"
	case KindNetwork:
		return "network"
	case KindValidation:
		return "validation"
	default:
		return "server"
	}
}

// instanceMissingSignature is how the backend reports a session object that
// has not been provisioned yet
const instanceMissingSignature = "does not exist"

// Error is returned by every Client method that fails
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// ValidationError builds a local form validation failure
func ValidationError(field, message string) *Error {
	return &Error{Kind: KindValidation, Op: "validate " + field, Message: message}
}

func classifyStatus(code int, message string) Kind {
	switch {
	case code == http.StatusNotFound:
		return KindNotFound
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindUnauthorized
	case strings.Contains(strings.ToLower(message), instanceMissingSignature):
		return KindInstanceNotReady
	default:
		return KindServer
	}
}

func transportError(op string, err error) *Error {
	return &Error{Kind: KindNetwork, Op: op, Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// KindOf returns the kind of err; errors not produced by this package count as KindServer
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	if isTimeout(err) {
		return KindNetwork
	}
	return KindServer
}

// IsKind reports whether err is a backend error of the given kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsInstanceNotReady reports the retryable "instance does not exist" failure
func IsInstanceNotReady(err error) bool {
	return IsKind(err, KindInstanceNotReady)
}

// UserMessage converts err into the text shown to the operator or client
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindNotFound:
		return "Client not found. Please verify the link."
	case KindUnauthorized:
		return "Unauthorized. Please contact the administrator."
	case KindInstanceNotReady:
		return "The WhatsApp instance is still starting. Please try again in a few seconds."
	case KindNetwork:
		return "Could not reach the server. Check your connection and retry."
	case KindValidation:
		var be *Error
		if errors.As(err, &be) {
			return be.Message
		}
		return err.Error()
	default:
		var be *Error
		if errors.As(err, &be) && be.Message != "" {
			return "The server returned an error: " + be.Message
		}
		return "The server returned an error. Please retry."
	}
}
