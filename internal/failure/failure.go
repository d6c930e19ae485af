// Package failure defines the error taxonomy shared by the fetch pipeline.
//
// Every error that aborts a run is (or wraps) an *Error whose Kind tells the
// operator which class of problem occurred, and whose Stage and Role say where.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a run failure.
type Kind int

const (
	// KindConfiguration means a required secret or config value is absent.
	KindConfiguration Kind = iota + 1
	// KindAuthentication means a credential exchange was rejected or malformed.
	KindAuthentication
	// KindTransport means a connection failed or timed out.
	KindTransport
	// KindProtocol means a response had an unexpected status or shape.
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindAuthentication:
		return "authentication"
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Sentinels usable with errors.Is against any *Error of the matching kind.
var (
	ErrConfiguration  = &Error{Kind: KindConfiguration}
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrTransport      = &Error{Kind: KindTransport}
	ErrProtocol       = &Error{Kind: KindProtocol}
)

// Stage names used when annotating failures.
const (
	StageConfig      = "config"
	StageCredentials = "credentials"
	StageRoles       = "roles"
	StageMembers     = "members"
	StageDelivery    = "delivery"
)

// Error is a classified run failure.
type Error struct {
	Kind  Kind
	Stage string
	Role  string
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(" error")
	if e.Stage != "" {
		fmt.Fprintf(&b, " in %s stage", e.Stage)
	}
	if e.Role != "" {
		fmt.Fprintf(&b, " (role %q)", e.Role)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Err == nil && t.Stage == "" && t.Role == "" && t.Kind == e.Kind
}

// Configuration returns a configuration failure.
func Configuration(format string, args ...any) error {
	return &Error{Kind: KindConfiguration, Err: fmt.Errorf(format, args...)}
}

// Authentication wraps err as an authentication failure.
func Authentication(err error) error {
	return &Error{Kind: KindAuthentication, Err: err}
}

// Transport wraps err as a transport failure.
func Transport(err error) error {
	return &Error{Kind: KindTransport, Err: err}
}

// Protocol wraps err as a protocol failure.
func Protocol(err error) error {
	return &Error{Kind: KindProtocol, Err: err}
}

// At annotates err with the stage and role it occurred in. If err already
// carries a Kind it is kept; otherwise the failure is classified as transport.
// Existing stage and role annotations are not overwritten.
func At(err error, stage, role string) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		out := *fe
		if out.Stage == "" {
			out.Stage = stage
		}
		if out.Role == "" {
			out.Role = role
		}
		return &out
	}
	return &Error{Kind: KindTransport, Stage: stage, Role: role, Err: err}
}

// KindOf returns the Kind of err, or 0 when err is not classified.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}
