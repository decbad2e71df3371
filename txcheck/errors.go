package txcheck

import (
	"fmt"

	"yuvprotocol.org/node/eventbus"
)

// ErrorKind is the closed set the isolated checker can fail with.
type ErrorKind string

const (
	ErrMalformed       ErrorKind = "Malformed"
	ErrUnbalanced      ErrorKind = "Unbalanced"
	ErrBadProof        ErrorKind = "BadProof"
	ErrWrongIssuer     ErrorKind = "WrongIssuer"
	ErrBadAnnouncement ErrorKind = "BadAnnouncement"
)

// CheckError is the typed error check() returns, carrying the kind the
// event bus propagates plus a human-readable reason.
type CheckError struct {
	Kind ErrorKind
	Msg  string
}

func (e *CheckError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func checkErr(kind ErrorKind, format string, args ...any) error {
	return &CheckError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// ClassifyCheckError maps a Check failure to the eventbus.ErrorKind it
// should be published under, shared by every caller that turns a failed
// check into a Rejected event — the controller's initial HandleNewTx check
// and the attacher's on_ready recheck alike — so a tx rejected for the same
// reason always reports the same Reason, no matter which path rejected it.
func ClassifyCheckError(err error) eventbus.ErrorKind {
	ce, ok := err.(*CheckError)
	if !ok {
		return eventbus.ErrorMalformed
	}
	switch ce.Kind {
	case ErrUnbalanced:
		return eventbus.ErrorUnbalanced
	case ErrBadProof:
		return eventbus.ErrorBadProof
	case ErrWrongIssuer:
		return eventbus.ErrorWrongIssuer
	case ErrBadAnnouncement:
		return eventbus.ErrorBadAnnouncement
	default:
		return eventbus.ErrorMalformed
	}
}
