package team

import "errors"

// Kind classifies a team service failure.
type Kind int

const (
	KindSystem Kind = iota
	KindInvalidInput
	KindNotFound
	KindForbidden
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	default:
		return "system"
	}
}

// Error is returned by every Service operation.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

var (
	ErrLoginRequired   = &Error{Kind: KindInvalidInput, Message: "login required"}
	ErrForbidden       = &Error{Kind: KindForbidden, Message: "no permission to modify this team"}
	ErrNotOwner        = &Error{Kind: KindForbidden, Message: "only the team owner can disband the team"}
	ErrPrivateTeam     = &Error{Kind: KindForbidden, Message: "private teams cannot be joined"}
	ErrTeamNotFound    = &Error{Kind: KindNotFound, Message: "team not found"}
	ErrNotMember       = &Error{Kind: KindNotFound, Message: "not a member of this team"}
	ErrOwnedQuota      = &Error{Kind: KindConflict, Message: "owned team quota reached"}
	ErrJoinQuota       = &Error{Kind: KindConflict, Message: "joined team quota reached"}
	ErrTeamExpired     = &Error{Kind: KindConflict, Message: "team has expired"}
	ErrOwnTeam         = &Error{Kind: KindConflict, Message: "cannot join your own team"}
	ErrWrongPassword   = &Error{Kind: KindConflict, Message: "wrong team password"}
	ErrAlreadyJoined   = &Error{Kind: KindConflict, Message: "already a member of this team"}
	ErrTeamFull        = &Error{Kind: KindConflict, Message: "team is full"}
	ErrJoinInterrupted = &Error{Kind: KindConflict, Message: "join interrupted before the lock was acquired"}
	ErrLockInterrupted = &Error{Kind: KindConflict, Message: "operation interrupted before the team lock was acquired"}
	ErrNoSuccessor     = &Error{Kind: KindSystem, Message: "no member available to take over the team"}
)

func invalid(msg string) error {
	return &Error{Kind: KindInvalidInput, Message: msg}
}

func system(msg string, err error) error {
	return &Error{Kind: KindSystem, Message: msg, Err: err}
}

// KindOf classifies err. Errors not produced by this package are KindSystem.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindSystem
}

// PublicMessage returns a message safe to show callers. System failures are
// reduced to a generic message.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) || e.Kind == KindSystem {
		return "internal error"
	}
	return e.Message
}
