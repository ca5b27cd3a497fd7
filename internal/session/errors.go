package session

import "errors"

// UserErrorKind names an action the user attempted that was rejected.
type UserErrorKind string

const (
	NoFileSelected    UserErrorKind = "no_file_selected"
	AlreadyInProgress UserErrorKind = "already_in_progress"
	Cancelled         UserErrorKind = "cancelled"
)

// UserError rejects an action without changing the session.
type UserError struct {
	Kind UserErrorKind
}

func (e *UserError) Error() string {
	switch e.Kind {
	case NoFileSelected:
		return "no file selected"
	case AlreadyInProgress:
		return "a submission is already in progress"
	case Cancelled:
		return "submission cancelled"
	}
	return string(e.Kind)
}

// Is matches any UserError of the same kind.
func (e *UserError) Is(target error) bool {
	t, ok := target.(*UserError)
	return ok && t.Kind == e.Kind
}

var (
	ErrNoFileSelected    = &UserError{Kind: NoFileSelected}
	ErrAlreadyInProgress = &UserError{Kind: AlreadyInProgress}
	ErrCancelled         = &UserError{Kind: Cancelled}

	// ErrClosed is returned by any operation on a closed session.
	ErrClosed = errors.New("session closed")
)
