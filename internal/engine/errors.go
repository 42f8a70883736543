package engine

import (
	"errors"
	"fmt"

	"taskmarket/internal/repo"
)

// Error kinds returned by engine operations. Match them with errors.Is.
var (
	ErrOwnTask              = errors.New("own task violation")
	ErrDuplicateInteraction = errors.New("duplicate interaction")
	ErrAlreadyDiscarded     = errors.New("already discarded")
	ErrNotEligible          = errors.New("not eligible")
	ErrNotOwner             = errors.New("not owner")
	ErrIntegrity            = errors.New("integrity violation")
	ErrApplicantNotEligible = errors.New("applicant not eligible")
	ErrTaskNotEligible      = errors.New("task not eligible")
	ErrInvalidRating        = errors.New("invalid rating")
	ErrInvalidInput         = errors.New("invalid input")
	ErrConflict             = errors.New("conflict")
	ErrNotFound             = repo.ErrNotFound
)

// Error carries the kind of a failed operation plus a human message.
type Error struct {
	Kind error
	Op   string
	Msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	prefix := e.Kind.Error()
	if e.Op != "" {
		prefix = e.Op + ": " + prefix
	}
	if e.Msg == "" {
		return prefix
	}
	return fmt.Sprintf("%s: %s", prefix, e.Msg)
}

func (e *Error) Unwrap() error { return e.Kind }

func opErr(op string, kind error, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// notFound tags a repo.ErrNotFound with the entity that was missing and
// passes other errors through.
func notFound(op, entity, id string, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return &Error{Kind: ErrNotFound, Op: op, Msg: fmt.Sprintf("%s %s", entity, id)}
	}
	return err
}

var kindCodes = []struct {
	kind error
	code string
}{
	{ErrOwnTask, "own_task"},
	{ErrDuplicateInteraction, "duplicate_interaction"},
	{ErrAlreadyDiscarded, "already_discarded"},
	{ErrApplicantNotEligible, "applicant_not_eligible"},
	{ErrTaskNotEligible, "task_not_eligible"},
	{ErrNotEligible, "not_eligible"},
	{ErrNotOwner, "not_owner"},
	{ErrIntegrity, "integrity_violation"},
	{ErrInvalidRating, "invalid_rating"},
	{ErrInvalidInput, "bad_request"},
	{ErrConflict, "conflict"},
	{ErrNotFound, "not_found"},
}

// KindCode returns the stable code for err's kind, or "internal" when err
// carries none.
func KindCode(err error) string {
	for _, kc := range kindCodes {
		if errors.Is(err, kc.kind) {
			return kc.code
		}
	}
	return "internal"
}
