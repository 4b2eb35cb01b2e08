package crawl

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoCollections    = errors.New("no collections to crawl")
	ErrAutomationBlock  = errors.New("automation challenge page")
	ErrSessionCrashed   = errors.New("driver session crashed")
	ErrNavigationFailed = errors.New("navigation failed")
)

// SessionError marks failures that invalidate the browser session itself:
// navigation timeouts, driver crashes and bot challenges. The supervisor
// restarts the session before the next attempt when it sees one.
type SessionError struct {
	Op  string
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session failure during %s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// NewSessionError wraps err as a session-level failure for op.
func NewSessionError(op string, err error) *SessionError {
	return &SessionError{Op: op, Err: err}
}

// ItemError marks a failure scoped to a single result card. The crawl
// records it, skips the slot and moves on instead of abandoning the page.
type ItemError struct {
	Collection string
	Page       int
	Index      int
	Err        error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d on page %d of %q: %v", e.Index, e.Page, e.Collection, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// StallError reports that the watchdog saw no completed item for longer
// than the configured threshold.
type StallError struct {
	LastSuccess time.Time
	Elapsed     time.Duration
}

func (e *StallError) Error() string {
	return fmt.Sprintf("crawl stalled: no item completed for %s (last success %s)",
		e.Elapsed.Round(time.Second), e.LastSuccess.Format(time.RFC3339))
}

// IsSessionFailure reports whether err belongs to the class of failures
// that require a fresh browser session.
func IsSessionFailure(err error) bool {
	if err == nil {
		return false
	}
	var se *SessionError
	if errors.As(err, &se) {
		return true
	}
	return errors.Is(err, ErrAutomationBlock) ||
		errors.Is(err, ErrSessionCrashed) ||
		errors.Is(err, ErrNavigationFailed)
}

// IsStall reports whether err is a watchdog stall.
func IsStall(err error) bool {
	var se *StallError
	return errors.As(err, &se)
}
