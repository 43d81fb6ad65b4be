package proc

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest covers empty queries, out-of-range indexes and other
	// caller mistakes. Always handled locally; never mutates state.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotConnected is returned when an action needs an active voice
	// connection and none exists.
	ErrNotConnected = errors.New("not connected to voice")

	// ErrNothingPlaying is returned by skip when no track is active.
	ErrNothingPlaying = errors.New("nothing playing")

	// ErrSelectionStale is returned when a chosen search candidate can no
	// longer be resolved into a playable stream.
	ErrSelectionStale = errors.New("selection no longer playable")
)

// ResolutionError reports that a lookup failed across all access profiles.
// Profile names the last profile tried; the cause is preserved for diagnosis.
type ResolutionError struct {
	Profile string
	Err     error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("query resolution failed (%s profile): %v", e.Profile, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}
