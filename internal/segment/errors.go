package segment

import "errors"

var (
	// ErrIndexUnavailable is returned when the metadata store cannot be
	// reached or does not answer in time. It is never retried locally.
	ErrIndexUnavailable = errors.New("segment index unavailable")

	// ErrInvalidRange is returned for requests whose end is not after their
	// start, or which end before the earliest retained history.
	ErrInvalidRange = errors.New("invalid time range")

	// ErrSegmentUnavailable is returned when a storage fetch for a single
	// segment failed after bounded retries or timed out.
	ErrSegmentUnavailable = errors.New("segment unavailable")

	// ErrNotFound is returned when a storage location does not exist.
	ErrNotFound = errors.New("segment not found")
)
