package branch

import "errors"

var (
	// ErrEmptyMessage rejects a send whose trimmed text is empty.
	ErrEmptyMessage = errors.New("message text is empty")

	// ErrNoTree rejects a send with no resolvable target tree.
	ErrNoTree = errors.New("no resolvable target tree")

	// ErrSessionActive rejects a second in-flight send on the same branch.
	ErrSessionActive = errors.New("a stream session is already active for this branch")

	// ErrStreamTruncated marks a stream that closed without a terminal frame.
	ErrStreamTruncated = errors.New("stream ended without an end frame")
)
