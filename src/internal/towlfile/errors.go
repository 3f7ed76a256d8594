// FILE: src/internal/towlfile/errors.go
package towlfile

import "errors"

var (
	// Magic sentinel mismatch
	ErrNotATowlFile = errors.New("not a towl file")

	// A file for the requested id already exists
	ErrAlreadyExists = errors.New("towl file already exists")

	// Structurally invalid header, index or entry bytes
	ErrDecode = errors.New("towl decode error")

	// Entry region ends inside a record, as left by an interrupted write
	ErrTruncated = errors.New("towl entry truncated")

	// A malformed record is followed by more data. Open refuses such files.
	ErrCorrupt = errors.New("towl file corrupt")

	ErrClosed = errors.New("towl file closed")

	// Org and title do not fit in the header region
	ErrHeaderTooLarge = errors.New("towl header exceeds reserved region")
)
