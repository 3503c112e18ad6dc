// Package bound enforces the two independent size caps spec.md §4.3 names:
// a per-field truncation cap on textual content heading for broadcast, and a
// streaming cap on inbound HTTP request bodies that fails fast before the
// full body is buffered.
package bound

import (
	"errors"
	"io"
)

const (
	// FieldCap is applied to input, output, content, workingDirectory on
	// every path from Receiver or Watcher to Hub.
	FieldCap = 10 * 1024

	truncationMarker = "\n... [truncated]"

	// BodyCap is the streaming limit on an inbound HTTP request body.
	BodyCap = 5 * 1024 * 1024
)

// ErrBodyTooLarge is returned by ReadBody when the stream exceeds BodyCap.
var ErrBodyTooLarge = errors.New("request body exceeds size limit")

// TruncateField truncates s to FieldCap bytes, appending a visible marker
// when truncation occurred. Safe to call on already-short strings.
func TruncateField(s string) string {
	if len(s) <= FieldCap {
		return s
	}
	return s[:FieldCap] + truncationMarker
}

// ReadBody reads r up to cap+1 bytes. If the stream yields more than cap
// bytes it stops reading immediately and returns ErrBodyTooLarge without
// buffering the rest of the body.
func ReadBody(r io.Reader, cap int64) ([]byte, error) {
	limited := io.LimitReader(r, cap+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > cap {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}
