package codec

import (
	"errors"
	"fmt"
	"strings"
)

// --------------------------------------------------------------------------
// Error Taxonomy
// --------------------------------------------------------------------------

// All errors are terminal for the encode or decode call that produced them.
// Use errors.Is to test for a kind, e.g. errors.Is(err, codec.ErrFilteredType).
var (
	ErrUnregisteredType          = errors.New("unregistered type")
	ErrDuplicateType             = errors.New("duplicate type")
	ErrDuplicateHandle           = errors.New("duplicate handle")
	ErrStreamCorrupted           = errors.New("stream corrupted")
	ErrUnknownType               = errors.New("unknown type")
	ErrFilteredType              = errors.New("type rejected by filter")
	ErrFilterLimitExceeded       = errors.New("filter limit exceeded")
	ErrUnsupportedVersion        = errors.New("unsupported version")
	ErrInvalidObjectState        = errors.New("invalid object state")
	ErrProxyRequired             = errors.New("proxy required")
	ErrCycleWithoutHandleSupport = errors.New("cycle without handle support")
	ErrRegistrySealed            = errors.New("registry sealed")
)

// errorKind returns the short name of the taxonomy entry err belongs to. It is
// used as a metric label.
func errorKind(err error) string {
	for _, k := range []struct {
		err  error
		name string
	}{
		{ErrUnregisteredType, "unregistered_type"},
		{ErrDuplicateType, "duplicate_type"},
		{ErrDuplicateHandle, "duplicate_handle"},
		{ErrStreamCorrupted, "stream_corrupted"},
		{ErrUnknownType, "unknown_type"},
		{ErrFilteredType, "filtered_type"},
		{ErrFilterLimitExceeded, "filter_limit"},
		{ErrUnsupportedVersion, "unsupported_version"},
		{ErrInvalidObjectState, "invalid_object_state"},
		{ErrProxyRequired, "proxy_required"},
		{ErrCycleWithoutHandleSupport, "cycle_without_handle"},
	} {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "io"
}

// --------------------------------------------------------------------------
// Encode / Decode errors
// --------------------------------------------------------------------------

// EncodeError reports an encode failure together with the type of the
// offending object and the handle chain leading to it.
type EncodeError struct {
	Err  error
	Type string
	Path []Handle
}

func (e *EncodeError) Error() string {
	var sb strings.Builder
	sb.WriteString("codec: encode")
	if e.Type != "" {
		sb.WriteString(" ")
		sb.WriteString(e.Type)
	}
	if len(e.Path) > 0 {
		parts := make([]string, len(e.Path))
		for i, h := range e.Path {
			parts[i] = h.String()
		}
		sb.WriteString(" at path ")
		sb.WriteString(strings.Join(parts, "->"))
	}
	sb.WriteString(": ")
	sb.WriteString(e.Err.Error())
	return sb.String()
}

func (e *EncodeError) Unwrap() error { return e.Err }

// DecodeError reports a decode failure with the byte offset and the handle at
// which it was detected. It never contains payload bytes from the stream.
type DecodeError struct {
	Err    error
	Offset int64
	Handle Handle
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("codec: decode at offset %d (handle %s): %v", e.Offset, e.Handle, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// corrupt builds an ErrStreamCorrupted error with a formatted reason
func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrStreamCorrupted, fmt.Sprintf(format, args...))
}
