package nifti

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncated is returned when the buffer is shorter than the header or
	// the payload it declares.
	ErrTruncated = errors.New("truncated buffer")

	// ErrBadMagic is returned when the magic tag is neither "n+1" nor "ni1".
	ErrBadMagic = errors.New("unrecognized magic tag")

	// ErrUnsupportedType is returned for scalar-type codes without a decoding rule.
	ErrUnsupportedType = errors.New("unsupported scalar type")

	// ErrCompressed is returned for gzip-compressed input.
	ErrCompressed = errors.New("compressed input is not supported, decompress the file (.nii.gz -> .nii) before upload")

	// ErrBadDims is returned when a declared spatial dimension is below 1.
	ErrBadDims = errors.New("invalid dimensions")
)

// FormatError reports a malformed or unsupported NIfTI buffer.
type FormatError struct {
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("nifti: %v", e.Err)
	}
	return fmt.Sprintf("nifti: %v: %s", e.Err, e.Reason)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

func formatErrorf(err error, format string, args ...interface{}) *FormatError {
	return &FormatError{Reason: fmt.Sprintf(format, args...), Err: err}
}
