package zarr

import "errors"

// Errors returned by this package. Callers can test for them with errors.Is;
// the wrapped message names the array path, chunk or field involved.
var (
	// ErrNotFound indicates a missing descriptor or chunk file.
	ErrNotFound = errors.New("zarr: not found")

	// ErrInvalidMetadata indicates a .zarray descriptor that does not match
	// the supported schema (one-dimensional, zarr_format 2).
	ErrInvalidMetadata = errors.New("zarr: invalid array metadata")

	// ErrUnsupportedConfig indicates a compressor configuration outside the
	// supported codec ids, codec names, levels or shuffle modes.
	ErrUnsupportedConfig = errors.New("zarr: unsupported compressor configuration")

	// ErrInvalidDType indicates a dtype string the item size cannot be derived from.
	ErrInvalidDType = errors.New("zarr: invalid dtype")

	// ErrSizeInvariant indicates the decompressed chunks hold fewer bytes
	// than shape * item size, i.e. corrupt input.
	ErrSizeInvariant = errors.New("zarr: decompressed data shorter than array size")

	ErrCompressionFailed = errors.New("zarr: compression failed")

	// ErrSwapIncomplete indicates the directory swap stopped after the
	// original array was moved away. The journal records how to recover.
	ErrSwapIncomplete = errors.New("zarr: directory swap incomplete")
)
