package zarr

import (
	"fmt"
	"strconv"
)

// ItemSize returns the byte width of one element of a numpy-style dtype
// string like "<f8", "|u1" or "<M8[ns]".
//
// The string is byte order, kind code, then width. Datetime ("M") and
// timedelta ("m") kinds are always 8 bytes wide whatever their unit suffix.
func ItemSize(dtype string) (int, error) {
	if len(dtype) < 3 {
		return 0, fmt.Errorf("%w: %q is too short", ErrInvalidDType, dtype)
	}

	switch kind := dtype[1]; kind {
	case 'M', 'm':
		return 8, nil
	}

	size, err := strconv.Atoi(dtype[2:])
	if err != nil {
		return 0, fmt.Errorf("%w: expected an integer width at offset 2 of %q", ErrInvalidDType, dtype)
	}
	if size <= 0 {
		return 0, fmt.Errorf("%w: non-positive width in %q", ErrInvalidDType, dtype)
	}
	return size, nil
}
