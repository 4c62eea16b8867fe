// Package errs defines the error kinds shared across the store, codec and
// loader packages. Every error that crosses a package boundary wraps one of
// these sentinels with github.com/pkg/errors so that callers can classify
// the failure with errors.Is while still getting a full causal chain for
// logging.
package errs

import "errors"

var (
	// IoError signals a filesystem or mmap-adjacent failure.
	IoError = errors.New("io error")

	// MalformedPbf signals a protobuf decode failure, bad magic, a missing
	// required field, an ordering violation or an unexpected blob type.
	MalformedPbf = errors.New("malformed pbf")

	// OutOfOrderKey signals that the loader saw a non-ascending ID within a
	// type.
	OutOfOrderKey = errors.New("out of order key")

	// CapacityExceeded signals too many IDs, too many way-blocks, a tag
	// subfile overflow, an oversized tag payload, or a relation-member
	// overflow.
	CapacityExceeded = errors.New("capacity exceeded")

	// RangeError signals a lat/lon outside the valid range or an inverted
	// bounding box.
	RangeError = errors.New("range error")

	// LockFailure signals that a required file lock could not be acquired.
	LockFailure = errors.New("lock failure")
)
