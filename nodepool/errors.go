package nodepool

import "errors"

var (
	// ErrSeedUnreachable is returned when the seed node can not be
	// connected to. It is the only error that fails a pool build.
	ErrSeedUnreachable = errors.New("seed node unreachable")

	// ErrEmptyPool is returned when a build produced no usable
	// connection. The previous pool is retained.
	ErrEmptyPool = errors.New("pool build produced no live connections")

	// ErrStaleSelection is returned when the ranking winner is no longer
	// the live connection the latest pool holds for its identity.
	ErrStaleSelection = errors.New("selection is no longer in the pool")
)
