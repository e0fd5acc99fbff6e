package cloudapi

import "errors"

// Sentinel errors for cloud operations.
var (
	// ErrNoProvider is returned when attempting live operations without a configured provider.
	ErrNoProvider = errors.New("cloudapi: no provider configured for live operations")

	// ErrTerminateFailed is returned when a resource termination fails.
	ErrTerminateFailed = errors.New("cloudapi: resource termination failed")

	// ErrLaunchFailed is returned when a capacity launch fails.
	ErrLaunchFailed = errors.New("cloudapi: capacity launch failed")

	// ErrSpotUnavailable is returned when spot capacity is unavailable in the pool.
	ErrSpotUnavailable = errors.New("cloudapi: spot capacity unavailable, consider on-demand fallback")

	// ErrDetachFailed is returned when a volume detach fails.
	ErrDetachFailed = errors.New("cloudapi: volume detach failed")

	// ErrScaleFailed is returned when a group capacity update fails.
	ErrScaleFailed = errors.New("cloudapi: group capacity update failed")
)
