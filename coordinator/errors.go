package coordinator

import "errors"

var (
	// ErrBuildFailed is returned by waiters when the elected builder
	// recorded a failure for the store.
	ErrBuildFailed = errors.New("coordinator: build failed")
	// ErrWaitTimeout is returned when the store did not become ready within
	// FileCoordinator.Timeout.
	ErrWaitTimeout = errors.New("coordinator: timed out waiting for store")
	// ErrBuilderGone is returned when the builder's marker names a process
	// on this host that no longer exists.
	ErrBuilderGone = errors.New("coordinator: builder process is gone")

	ErrLockUnsupported = errors.New(
		"coordinator: file lock election unsupported on this platform")
)
