package engine

import "errors"

var (
	// ErrValidation is returned for requests that cannot be executed as given.
	ErrValidation = errors.New("invalid request")

	// ErrKernelNotFound is returned when a kernel id is not registered.
	ErrKernelNotFound = errors.New("kernel not found")

	// ErrRuntime is returned when the kernel runtime cannot start a kernel,
	// accept a submission, or keep its session alive.
	ErrRuntime = errors.New("kernel runtime failure")

	// ErrTimeout is returned when a submission does not finish before its deadline.
	ErrTimeout = errors.New("execution timed out")

	// ErrClosed is returned after ShutdownAll.
	ErrClosed = errors.New("registry is shut down")
)
