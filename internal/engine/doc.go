// Package engine owns the running kernels and turns one code submission
// into one ExecutionResult. The Registry starts kernels through the runtime
// catalog, serializes submissions per kernel, and tears everything down on
// shutdown. Each submission subscribes an aggregator and a status tracker
// to its correlation id, waits for the terminal reply or a deadline, then
// finalizes the folded output through the display formatter and the image
// store.
package engine
