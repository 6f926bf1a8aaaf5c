// Package kernel defines the contract between the engine and kernel
// runtimes: starting and terminating kernel processes, opening protocol
// sessions against them, and routing the events a submission produces to
// subscribers keyed by cell id.
package kernel
