package iface

import "context"

// Pipeline wraps an ordered sequence of commands to be processed
// with a single request/response exchange over one leased connection.
// This reduces bandwidth and latency around communication with the
// remote server.
type Pipeline interface {
	// Add will attach a command to this pipeline. This command is
	// not sent to the remote server until Exec is invoked.
	Add(command string, args ...interface{}) error

	// Len returns the number of queued commands.
	Len() int

	// Exec will send all commands attached to this pipeline in a
	// single request and return a slice of the results of each
	// command, in the order the commands were added.
	Exec(ctx context.Context) ([]interface{}, error)

	// Close releases the connection held by a pipeline that was never
	// executed. Calling Close after Exec is a no-op.
	Close() error
}
