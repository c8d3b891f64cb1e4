package iface

import "context"

// Executor runs a single command on the remote server and returns its
// raw response.
type Executor interface {
	Do(ctx context.Context, command string, args ...interface{}) (interface{}, error)
}
