package iface

// Conn abstracts a single connection to the remote server. The method
// set is a superset of redigo's redis.Conn so a Conn can be handed to
// redis.PubSubConn and redis.Script directly.
type Conn interface {
	// Close the connection to the remote server.
	Close() error

	// Err returns a non-nil value when the connection is not usable.
	Err() error

	// Do sends a command, flushes, and returns its reply.
	Do(command string, args ...interface{}) (interface{}, error)

	// Send writes a command to the output buffer without flushing.
	Send(command string, args ...interface{}) error

	// Flush writes the output buffer to the server.
	Flush() error

	// Receive reads a single reply from the server.
	Receive() (interface{}, error)

	// Interrupt aborts any blocked read or write. The connection is
	// unusable afterwards. Safe to call from any goroutine.
	Interrupt()
}
