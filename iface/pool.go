package iface

import "context"

// Pool abstracts a fixed-capacity Redis connection pool.
type Pool interface {
	// Close drains idle connections and fails every blocked Acquire.
	// Leased connections are closed when they are released.
	Close()

	// Acquire returns an exclusive lease over a connection. An idle
	// connection is reused when possible, a new connection is dialed
	// when the pool is below capacity, and otherwise the caller waits
	// in FIFO order until a connection is released, the context ends,
	// or the pool's acquire timeout elapses.
	Acquire(ctx context.Context) (Lease, error)

	// Release returns the leased connection to the pool. It is the
	// same as calling Release on the lease itself.
	Release(lease Lease) error

	// Stats returns a snapshot of the pool counters.
	Stats() PoolStats
}

// Lease is a temporary exclusive right to use one pooled connection.
type Lease interface {
	// Conn returns the leased connection.
	Conn() Conn

	// MarkBroken flags the connection as unusable. It is closed and
	// replaced instead of being returned to the idle set on release.
	MarkBroken(err error)

	// Release hands the connection back to the pool. A second call
	// returns an error and does not touch pool state.
	Release() error
}

// PoolStats contains pool state information and accumulated stats.
type PoolStats struct {
	Hits      uint64 // number of times an idle connection was reused
	Misses    uint64 // number of times a new connection had to be dialed
	Timeouts  uint64 // number of times a wait for a connection timed out
	WaitCount uint64 // number of times a caller had to wait
	Broken    uint64 // number of connections discarded as broken
	Dials     uint64 // number of connections established

	TotalConns  int // idle + leased + dialing
	IdleConns   int
	LeasedConns int
	Waiting     int
}
