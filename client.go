package asyncredis

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/bradhe/stopwatch"
	"github.com/efritz/glock"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/bordbe/async-redis/iface"
)

type (
	// Client is a goroutine-safe, namespaced, and pooled Redis client.
	Client interface {
		iface.Executor

		// Close will close all subscriptions created through this client.
		// Closing the client returned by NewClient also closes the pool
		// and therefore every client derived from it.
		Close()

		// Namespace returns the prefix applied to keys and channels.
		Namespace() string

		// WithNamespace returns a client sharing this client's pool that
		// translates keys with a different namespace.
		WithNamespace(namespace string) Client

		// Execute runs the command on the remote Redis server and returns
		// its raw response with keys translated back out of the namespace.
		// A namespaced client refuses commands whose key arguments it
		// cannot locate (ErrUnknownCommand); run those through
		// WithNamespace("") instead.
		Execute(ctx context.Context, command Command) (interface{}, error)

		// Pipeline returns a batch holding its own leased connection. The
		// caller must Exec or Close it.
		Pipeline(ctx context.Context) (Pipeline, error)

		// TxPipeline is like Pipeline, but the batch is wrapped in
		// MULTI/EXEC and is applied atomically by the server.
		TxPipeline(ctx context.Context) (Pipeline, error)

		// Transaction runs several commands in a single connection. MULTI/EXEC
		// commands are added implicitly by the client.
		Transaction(ctx context.Context, commands ...Command) ([]interface{}, error)

		// RunScript invokes a server-side script, sending the script
		// body only if the server does not have it cached.
		RunScript(ctx context.Context, script *Script, keysAndArgs ...interface{}) (interface{}, error)

		// Subscribe dedicates a connection to the given channels and
		// dispatches pushed messages to handler until unsubscribed.
		Subscribe(ctx context.Context, handler Handler, channels ...string) (*Subscription, error)

		// PSubscribe is like Subscribe for glob patterns.
		PSubscribe(ctx context.Context, handler Handler, patterns ...string) (*Subscription, error)

		// Unsubscribe removes every topic from the subscription and
		// returns its connection to the pool.
		Unsubscribe(ctx context.Context, subscription *Subscription) error

		// Mutex returns a lock stored at the given (namespaced) key.
		Mutex(name string, ttl time.Duration) *Mutex

		// Stats returns a snapshot of the pool counters.
		Stats() PoolStats

		// WritePrometheus writes the pool metrics in Prometheus text format.
		WritePrometheus(w io.Writer)

		Get(ctx context.Context, key string) (string, bool, error)
		Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
		Del(ctx context.Context, keys ...string) (int, error)
		Keys(ctx context.Context, pattern string) ([]string, error)
		SAdd(ctx context.Context, key string, members ...interface{}) (int, error)
		SMembers(ctx context.Context, key string) ([]string, error)
		Publish(ctx context.Context, channel string, message interface{}) (int, error)
		Ping(ctx context.Context) error
	}

	client struct {
		pool           Pool
		owner          bool
		namespace      Namespace
		logger         Logger
		clock          glock.Clock
		backoffFactory BackoffFactory
		subscriptions  *xsync.MapOf[uint64, *Subscription]
		nextID         *atomic.Uint64
		writeLockTTL   time.Duration
	}
)

// NewClient creates a new Client.
func NewClient(addr string, configs ...ConfigFunc) Client {
	config := defaultClientConfig()
	for _, f := range configs {
		f(config)
	}

	dialer := config.dialer
	if dialer == nil {
		dialer = makeDialer(addr, config)
	}

	return &client{
		pool: NewPool(
			dialer,
			config.poolCapacity,
			config.logger,
			config.breakerFunc,
			config.clock,
			WithPoolName(addr),
			WithPoolAcquireTimeout(config.acquireTimeout),
			WithPoolHealthCheck(config.healthCheckInterval),
		),
		owner:          true,
		namespace:      NewNamespace(config.namespace, config.logger),
		logger:         config.logger,
		clock:          config.clock,
		backoffFactory: config.backoffFactory,
		subscriptions:  xsync.NewMapOf[uint64, *Subscription](),
		nextID:         &atomic.Uint64{},
		writeLockTTL:   config.writeLockTTL,
	}
}

// NewClientFromConfig creates a new Client from a declarative configuration.
// Additional options are applied after the configuration.
func NewClientFromConfig(config *Config, configs ...ConfigFunc) (Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return NewClient(config.Addr(), append(config.Options(), configs...)...), nil
}

//
// Client Implementation

func (c *client) Close() {
	c.subscriptions.Range(func(id uint64, s *Subscription) bool {
		if c.owner || s.client == c {
			s.shutdown()
		}

		return true
	})

	if c.owner {
		c.pool.Close()
	}
}

func (c *client) Namespace() string {
	return c.namespace.Name()
}

func (c *client) WithNamespace(namespace string) Client {
	return &client{
		pool:           c.pool,
		owner:          false,
		namespace:      NewNamespace(namespace, c.logger),
		logger:         c.logger,
		clock:          c.clock,
		backoffFactory: c.backoffFactory,
		subscriptions:  c.subscriptions,
		nextID:         c.nextID,
		writeLockTTL:   c.writeLockTTL,
	}
}

func (c *client) Do(ctx context.Context, command string, args ...interface{}) (interface{}, error) {
	return c.Execute(ctx, NewCommand(command, args...))
}

func (c *client) Execute(ctx context.Context, command Command) (interface{}, error) {
	translated, err := c.namespace.Command(command)
	if err != nil {
		return nil, err
	}

	var reply interface{}
	err = c.withLease(ctx, func(conn Conn) (err error) {
		reply, err = conn.Do(translated.Name, translated.Args...)
		return err
	})

	if err != nil {
		return nil, err
	}

	return c.namespace.Reply(command, reply), nil
}

func (c *client) Pipeline(ctx context.Context) (Pipeline, error) {
	return c.newBatch(ctx, false)
}

func (c *client) TxPipeline(ctx context.Context) (Pipeline, error) {
	return c.newBatch(ctx, true)
}

func (c *client) Transaction(ctx context.Context, commands ...Command) ([]interface{}, error) {
	p, err := c.TxPipeline(ctx)
	if err != nil {
		return nil, err
	}
	defer p.Close()

	for _, command := range commands {
		if err := p.Queue(command); err != nil {
			return nil, err
		}
	}

	return p.Exec(ctx)
}

func (c *client) RunScript(ctx context.Context, script *Script, keysAndArgs ...interface{}) (interface{}, error) {
	args, err := script.namespacedArgs(c.namespace, keysAndArgs)
	if err != nil {
		return nil, err
	}

	var reply interface{}
	err = c.withLease(ctx, func(conn Conn) (err error) {
		reply, err = script.script.Do(conn, args...)
		return err
	})

	return reply, err
}

func (c *client) Subscribe(ctx context.Context, handler Handler, channels ...string) (*Subscription, error) {
	return c.subscribe(ctx, handler, channels, nil)
}

func (c *client) PSubscribe(ctx context.Context, handler Handler, patterns ...string) (*Subscription, error) {
	return c.subscribe(ctx, handler, nil, patterns)
}

func (c *client) Unsubscribe(ctx context.Context, subscription *Subscription) error {
	return subscription.Close(ctx)
}

func (c *client) Mutex(name string, ttl time.Duration) *Mutex {
	return newMutex(c, name, ttl)
}

func (c *client) Stats() PoolStats {
	return c.pool.Stats()
}

func (c *client) WritePrometheus(w io.Writer) {
	if p, ok := c.pool.(interface{ WritePrometheus(io.Writer) }); ok {
		p.WritePrometheus(w)
	}
}

//
// Client Helper Functions

// Acquire a lease, run f with its connection, and release the lease on
// every exit path. The connection is interrupted if ctx ends while f is
// running, and any connection-fatal error discards the connection.
func (c *client) withLease(ctx context.Context, f func(conn Conn) error) (err error) {
	lease, err := c.timedAcquire(ctx)
	if err != nil {
		return err
	}

	defer func() {
		c.release(lease, err)
	}()

	stop := watchContext(ctx, lease.Conn())
	err = f(lease.Conn())

	if stop() {
		lease.MarkBroken(ctx.Err())

		if err != nil {
			err = fmt.Errorf("%w: %w", ctx.Err(), err)
		}
	}

	return err
}

// Acquires and logs the time it took to return from blocking on the
// pool's acquire method.
func (c *client) timedAcquire(ctx context.Context) (Lease, error) {
	start := stopwatch.Start()
	lease, err := c.pool.Acquire(ctx)
	elapsed := stopwatch.Stop(start).Milliseconds()

	if err != nil {
		c.logger.Warningf("Could not acquire connection after %vms (%s)", elapsed, err.Error())
		return nil, err
	}

	c.logger.Debugf("Received connection after %vms", elapsed)
	return lease, nil
}

// Release the lease back to the pool. Bad connections never go back to
// the pool; the pool closes them and frees their slot.
func (c *client) release(lease Lease, err error) {
	if isConnFatal(err) {
		lease.MarkBroken(err)
	}

	if releaseErr := lease.Release(); releaseErr != nil {
		c.logger.Errorf("Could not release connection (%s)", releaseErr.Error())
	}
}

// Watch ctx while a connection is in use. The returned function stops
// the watch and reports whether the connection was interrupted.
func watchContext(ctx context.Context, conn Conn) func() bool {
	if ctx.Done() == nil {
		return func() bool { return false }
	}

	var (
		done        = make(chan struct{})
		interrupted = make(chan bool, 1)
	)

	go func() {
		select {
		case <-ctx.Done():
			conn.Interrupt()
			interrupted <- true
		case <-done:
			interrupted <- false
		}
	}()

	return func() bool {
		close(done)
		return <-interrupted
	}
}
