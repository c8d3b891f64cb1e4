package asyncredis

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/efritz/glock"
	"github.com/efritz/overcurrent"

	"github.com/bordbe/async-redis/iface"
)

type (
	// Pool abstracts a fixed-size Redis connection pool.
	Pool = iface.Pool

	// Lease is an exclusive, temporary right to use one pooled connection.
	Lease = iface.Lease

	// PoolStats contains pool state information and accumulated stats.
	PoolStats = iface.PoolStats

	pool struct {
		name           string
		dialer         DialFunc
		capacity       int
		acquireTimeout time.Duration
		healthCheck    time.Duration
		logger         Logger
		breakerFunc    BreakerFunc
		clock          glock.Clock
		metrics        *poolMetrics

		// Everything below is guarded by mutex. The mutex is never held
		// across a dial, a health check, or a close.
		mutex   sync.Mutex
		conns   map[uint64]*poolConn
		idle    []*poolConn
		waiters *list.List
		size    int
		nextID  uint64
		closed  bool
	}

	poolConn struct {
		id        uint64
		conn      Conn
		state     connState
		createdAt time.Time
		lastUsed  time.Time
	}

	connState int

	// A grant is handed to a waiter. A nil connection means the waiter
	// now owns an empty slot and must dial to fill it.
	grant struct {
		pc  *poolConn
		err error
	}

	waiter struct {
		ch      chan grant
		granted bool
	}

	lease struct {
		pool     *pool
		pc       *poolConn
		broken   atomic.Bool
		released atomic.Bool
	}

	// BreakerFunc bridges the interface between the Call function of
	// an overcurrent breaker and an overcurrent registry.
	BreakerFunc func(overcurrent.BreakerFunc) error

	// PoolConfigFunc is a function used to tune a new pool.
	PoolConfigFunc func(*pool)
)

const (
	stateIdle connState = iota
	stateLeased
	stateClosed
	stateBroken
)

func (s connState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateLeased:
		return "leased"
	case stateClosed:
		return "closed"
	case stateBroken:
		return "broken"
	}

	return "unknown"
}

func noopBreakerFunc(f overcurrent.BreakerFunc) error {
	return f(context.Background())
}

// WithPoolName sets the name used to label the pool's metrics.
func WithPoolName(name string) PoolConfigFunc {
	return func(p *pool) { p.name = name }
}

// WithPoolAcquireTimeout bounds the time Acquire waits for a connection
// (default is no bound other than the context).
func WithPoolAcquireTimeout(timeout time.Duration) PoolConfigFunc {
	return func(p *pool) { p.acquireTimeout = timeout }
}

// WithPoolHealthCheck sets the idle age after which a connection is
// checked with PING before being handed out (default is never).
func WithPoolHealthCheck(interval time.Duration) PoolConfigFunc {
	return func(p *pool) { p.healthCheck = interval }
}

// NewPool creates an empty pool. Connections are dialed lazily, up to
// capacity.
func NewPool(
	dialer DialFunc,
	capacity int,
	logger Logger,
	breakerFunc BreakerFunc,
	clock glock.Clock,
	configs ...PoolConfigFunc,
) Pool {
	if capacity < 1 {
		capacity = 1
	}

	if logger == nil {
		logger = NewNilLogger()
	}

	if breakerFunc == nil {
		breakerFunc = noopBreakerFunc
	}

	if clock == nil {
		clock = glock.NewRealClock()
	}

	p := &pool{
		name:        "default",
		dialer:      dialer,
		capacity:    capacity,
		logger:      logger,
		breakerFunc: breakerFunc,
		clock:       clock,
		conns:       map[uint64]*poolConn{},
		waiters:     list.New(),
	}

	for _, f := range configs {
		f(p)
	}

	p.metrics = newPoolMetrics(p.name, p)
	return p
}

func (p *pool) Close() {
	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		return
	}

	p.closed = true
	idle := p.idle
	p.idle = nil

	for _, pc := range idle {
		pc.state = stateClosed
		delete(p.conns, pc.id)
		p.size--
	}

	for w := p.popWaiter(); w != nil; w = p.popWaiter() {
		w.ch <- grant{err: ErrPoolClosed}
	}
	p.mutex.Unlock()

	for _, pc := range idle {
		if err := pc.conn.Close(); err != nil {
			p.logger.Warningf("Could not close connection %d (%s)", pc.id, err.Error())
		}
	}
}

func (p *pool) Acquire(ctx context.Context) (Lease, error) {
	start := p.clock.Now()

	pc, err := p.get(ctx)
	if err != nil {
		return nil, err
	}

	p.metrics.observeAcquire(p.clock.Now().Sub(start))
	return &lease{pool: p, pc: pc}, nil
}

func (p *pool) Release(l Lease) error {
	if ours, ok := l.(*lease); ok && ours.pool == p {
		return ours.Release()
	}

	p.logger.Errorf("Attempted to release a lease that does not belong to this pool")
	return fmt.Errorf("%w: unknown lease", ErrLeaseReleased)
}

func (p *pool) Stats() PoolStats {
	p.mutex.Lock()
	idle, total, waiting := len(p.idle), p.size, p.waiters.Len()

	leased := 0
	for _, pc := range p.conns {
		if pc.state == stateLeased {
			leased++
		}
	}
	p.mutex.Unlock()

	return PoolStats{
		Hits:        p.metrics.hits.Get(),
		Misses:      p.metrics.misses.Get(),
		Timeouts:    p.metrics.timeouts.Get(),
		WaitCount:   p.metrics.waits.Get(),
		Broken:      p.metrics.broken.Get(),
		Dials:       p.metrics.dials.Get(),
		TotalConns:  total,
		IdleConns:   idle,
		LeasedConns: leased,
		Waiting:     waiting,
	}
}

// WritePrometheus writes the pool metrics in Prometheus text format.
func (p *pool) WritePrometheus(w io.Writer) {
	p.metrics.writePrometheus(w)
}

//
// Lease Implementation

func (l *lease) Conn() Conn {
	return l.pc.conn
}

func (l *lease) MarkBroken(err error) {
	if l.broken.CompareAndSwap(false, true) && err != nil {
		l.pool.logger.Debugf("Connection %d marked broken (%s)", l.pc.id, err.Error())
	}
}

func (l *lease) Release() error {
	if !l.released.CompareAndSwap(false, true) {
		l.pool.logger.Errorf("Lease on connection %d released more than once", l.pc.id)
		return ErrLeaseReleased
	}

	if l.broken.Load() || l.pc.conn.Err() != nil {
		l.pool.discard(l.pc)
		return nil
	}

	l.pool.put(l.pc)
	return nil
}

//
// Pool Helper Functions

// Get a leased connection. Idle connections are preferred, then empty
// slots, and otherwise the caller joins the back of the wait queue.
func (p *pool) get(ctx context.Context) (*poolConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, p.contextError(err)
	}

	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		return nil, ErrPoolClosed
	}

	// Waiters are always served before newcomers. While anybody is
	// queued there are no idle connections and no free slots.
	if p.waiters.Len() == 0 {
		if n := len(p.idle); n > 0 {
			pc := p.idle[n-1]
			p.idle = p.idle[:n-1]
			pc.state = stateLeased
			p.mutex.Unlock()

			p.metrics.hits.Inc()
			return p.prepare(ctx, pc)
		}

		if p.size < p.capacity {
			p.size++
			p.mutex.Unlock()

			p.metrics.misses.Inc()

			ctx, cancel := p.withAcquireTimeout(ctx)
			defer cancel()
			return p.dial(ctx)
		}
	}

	w := &waiter{ch: make(chan grant, 1)}
	elem := p.waiters.PushBack(w)
	p.mutex.Unlock()

	p.metrics.waits.Inc()

	// One deadline covers both the wait and the dial into a granted slot
	ctx, cancel := p.withAcquireTimeout(ctx)
	defer cancel()

	select {
	case g := <-w.ch:
		return p.accept(ctx, g)

	case <-ctx.Done():
		return nil, p.abandon(elem, w, p.contextError(context.Cause(ctx)))
	}
}

// Derive a context which is canceled with ErrPoolTimeout once the acquire
// timeout elapses on the pool's clock.
func (p *pool) withAcquireTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.acquireTimeout <= 0 {
		return ctx, func() {}
	}

	ctx, cancel := context.WithCancelCause(ctx)
	timeout := p.clock.After(p.acquireTimeout)

	go func() {
		select {
		case <-timeout:
			cancel(ErrPoolTimeout)
		case <-ctx.Done():
		}
	}()

	return ctx, func() { cancel(nil) }
}

// Turn a grant received while waiting into a usable connection.
func (p *pool) accept(ctx context.Context, g grant) (*poolConn, error) {
	if g.err != nil {
		return nil, g.err
	}

	if g.pc == nil {
		p.metrics.misses.Inc()
		return p.dial(ctx)
	}

	p.metrics.hits.Inc()
	return p.prepare(ctx, g.pc)
}

// Remove a waiter that gave up. If a grant raced the timeout, the grant
// is passed on so that neither a connection nor a slot leaks.
func (p *pool) abandon(elem *list.Element, w *waiter, err error) error {
	p.mutex.Lock()
	if !w.granted {
		p.waiters.Remove(elem)
		p.mutex.Unlock()
		return err
	}
	p.mutex.Unlock()

	switch g := <-w.ch; {
	case g.err != nil:
	case g.pc == nil:
		p.freeSlot()
	default:
		p.put(g.pc)
	}

	return err
}

// Validate a connection which sat idle for longer than the health check
// interval. A failed check silently replaces the connection in place.
func (p *pool) prepare(ctx context.Context, pc *poolConn) (*poolConn, error) {
	if p.healthCheck <= 0 || p.clock.Now().Sub(pc.lastUsed) < p.healthCheck {
		return pc, nil
	}

	_, err := pc.conn.Do("PING")
	if err == nil {
		return pc, nil
	}

	p.logger.Infof("Idle connection %d failed health check, replacing (%s)", pc.id, err.Error())

	p.mutex.Lock()
	pc.state = stateBroken
	delete(p.conns, pc.id)
	p.mutex.Unlock()

	p.metrics.broken.Inc()
	pc.conn.Close()

	// The slot is still counted against capacity, dial into it.
	return p.dial(ctx)
}

// Dial a new Redis connection into a slot the caller already reserved.
// The call to the dialer function is wrapped in a circuit breaker so
// that if the remote end is down we are not going to hammer it.
func (p *pool) dial(ctx context.Context) (*poolConn, error) {
	var conn Conn
	err := p.breakerFunc(func(_ context.Context) error {
		temp, err := p.dialer(ctx)
		conn = temp
		return err
	})

	if err != nil {
		// Give the slot back so that we're not draining our pool on
		// connection errors.
		p.freeSlot()

		if cause := context.Cause(ctx); cause != nil {
			p.logger.Warningf("Gave up connecting to Redis (%s)", cause.Error())
			return nil, p.contextError(cause)
		}

		p.logger.Warningf("Could not connect to Redis (%s)", err.Error())
		return nil, fmt.Errorf("%w: %w", ErrPoolExhausted, err)
	}

	now := p.clock.Now()

	p.mutex.Lock()
	if p.closed {
		p.size--
		p.mutex.Unlock()

		conn.Close()
		return nil, ErrPoolClosed
	}

	p.nextID++
	pc := &poolConn{
		id:        p.nextID,
		conn:      conn,
		state:     stateLeased,
		createdAt: now,
		lastUsed:  now,
	}

	p.conns[pc.id] = pc
	p.mutex.Unlock()

	p.metrics.dials.Inc()
	p.logger.Debugf("Established a new connection with Redis (id=%d)", pc.id)
	return pc, nil
}

// Return a healthy connection. The first waiter receives it directly,
// otherwise it joins the idle set.
func (p *pool) put(pc *poolConn) {
	now := p.clock.Now()

	p.mutex.Lock()
	if p.closed {
		pc.state = stateClosed
		delete(p.conns, pc.id)
		p.size--
		p.mutex.Unlock()

		pc.conn.Close()
		return
	}

	pc.lastUsed = now

	if w := p.popWaiter(); w != nil {
		pc.state = stateLeased
		w.ch <- grant{pc: pc}
		p.mutex.Unlock()
		return
	}

	pc.state = stateIdle
	p.idle = append(p.idle, pc)
	p.mutex.Unlock()
}

// Drop a broken connection and hand its slot to the first waiter.
func (p *pool) discard(pc *poolConn) {
	p.mutex.Lock()
	pc.state = stateBroken
	delete(p.conns, pc.id)
	p.size--

	if !p.closed {
		if w := p.popWaiter(); w != nil {
			p.size++
			w.ch <- grant{}
		}
	}
	p.mutex.Unlock()

	p.metrics.broken.Inc()
	p.logger.Infof("Discarded broken connection %d", pc.id)

	if err := pc.conn.Close(); err != nil {
		p.logger.Debugf("Could not close broken connection %d (%s)", pc.id, err.Error())
	}
}

// Free a reserved slot that was never filled.
func (p *pool) freeSlot() {
	p.mutex.Lock()
	p.size--

	if !p.closed {
		if w := p.popWaiter(); w != nil {
			p.size++
			w.ch <- grant{}
		}
	}
	p.mutex.Unlock()
}

// Must be called with the mutex held.
func (p *pool) popWaiter() *waiter {
	front := p.waiters.Front()
	if front == nil {
		return nil
	}

	p.waiters.Remove(front)
	w := front.Value.(*waiter)
	w.granted = true
	return w
}

// Map the reason an acquire was cut short onto the pool's errors.
func (p *pool) contextError(err error) error {
	switch {
	case errors.Is(err, ErrPoolTimeout):
		p.metrics.timeouts.Inc()
		return ErrPoolTimeout

	case err == context.DeadlineExceeded:
		p.metrics.timeouts.Inc()
		return fmt.Errorf("%w: %w", ErrPoolTimeout, err)
	}

	return err
}
