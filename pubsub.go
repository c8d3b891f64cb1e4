package asyncredis

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gomodule/redigo/redis"
	"github.com/puzpuzpuz/xsync/v3"
)

type (
	// Message is a pushed message, with its channel and pattern names
	// translated out of the namespace.
	Message struct {
		Channel string
		Pattern string
		Data    []byte
	}

	// Handler receives the messages of one subscription, in arrival
	// order, on a goroutine dedicated to the subscription. Reads from
	// the connection continue while a handler runs, so a handler may
	// call back into its own Subscription or into the Client.
	Handler interface {
		// HandleMessage is invoked once per pushed message.
		HandleMessage(message Message)

		// HandleLost is invoked exactly once if the connection backing
		// the subscription fails. The subscription is discarded and is
		// not resubscribed.
		HandleLost(err error)
	}

	// HandlerFuncs adapts plain functions to the Handler interface.
	// Either function may be nil.
	HandlerFuncs struct {
		OnMessage func(message Message)
		OnLost    func(err error)
	}

	// SubscriptionState is the lifecycle state of a Subscription.
	SubscriptionState int32

	// Subscription owns a connection dedicated to receiving pushed
	// messages. It is created by Client.Subscribe or Client.PSubscribe.
	Subscription struct {
		id      uint64
		client  *client
		lease   Lease
		conn    redis.PubSubConn
		handler Handler

		// writeMutex serializes topic changes and pings. mutex guards the
		// transition to a terminal state against concurrent writes so that
		// nothing is written after the lease has been released.
		writeMutex sync.Mutex
		mutex      sync.Mutex
		state      atomic.Int32
		closing    atomic.Bool
		err        error

		wantChannels map[string]struct{}
		wantPatterns map[string]struct{}
		channels     *xsync.MapOf[string, struct{}]
		patterns     *xsync.MapOf[string, struct{}]

		acks  chan struct{}
		pongs chan string

		// Messages are queued by the receive goroutine and handed to the
		// handler by the deliver goroutine.
		queueMutex sync.Mutex
		queue      []Message
		queued     chan struct{}

		// stopped is closed once the connection has been released. done is
		// closed after that, once every queued message has been handled.
		stopped chan struct{}
		done    chan struct{}
	}
)

const (
	SubscriptionUnsubscribed SubscriptionState = iota
	SubscriptionSubscribing
	SubscriptionActive
	SubscriptionLost
)

const ackBufferSize = 256

func (s SubscriptionState) String() string {
	switch s {
	case SubscriptionUnsubscribed:
		return "unsubscribed"
	case SubscriptionSubscribing:
		return "subscribing"
	case SubscriptionActive:
		return "active"
	case SubscriptionLost:
		return "lost"
	}

	return "unknown"
}

func (h HandlerFuncs) HandleMessage(message Message) {
	if h.OnMessage != nil {
		h.OnMessage(message)
	}
}

func (h HandlerFuncs) HandleLost(err error) {
	if h.OnLost != nil {
		h.OnLost(err)
	}
}

func (c *client) subscribe(ctx context.Context, handler Handler, channels, patterns []string) (*Subscription, error) {
	if len(channels) == 0 && len(patterns) == 0 {
		return nil, fmt.Errorf("%w: at least one channel or pattern is required", ErrInvalidOption)
	}

	lease, err := c.timedAcquire(ctx)
	if err != nil {
		return nil, err
	}

	s := &Subscription{
		id:           c.nextID.Add(1),
		client:       c,
		lease:        lease,
		conn:         redis.PubSubConn{Conn: lease.Conn()},
		handler:      handler,
		wantChannels: map[string]struct{}{},
		wantPatterns: map[string]struct{}{},
		channels:     xsync.NewMapOf[string, struct{}](),
		patterns:     xsync.NewMapOf[string, struct{}](),
		acks:         make(chan struct{}, ackBufferSize),
		pongs:        make(chan string, 1),
		queued:       make(chan struct{}, 1),
		stopped:      make(chan struct{}),
		done:         make(chan struct{}),
	}

	s.state.Store(int32(SubscriptionSubscribing))
	c.subscriptions.Store(s.id, s)
	go s.receive()
	go s.deliver()

	if len(channels) > 0 {
		err = s.change(ctx, "SUBSCRIBE", channels)
	}

	if err == nil && len(patterns) > 0 {
		err = s.change(ctx, "PSUBSCRIBE", patterns)
	}

	if err != nil {
		s.shutdown()
		<-s.stopped
		return nil, err
	}

	c.logger.Infof("Subscribed to %d channels and %d patterns in namespace %q", len(channels), len(patterns), c.namespace.Name())
	return s, nil
}

// Subscribe adds channels without interrupting delivery for the
// channels already subscribed.
func (s *Subscription) Subscribe(ctx context.Context, channels ...string) error {
	return s.change(ctx, "SUBSCRIBE", channels)
}

// PSubscribe adds glob patterns.
func (s *Subscription) PSubscribe(ctx context.Context, patterns ...string) error {
	return s.change(ctx, "PSUBSCRIBE", patterns)
}

// Unsubscribe removes channels. Removing the last topic ends the
// subscription and returns its connection to the pool.
func (s *Subscription) Unsubscribe(ctx context.Context, channels ...string) error {
	return s.change(ctx, "UNSUBSCRIBE", channels)
}

// PUnsubscribe removes glob patterns.
func (s *Subscription) PUnsubscribe(ctx context.Context, patterns ...string) error {
	return s.change(ctx, "PUNSUBSCRIBE", patterns)
}

// Close removes every topic and returns the connection to the pool. If
// ctx ends first, the connection is discarded instead.
func (s *Subscription) Close(ctx context.Context) error {
	if s.State().terminal() {
		return nil
	}

	s.closing.Store(true)

	s.writeMutex.Lock()
	err := s.write(func() error {
		hasChannels, hasPatterns := len(s.wantChannels) > 0, len(s.wantPatterns) > 0

		// Each command is only sent when it has something to remove so
		// that the subscriber count reaches zero on the very last reply.
		if hasChannels || !hasPatterns {
			if err := s.conn.Conn.Send("UNSUBSCRIBE"); err != nil {
				return err
			}
		}

		if hasPatterns {
			if err := s.conn.Conn.Send("PUNSUBSCRIBE"); err != nil {
				return err
			}
		}

		s.wantChannels = map[string]struct{}{}
		s.wantPatterns = map[string]struct{}{}
		return s.conn.Conn.Flush()
	})
	s.writeMutex.Unlock()

	if err != nil {
		s.shutdown()
		<-s.stopped
		return nil
	}

	select {
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		s.shutdown()
		<-s.stopped
		return ctx.Err()
	}
}

// Ping sends a PING over the subscribed connection and waits for the
// matching reply.
func (s *Subscription) Ping(ctx context.Context) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	select {
	case <-s.pongs:
	default:
	}

	if err := s.write(func() error { return s.conn.Ping("") }); err != nil {
		return err
	}

	select {
	case <-s.pongs:
		return nil
	case <-s.stopped:
		return s.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current lifecycle state.
func (s *Subscription) State() SubscriptionState {
	return SubscriptionState(s.state.Load())
}

// Err returns the cause of a lost subscription.
func (s *Subscription) Err() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.err
}

// Done is closed once the subscription is unsubscribed or lost and the
// handler has seen every message received before that.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Topics returns the channels and patterns confirmed by the server.
func (s *Subscription) Topics() (channels, patterns []string) {
	return s.Channels(), s.Patterns()
}

// Channels returns the channels confirmed by the server.
func (s *Subscription) Channels() []string {
	return sortedKeys(s.channels)
}

// Patterns returns the patterns confirmed by the server.
func (s *Subscription) Patterns() []string {
	return sortedKeys(s.patterns)
}

//
// Subscription Helper Functions

func (s SubscriptionState) terminal() bool {
	return s == SubscriptionUnsubscribed || s == SubscriptionLost
}

// Send an incremental (un)subscribe and wait for one confirmation per
// topic, so that messages for new topics are delivered once this returns.
func (s *Subscription) change(ctx context.Context, command string, topics []string) error {
	if len(topics) == 0 {
		return fmt.Errorf("%w: at least one topic is required", ErrInvalidOption)
	}

	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	// Confirmations left over from an abandoned change are not ours.
	for drained := false; !drained; {
		select {
		case <-s.acks:
		default:
			drained = true
		}
	}

	args := make([]interface{}, 0, len(topics))
	for _, topic := range topics {
		args = append(args, s.client.namespace.Channel(topic))
	}

	err := s.write(func() error {
		switch command {
		case "SUBSCRIBE":
			addAll(s.wantChannels, topics)
			return s.conn.Subscribe(args...)
		case "PSUBSCRIBE":
			addAll(s.wantPatterns, topics)
			return s.conn.PSubscribe(args...)
		case "UNSUBSCRIBE":
			removeAll(s.wantChannels, topics)
			return s.conn.Unsubscribe(args...)
		default:
			removeAll(s.wantPatterns, topics)
			return s.conn.PUnsubscribe(args...)
		}
	})

	if err != nil {
		return err
	}

	removing := command == "UNSUBSCRIBE" || command == "PUNSUBSCRIBE"

	for remaining := len(topics); remaining > 0; {
		select {
		case <-s.acks:
			remaining--

		case <-s.stopped:
			if removing && s.State() == SubscriptionUnsubscribed {
				return nil
			}

			return s.closedErr()

		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// Run f while no terminal transition can release the connection.
func (s *Subscription) write(f func() error) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.State().terminal() {
		return s.closedErrLocked()
	}

	return f()
}

// Interrupt the connection so the receive goroutine finishes. Used when
// the client closes or a subscription cannot be established.
func (s *Subscription) shutdown() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.State().terminal() {
		return
	}

	s.closing.Store(true)
	s.lease.Conn().Interrupt()
}

func (s *Subscription) receive() {
	for {
		switch v := s.next().(type) {
		case redis.Message:
			s.dispatch(v)

		case redis.Subscription:
			s.confirm(v)

			if v.Count == 0 && (v.Kind == "unsubscribe" || v.Kind == "punsubscribe") {
				// The connection has left subscribed mode and can serve
				// ordinary commands again.
				s.finish(nil)
				return
			}

		case redis.Pong:
			select {
			case s.pongs <- v.Data:
			default:
			}

		case error:
			if s.lease.Conn().Err() == nil {
				s.client.logger.Warningf("Subscription received an error reply (%s)", v.Error())
				continue
			}

			s.finish(v)
			return
		}
	}
}

// Subscribed connections may sit quiet for longer than the pool's read
// timeout, so reads block without a deadline when the connection allows it.
func (s *Subscription) next() interface{} {
	if _, ok := s.conn.Conn.(redis.ConnWithTimeout); ok {
		return s.conn.ReceiveWithTimeout(0)
	}

	return s.conn.Receive()
}

func (s *Subscription) dispatch(m redis.Message) {
	namespace := s.client.namespace

	channel, ok := namespace.StripChannel(m.Channel)
	if !ok {
		s.client.logger.Warningf("Dropping message on channel %q outside of namespace %q", m.Channel, namespace.Name())
		return
	}

	pattern := m.Pattern
	if pattern != "" {
		pattern, _ = namespace.StripChannel(pattern)
	}

	data := m.Data
	if strings.HasPrefix(m.Channel, keyeventPrefix) {
		// Keyevent payloads are key names.
		key, ok := namespace.StripKey(string(data))
		if !ok {
			return
		}

		data = []byte(key)
	}

	s.queueMutex.Lock()
	s.queue = append(s.queue, Message{
		Channel: channel,
		Pattern: pattern,
		Data:    data,
	})
	s.queueMutex.Unlock()

	select {
	case s.queued <- struct{}{}:
	default:
	}
}

// Hand queued messages to the handler until the receive goroutine stops,
// then report a lost connection and close done.
func (s *Subscription) deliver() {
	for {
		select {
		case <-s.queued:
			s.handleQueued()

		case <-s.stopped:
			s.handleQueued()

			if s.State() == SubscriptionLost {
				s.handler.HandleLost(s.Err())
			}

			close(s.done)
			return
		}
	}
}

func (s *Subscription) handleQueued() {
	for {
		s.queueMutex.Lock()
		messages := s.queue
		s.queue = nil
		s.queueMutex.Unlock()

		if len(messages) == 0 {
			return
		}

		for _, message := range messages {
			s.handler.HandleMessage(message)
		}
	}
}

func (s *Subscription) confirm(v redis.Subscription) {
	topic, _ := s.client.namespace.StripChannel(v.Channel)

	switch v.Kind {
	case "subscribe":
		s.channels.Store(topic, struct{}{})
	case "psubscribe":
		s.patterns.Store(topic, struct{}{})
	case "unsubscribe":
		s.channels.Delete(topic)
	case "punsubscribe":
		s.patterns.Delete(topic)
	}

	if s.state.CompareAndSwap(int32(SubscriptionSubscribing), int32(SubscriptionActive)) {
		s.client.logger.Debugf("Subscription %d is active", s.id)
	}

	select {
	case s.acks <- struct{}{}:
	default:
	}
}

// Move to a terminal state and return the connection. A nil cause is a
// clean exit.
func (s *Subscription) finish(cause error) {
	s.mutex.Lock()
	lost := cause != nil && !s.closing.Load()

	switch {
	case cause == nil:
		s.state.Store(int32(SubscriptionUnsubscribed))
	case lost:
		s.err = fmt.Errorf("%w: %w", ErrSubscriptionLost, cause)
		s.state.Store(int32(SubscriptionLost))
		s.lease.MarkBroken(cause)
	default:
		s.state.Store(int32(SubscriptionUnsubscribed))
		s.lease.MarkBroken(cause)
	}
	s.mutex.Unlock()

	if releaseErr := s.lease.Release(); releaseErr != nil {
		s.client.logger.Errorf("Could not release subscription connection (%s)", releaseErr.Error())
	}

	s.client.subscriptions.Delete(s.id)

	if lost {
		s.client.logger.Warningf("Subscription %d lost (%s)", s.id, cause.Error())
	} else {
		s.client.logger.Infof("Subscription %d closed", s.id)
	}

	close(s.stopped)
}

func (s *Subscription) closedErr() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.closedErrLocked()
}

func (s *Subscription) closedErrLocked() error {
	if s.err != nil {
		return s.err
	}

	return ErrSubscriptionClosed
}

func addAll(set map[string]struct{}, values []string) {
	for _, value := range values {
		set[value] = struct{}{}
	}
}

func removeAll(set map[string]struct{}, values []string) {
	for _, value := range values {
		delete(set, value)
	}
}

func sortedKeys(m *xsync.MapOf[string, struct{}]) []string {
	keys := make([]string, 0, m.Size())
	m.Range(func(key string, _ struct{}) bool {
		keys = append(keys, key)
		return true
	})

	sort.Strings(keys)
	return keys
}
