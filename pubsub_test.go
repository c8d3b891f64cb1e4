package asyncredis

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/aphistic/sweet"
	. "github.com/onsi/gomega"
)

type (
	SubscriptionSuite struct{}

	testHandler struct {
		messages chan Message
		lost     chan error
		lostN    int32
	}
)

func newTestHandler() *testHandler {
	return &testHandler{
		messages: make(chan Message, 64),
		lost:     make(chan error, 4),
	}
}

func (h *testHandler) HandleMessage(message Message) {
	h.messages <- message
}

func (h *testHandler) HandleLost(err error) {
	atomic.AddInt32(&h.lostN, 1)
	h.lost <- err
}

func (s *SubscriptionSuite) TestSubscribeReceivesMessages(t sweet.T) {
	var (
		server  = newFakeServer()
		c       = newTestClient(server, "ns")
		handler = newTestHandler()
		ctx     = context.Background()
	)

	defer c.Close()

	sub, err := c.Subscribe(ctx, handler, "a")
	Expect(err).To(BeNil())
	Expect(sub.State()).To(Equal(SubscriptionActive))
	Expect(sub.Channels()).To(Equal([]string{"a"}))

	Expect(c.Publish(ctx, "a", "hi")).To(Equal(1))
	Eventually(handler.messages).Should(Receive(Equal(Message{Channel: "a", Data: []byte("hi")})))
}

func (s *SubscriptionSuite) TestAddingTopicKeepsExisting(t sweet.T) {
	var (
		server  = newFakeServer()
		c       = newTestClient(server, "ns")
		handler = newTestHandler()
		ctx     = context.Background()
	)

	defer c.Close()

	sub, err := c.Subscribe(ctx, handler, "a")
	Expect(err).To(BeNil())
	Expect(sub.Subscribe(ctx, "b")).To(Succeed())

	channels, patterns := sub.Topics()
	Expect(channels).To(Equal([]string{"a", "b"}))
	Expect(patterns).To(BeEmpty())

	c.Publish(ctx, "a", "1")
	c.Publish(ctx, "b", "2")
	Eventually(handler.messages).Should(Receive(Equal(Message{Channel: "a", Data: []byte("1")})))
	Eventually(handler.messages).Should(Receive(Equal(Message{Channel: "b", Data: []byte("2")})))
}

func (s *SubscriptionSuite) TestUnsubscribeOneTopic(t sweet.T) {
	var (
		server  = newFakeServer()
		c       = newTestClient(server, "ns")
		handler = newTestHandler()
		ctx     = context.Background()
	)

	defer c.Close()

	sub, _ := c.Subscribe(ctx, handler, "a", "b")
	Expect(sub.Unsubscribe(ctx, "a")).To(Succeed())
	Expect(sub.Channels()).To(Equal([]string{"b"}))
	Expect(sub.State()).To(Equal(SubscriptionActive))

	Expect(c.Publish(ctx, "a", "1")).To(Equal(0))
	Expect(c.Publish(ctx, "b", "2")).To(Equal(1))
	Eventually(handler.messages).Should(Receive(Equal(Message{Channel: "b", Data: []byte("2")})))
	Consistently(handler.messages).ShouldNot(Receive())
}

func (s *SubscriptionSuite) TestUnsubscribeLastTopicEndsSubscription(t sweet.T) {
	var (
		server  = newFakeServer()
		c       = newTestClient(server, "ns", WithPoolCapacity(1))
		handler = newTestHandler()
		ctx     = context.Background()
	)

	defer c.Close()

	sub, _ := c.Subscribe(ctx, handler, "a")
	Expect(c.Stats().LeasedConns).To(Equal(1))

	Expect(sub.Unsubscribe(ctx, "a")).To(Succeed())
	Eventually(sub.Done()).Should(BeClosed())
	Expect(sub.State()).To(Equal(SubscriptionUnsubscribed))
	Expect(sub.Err()).To(BeNil())

	// The connection went back to the pool in a usable state
	Expect(c.Ping(ctx)).To(Succeed())
	Expect(server.dialCount()).To(Equal(1))
	Expect(c.Stats().Broken).To(Equal(uint64(0)))

	Expect(sub.Subscribe(ctx, "b")).To(MatchError(ErrSubscriptionClosed))
	Consistently(handler.lost).ShouldNot(Receive())
}

func (s *SubscriptionSuite) TestCloseRemovesEveryTopic(t sweet.T) {
	var (
		server  = newFakeServer()
		c       = newTestClient(server, "ns")
		handler = newTestHandler()
		ctx     = context.Background()
	)

	defer c.Close()

	sub, err := c.Subscribe(ctx, handler, "a", "b")
	Expect(err).To(BeNil())
	Expect(sub.PSubscribe(ctx, "news.*")).To(Succeed())
	Expect(server.subscriberCount()).To(Equal(1))

	Expect(c.Unsubscribe(ctx, sub)).To(Succeed())
	Expect(sub.State()).To(Equal(SubscriptionUnsubscribed))
	Expect(server.subscriberCount()).To(Equal(0))
	Expect(c.Stats().LeasedConns).To(Equal(0))

	// Closing twice is harmless
	Expect(sub.Close(ctx)).To(Succeed())
}

func (s *SubscriptionSuite) TestPatternSubscription(t sweet.T) {
	var (
		server  = newFakeServer()
		c       = newTestClient(server, "ns")
		handler = newTestHandler()
		ctx     = context.Background()
	)

	defer c.Close()

	sub, err := c.PSubscribe(ctx, handler, "news.*")
	Expect(err).To(BeNil())
	Expect(sub.Patterns()).To(Equal([]string{"news.*"}))

	c.Publish(ctx, "news.sport", "goal")
	Eventually(handler.messages).Should(Receive(Equal(Message{
		Channel: "news.sport",
		Pattern: "news.*",
		Data:    []byte("goal"),
	})))

	Expect(sub.PUnsubscribe(ctx, "news.*")).To(Succeed())
	Eventually(sub.Done()).Should(BeClosed())
}

func (s *SubscriptionSuite) TestNamespacesDoNotCrossTalk(t sweet.T) {
	var (
		server  = newFakeServer()
		ns1     = newTestClient(server, "ns1")
		ns2     = ns1.WithNamespace("ns2")
		handler = newTestHandler()
		ctx     = context.Background()
	)

	defer ns1.Close()

	_, err := ns1.Subscribe(ctx, handler, "a")
	Expect(err).To(BeNil())

	Expect(ns2.Publish(ctx, "a", "x")).To(Equal(0))
	Consistently(handler.messages).ShouldNot(Receive())
}

func (s *SubscriptionSuite) TestKeyeventPayloadTranslated(t sweet.T) {
	var (
		server  = newFakeServer()
		c       = newTestClient(server, "ns")
		handler = newTestHandler()
		ctx     = context.Background()
	)

	defer c.Close()

	_, err := c.Subscribe(ctx, handler, "__keyevent@0__:del")
	Expect(err).To(BeNil())

	server.notify("__keyevent@0__:del", "other:b")
	server.notify("__keyevent@0__:del", "ns:a")

	Eventually(handler.messages).Should(Receive(Equal(Message{Channel: "__keyevent@0__:del", Data: []byte("a")})))
	Consistently(handler.messages).ShouldNot(Receive())
}

func (s *SubscriptionSuite) TestCloseContextExpiresBeforeConfirmation(t sweet.T) {
	var (
		server  = newFakeServer()
		c       = newTestClient(server, "ns")
		handler = newTestHandler()
	)

	defer c.Close()

	sub, err := c.Subscribe(context.Background(), handler, "a")
	Expect(err).To(BeNil())
	server.mutex.Lock()
	server.silentUnsubscribe = true
	server.mutex.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*20)
	defer cancel()

	// The connection is still in subscribed mode, so it is thrown away
	err = sub.Close(ctx)
	Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
	Expect(sub.State()).To(Equal(SubscriptionUnsubscribed))
	Eventually(sub.Done()).Should(BeClosed())
	Consistently(handler.lost).ShouldNot(Receive())

	stats := c.Stats()
	Expect(stats.Broken).To(Equal(uint64(1)))
	Expect(stats.TotalConns).To(Equal(0))
}

func (s *SubscriptionSuite) TestHandlerCallsBackIntoSubscription(t sweet.T) {
	var (
		server  = newFakeServer()
		c       = newTestClient(server, "ns")
		ctx     = context.Background()
		results = make(chan error, 8)
		ready   = make(chan struct{})
		sub     *Subscription
	)

	defer c.Close()

	handler := HandlerFuncs{
		OnMessage: func(m Message) {
			<-ready

			switch m.Channel {
			case "a":
				results <- sub.Subscribe(ctx, "b")
				_, err := c.Publish(ctx, "b", "2")
				results <- err
			case "b":
				results <- sub.Ping(ctx)
				results <- sub.Close(ctx)
			}
		},
	}

	sub, err := c.Subscribe(ctx, handler, "a")
	Expect(err).To(BeNil())
	close(ready)

	Expect(c.Publish(ctx, "a", "1")).To(Equal(1))

	for i := 0; i < 4; i++ {
		Eventually(results).Should(Receive(BeNil()))
	}

	Eventually(sub.Done()).Should(BeClosed())
	Expect(sub.State()).To(Equal(SubscriptionUnsubscribed))
	Expect(server.subscriberCount()).To(Equal(0))
}

func (s *SubscriptionSuite) TestSubscriptionLost(t sweet.T) {
	var (
		server  = newFakeServer()
		c       = newTestClient(server, "ns")
		handler = newTestHandler()
		ctx     = context.Background()
	)

	defer c.Close()

	sub, _ := c.Subscribe(ctx, handler, "a")
	server.dropAll()

	var err error
	Eventually(handler.lost).Should(Receive(&err))
	Expect(errors.Is(err, ErrSubscriptionLost)).To(BeTrue())
	Expect(errors.Is(err, ErrTransportFailure)).To(BeTrue())

	Eventually(sub.Done()).Should(BeClosed())
	Expect(sub.State()).To(Equal(SubscriptionLost))
	Expect(sub.Err()).To(Equal(err))
	Expect(atomic.LoadInt32(&handler.lostN)).To(Equal(int32(1)))
	Expect(c.Stats().Broken).To(Equal(uint64(1)))

	// No automatic resubscription
	Expect(sub.Subscribe(ctx, "b")).To(MatchError(err))
	Expect(server.subscriberCount()).To(Equal(0))
}

func (s *SubscriptionSuite) TestClientCloseEndsSubscriptions(t sweet.T) {
	var (
		server  = newFakeServer()
		c       = newTestClient(server, "ns")
		handler = newTestHandler()
		ctx     = context.Background()
	)

	sub, _ := c.Subscribe(ctx, handler, "a")
	c.Close()

	Eventually(sub.Done()).Should(BeClosed())
	Expect(sub.State()).To(Equal(SubscriptionUnsubscribed))
	Consistently(handler.lost).ShouldNot(Receive())
}

func (s *SubscriptionSuite) TestPing(t sweet.T) {
	var (
		c       = newTestClient(newFakeServer(), "ns")
		handler = newTestHandler()
		ctx     = context.Background()
	)

	defer c.Close()

	sub, _ := c.Subscribe(ctx, handler, "a")
	Expect(sub.Ping(ctx)).To(Succeed())
	Expect(sub.Ping(ctx)).To(Succeed())
}

func (s *SubscriptionSuite) TestSubscribeRequiresTopics(t sweet.T) {
	c := newTestClient(newFakeServer(), "ns")
	defer c.Close()

	_, err := c.Subscribe(context.Background(), newTestHandler())
	Expect(errors.Is(err, ErrInvalidOption)).To(BeTrue())
	Expect(c.Stats().TotalConns).To(Equal(0))
}

func (s *SubscriptionSuite) TestHandlerFuncs(t sweet.T) {
	var (
		messages []Message
		lost     []error
		handler  = HandlerFuncs{
			OnMessage: func(m Message) { messages = append(messages, m) },
		}
	)

	handler.HandleMessage(Message{Channel: "a"})
	handler.HandleLost(ErrSubscriptionLost)
	Expect(messages).To(HaveLen(1))
	Expect(lost).To(BeEmpty())

	handler.OnLost = func(err error) { lost = append(lost, err) }
	handler.HandleLost(ErrSubscriptionLost)
	Expect(lost).To(Equal([]error{ErrSubscriptionLost}))
}
