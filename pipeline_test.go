package asyncredis

import (
	"context"
	"errors"
	"time"

	"github.com/aphistic/sweet"
	"github.com/gomodule/redigo/redis"
	. "github.com/onsi/gomega"
)

type PipelineSuite struct{}

func (s *PipelineSuite) TestPipelineOrdering(t sweet.T) {
	var (
		server = newFakeServer()
		c      = newTestClient(server, "ns")
		ctx    = context.Background()
	)

	defer c.Close()

	p, err := c.Pipeline(ctx)
	Expect(err).To(BeNil())

	Expect(p.Add("SET", "a", "1")).To(Succeed())
	Expect(p.Add("GET", "a")).To(Succeed())
	Expect(p.Add("GET")).To(Succeed())
	Expect(p.Queue(NewCommand("GET", "missing"))).To(Succeed())
	Expect(p.Len()).To(Equal(4))

	results, err := p.Exec(ctx)
	Expect(err).To(BeNil())
	Expect(results).To(HaveLen(4))
	Expect(results[0]).To(Equal("OK"))
	Expect(results[1]).To(Equal([]byte("1")))
	Expect(results[2]).To(BeAssignableToTypeOf(redis.Error("")))
	Expect(results[3]).To(BeNil())

	Expect(server.rawKeys()).To(Equal([]string{"ns:a"}))

	stats := c.Stats()
	Expect(stats.LeasedConns).To(Equal(0))
	Expect(stats.IdleConns).To(Equal(1))
}

func (s *PipelineSuite) TestPipelineTranslatesReplies(t sweet.T) {
	var (
		server = newFakeServer()
		c      = newTestClient(server, "ns")
		ctx    = context.Background()
	)

	defer c.Close()

	server.setRaw("ns:a", "1")
	server.setRaw("other:b", "2")

	p, _ := c.Pipeline(ctx)
	p.Add("KEYS", "*")

	results, err := p.Exec(ctx)
	Expect(err).To(BeNil())
	Expect(results).To(Equal([]interface{}{[]interface{}{[]byte("a")}}))
}

func (s *PipelineSuite) TestEmptyPipeline(t sweet.T) {
	var (
		server = newFakeServer()
		c      = newTestClient(server, "ns")
		ctx    = context.Background()
	)

	defer c.Close()

	p, _ := c.Pipeline(ctx)
	results, err := p.Exec(ctx)
	Expect(err).To(BeNil())
	Expect(results).To(BeEmpty())
	Expect(server.commandNames()).To(BeEmpty())
}

func (s *PipelineSuite) TestPipelineHoldsLease(t sweet.T) {
	var (
		c   = newTestClient(newFakeServer(), "ns", WithPoolCapacity(1))
		ctx = context.Background()
	)

	defer c.Close()

	p, err := c.Pipeline(ctx)
	Expect(err).To(BeNil())
	Expect(c.Stats().LeasedConns).To(Equal(1))

	Expect(p.Close()).To(Succeed())
	Expect(p.Close()).To(Succeed())
	Expect(c.Stats().LeasedConns).To(Equal(0))

	Expect(p.Add("GET", "a")).To(Equal(ErrBatchClosed))

	_, err = p.Exec(ctx)
	Expect(err).To(Equal(ErrBatchClosed))
}

func (s *PipelineSuite) TestExecTwice(t sweet.T) {
	var (
		c   = newTestClient(newFakeServer(), "ns")
		ctx = context.Background()
	)

	defer c.Close()

	p, _ := c.Pipeline(ctx)
	p.Add("PING")

	_, err := p.Exec(ctx)
	Expect(err).To(BeNil())

	_, err = p.Exec(ctx)
	Expect(err).To(Equal(ErrBatchClosed))
	Expect(p.Close()).To(Succeed())
}

func (s *PipelineSuite) TestPipelineTransportFailure(t sweet.T) {
	var (
		server = newFakeServer()
		c      = newTestClient(server, "ns")
		ctx    = context.Background()
	)

	defer c.Close()

	p, _ := c.Pipeline(ctx)
	p.Add("SET", "a", "1")
	server.dropAll()

	_, err := p.Exec(ctx)
	Expect(errors.Is(err, ErrBatchFailed)).To(BeTrue())
	Expect(errors.Is(err, ErrTransportFailure)).To(BeTrue())

	stats := c.Stats()
	Expect(stats.Broken).To(Equal(uint64(1)))
	Expect(stats.TotalConns).To(Equal(0))
}

func (s *PipelineSuite) TestAddScript(t sweet.T) {
	var (
		c   = newTestClient(newFakeServer(), "ns")
		ctx = context.Background()
	)

	defer c.Close()

	p, _ := c.Pipeline(ctx)
	Expect(p.AddScript(NewScript(2, "return KEYS"), "a", "b")).To(Succeed())
	Expect(p.AddScript(NewScript(2, "return KEYS"), "a")).NotTo(Succeed())

	results, err := p.Exec(ctx)
	Expect(err).To(BeNil())
	Expect(results).To(Equal([]interface{}{[]interface{}{[]byte("ns:a"), []byte("ns:b")}}))
}

func (s *PipelineSuite) TestTransaction(t sweet.T) {
	var (
		server = newFakeServer()
		c      = newTestClient(server, "ns")
		ctx    = context.Background()
	)

	defer c.Close()

	results, err := c.Transaction(
		ctx,
		NewCommand("SET", "a", "1"),
		NewCommand("GET", "a"),
	)

	Expect(err).To(BeNil())
	Expect(results).To(Equal([]interface{}{"OK", []byte("1")}))
	Expect(server.commandNames()).To(Equal([]string{"MULTI", "SET", "GET", "EXEC"}))
	Expect(c.Stats().LeasedConns).To(Equal(0))
}

func (s *PipelineSuite) TestTransactionAborted(t sweet.T) {
	var (
		server = newFakeServer()
		c      = newTestClient(server, "ns")
		ctx    = context.Background()
	)

	defer c.Close()

	p, err := c.TxPipeline(ctx)
	Expect(err).To(BeNil())

	p.Add("SET", "a", "1")
	p.Add("GET")

	_, err = p.Exec(ctx)
	Expect(errors.Is(err, ErrTransactionAborted)).To(BeTrue())

	// Nothing was applied and the connection is still good
	Expect(server.rawKeys()).To(BeEmpty())
	Expect(c.Ping(ctx)).To(Succeed())
	Expect(server.dialCount()).To(Equal(1))
	Expect(c.Stats().Broken).To(Equal(uint64(0)))
}

func (s *PipelineSuite) TestCancellationInterruptsExec(t sweet.T) {
	var (
		conn        = NewMockConn()
		interrupted = make(chan struct{})
		c           = NewClient(
			"mock",
			WithLogger(testLogger),
			WithDialer(func(ctx context.Context) (Conn, error) { return conn, nil }),
		)
	)

	defer c.Close()

	conn.InterruptFunc = func() { close(interrupted) }
	conn.ReceiveFunc = func() (interface{}, error) {
		<-interrupted
		return nil, &TransportError{errors.New("use of closed network connection")}
	}

	p, err := c.Pipeline(context.Background())
	Expect(err).To(BeNil())
	Expect(p.Add("BLPOP", "q", 0)).To(Succeed())
	Expect(p.Add("GET", "a")).To(Succeed())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(time.Millisecond * 10)
		cancel()
	}()

	_, err = p.Exec(ctx)
	Expect(errors.Is(err, context.Canceled)).To(BeTrue())
	Expect(errors.Is(err, ErrBatchFailed)).To(BeTrue())
	Expect(conn.closeCount()).To(Equal(1))
	Expect(c.Stats().TotalConns).To(Equal(0))

	// The pipeline cannot be replayed
	_, err = p.Exec(context.Background())
	Expect(err).To(Equal(ErrBatchClosed))
}
