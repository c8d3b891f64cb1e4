package asyncredis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gomodule/redigo/redis"

	"github.com/bordbe/async-redis/iface"
)

type (
	// Pipeline wraps an ordered sequence of commands to be processed
	// with a single request/response exchange. This reduces bandwidth
	// and latency around communication with the remote server.
	Pipeline interface {
		iface.Pipeline

		// Queue attaches a prepared command to this pipeline.
		Queue(command Command) error

		// AddScript attaches a script invocation to this pipeline. The
		// script body is always sent since a missing script cannot be
		// retried mid-batch.
		AddScript(script *Script, keysAndArgs ...interface{}) error
	}

	batch struct {
		client    *client
		lease     Lease
		tx        bool
		mutex     sync.Mutex
		state     batchState
		commands  []Command
		originals []Command
	}

	batchState int
)

const (
	batchOpen batchState = iota
	batchFlushed
	batchClosed
)

func (c *client) newBatch(ctx context.Context, tx bool) (Pipeline, error) {
	lease, err := c.timedAcquire(ctx)
	if err != nil {
		return nil, err
	}

	return &batch{
		client: c,
		lease:  lease,
		tx:     tx,
	}, nil
}

// Add will attach a command to this pipeline. This command is
// not sent to the remote server until Exec is invoked.
func (b *batch) Add(command string, args ...interface{}) error {
	return b.Queue(NewCommand(command, args...))
}

func (b *batch) Queue(command Command) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.state != batchOpen {
		return ErrBatchClosed
	}

	translated, err := b.client.namespace.Command(command)
	if err != nil {
		return err
	}

	b.originals = append(b.originals, command)
	b.commands = append(b.commands, translated)
	return nil
}

func (b *batch) AddScript(script *Script, keysAndArgs ...interface{}) error {
	if len(keysAndArgs) < script.keyCount {
		return fmt.Errorf("%w: script expects %d keys", ErrInvalidOption, script.keyCount)
	}

	args := make([]interface{}, 0, len(keysAndArgs)+2)
	args = append(args, script.src, script.keyCount)
	args = append(args, keysAndArgs...)
	return b.Queue(NewCommand("EVAL", args...))
}

func (b *batch) Len() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return len(b.commands)
}

// Exec will send all commands attached to this pipeline in a
// single request and return a slice of the results of each
// command. Server error replies occupy their command's slot.
func (b *batch) Exec(ctx context.Context) (results []interface{}, err error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.state != batchOpen {
		return nil, ErrBatchClosed
	}

	b.state = batchFlushed

	defer func() {
		b.state = batchClosed
		b.client.release(b.lease, err)
	}()

	conn := b.lease.Conn()
	stop := watchContext(ctx, conn)

	if b.tx {
		results, err = b.flushTransaction(conn)
	} else {
		results, err = b.flushPipeline(conn)
	}

	if stop() {
		b.lease.MarkBroken(ctx.Err())

		if err != nil {
			err = fmt.Errorf("%w: %w", ctx.Err(), err)
		}
	}

	return results, err
}

func (b *batch) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.state != batchOpen {
		return nil
	}

	b.state = batchClosed
	return b.lease.Release()
}

//
// Batch Helper Functions

func (b *batch) flushPipeline(conn Conn) ([]interface{}, error) {
	if len(b.commands) == 0 {
		return []interface{}{}, nil
	}

	if err := b.send(conn); err != nil {
		return nil, err
	}

	results := make([]interface{}, 0, len(b.commands))
	for i := range b.commands {
		reply, err := conn.Receive()
		if err != nil {
			if isConnFatal(err) {
				return nil, b.failed(err)
			}

			reply = err
		}

		results = append(results, b.client.namespace.Reply(b.originals[i], reply))
	}

	return results, nil
}

// The transaction is framed as MULTI, the queued commands, and EXEC, all
// written in one flush. Every reply is read even after a queueing error
// so the connection stays in sync and can be reused.
func (b *batch) flushTransaction(conn Conn) ([]interface{}, error) {
	if err := conn.Send("MULTI"); err != nil {
		return nil, b.failed(err)
	}

	if err := b.send(conn, "EXEC"); err != nil {
		return nil, err
	}

	if _, err := conn.Receive(); err != nil {
		// A refused MULTI means the queued commands ran on their own,
		// so the state of the connection can no longer be trusted.
		return nil, b.failed(err)
	}

	var queueErr error
	for range b.commands {
		reply, err := conn.Receive()
		if err != nil {
			if isConnFatal(err) {
				return nil, b.failed(err)
			}

			if queueErr == nil {
				queueErr = err
			}

			continue
		}

		if status, ok := reply.(string); !ok || status != "QUEUED" {
			return nil, b.failed(&ProtocolError{fmt.Errorf("unexpected reply to queued command: %v", reply)})
		}
	}

	reply, err := conn.Receive()
	if err != nil {
		if isConnFatal(err) {
			return nil, b.failed(err)
		}

		if queueErr != nil {
			err = queueErr
		}

		return nil, fmt.Errorf("%w: %w", ErrTransactionAborted, err)
	}

	if queueErr != nil {
		return nil, b.failed(&ProtocolError{errors.New("transaction executed after a queueing error")})
	}

	if reply == nil {
		// A watched key changed before EXEC.
		return nil, ErrTransactionAborted
	}

	values, err := redis.Values(reply, nil)
	if err != nil || len(values) != len(b.commands) {
		return nil, b.failed(&ProtocolError{fmt.Errorf("unexpected reply to EXEC: %v", reply)})
	}

	results := make([]interface{}, 0, len(values))
	for i, value := range values {
		results = append(results, b.client.namespace.Reply(b.originals[i], value))
	}

	return results, nil
}

// Write every queued command (plus an optional trailer) and flush once.
func (b *batch) send(conn Conn, trailer ...string) error {
	for _, command := range b.commands {
		if err := conn.Send(command.Name, command.Args...); err != nil {
			return b.failed(err)
		}
	}

	for _, command := range trailer {
		if err := conn.Send(command); err != nil {
			return b.failed(err)
		}
	}

	if err := conn.Flush(); err != nil {
		return b.failed(err)
	}

	return nil
}

// The protocol offers no way to resynchronize mid-batch, so any failure
// while sending or reading discards the connection.
func (b *batch) failed(err error) error {
	b.lease.MarkBroken(err)
	return fmt.Errorf("%w: %w", ErrBatchFailed, err)
}
