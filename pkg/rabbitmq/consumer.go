package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const attemptHeader = "x-attempt"

// Delivery is one job handed to a Handler.
type Delivery struct {
	Body        []byte
	Attempt     int
	MaxAttempts int
}

// LastAttempt reports whether a failure of this delivery exhausts its retries.
func (d Delivery) LastAttempt() bool {
	return d.Attempt >= d.MaxAttempts
}

// Handler processes a job. A nil return acknowledges it; an error schedules a
// retry unless it is wrapped with Permanent or the attempts are used up.
type Handler func(ctx context.Context, d Delivery) error

// QueueOptions controls how a queue is drained.
type QueueOptions struct {
	Concurrency    int
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	HandlerTimeout time.Duration
	// OnExhausted runs once when a job fails for the last time.
	OnExhausted func(ctx context.Context, d Delivery, err error)
}

func (o QueueOptions) withDefaults() QueueOptions {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 5 * time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 5 * time.Minute
	}
	return o
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// RetryDelay returns the backoff before the given attempt is redelivered:
// base doubled for every failed attempt so far, capped at max.
func RetryDelay(base, max time.Duration, failedAttempt int) time.Duration {
	if failedAttempt < 1 {
		failedAttempt = 1
	}
	delay := base
	for i := 1; i < failedAttempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

func attemptFromHeaders(headers amqp.Table) int {
	raw, ok := headers[attemptHeader]
	if !ok {
		return 1
	}
	var n int
	switch v := raw.(type) {
	case int:
		n = v
	case int8:
		n = int(v)
	case int16:
		n = int(v)
	case int32:
		n = int(v)
	case int64:
		n = int(v)
	case uint8:
		n = int(v)
	case uint16:
		n = int(v)
	case uint32:
		n = int(v)
	default:
		return 1
	}
	if n < 1 {
		return 1
	}
	return n
}

func retryQueueName(queue string, delay time.Duration) string {
	return fmt.Sprintf("%s.retry.%d", queue, delay.Milliseconds())
}

// Consumer drains work queues. Each queue gets its own channel with a
// prefetch equal to its worker count; retries are published on a shared
// channel guarded by a mutex.
type Consumer struct {
	conn *amqp.Connection

	pubMu  sync.Mutex
	pubCh  *amqp.Channel
	retryQ map[string]bool

	wg sync.WaitGroup
}

func NewConsumer(amqpURL string) (*Consumer, error) {
	conn, err := dial(amqpURL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Consumer{conn: conn, pubCh: ch, retryQ: map[string]bool{}}, nil
}

// ConsumeQueue declares queue and starts opts.Concurrency workers on it. It
// returns once the workers are running; they stop when ctx is cancelled or
// the channel closes.
func (c *Consumer) ConsumeQueue(ctx context.Context, queue string, opts QueueOptions, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("no handler provided for queue %s", queue)
	}
	opts = opts.withDefaults()

	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	if err := declareWorkQueue(ch, queue); err != nil {
		ch.Close()
		return err
	}
	if err := ch.Qos(opts.Concurrency, 0, false); err != nil {
		ch.Close()
		return err
	}

	msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return err
	}

	var workers sync.WaitGroup
	for i := 0; i < opts.Concurrency; i++ {
		workers.Add(1)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			defer workers.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-msgs:
					if !ok {
						return
					}
					c.handle(ctx, queue, opts, handler, d)
				}
			}
		}()
	}

	go func() {
		workers.Wait()
		ch.Close()
	}()

	log.Printf("level=info component=rabbitmq_consumer msg=\"consuming\" queue=%s concurrency=%d max_attempts=%d", queue, opts.Concurrency, opts.MaxAttempts)
	return nil
}

func (c *Consumer) handle(ctx context.Context, queue string, opts QueueOptions, handler Handler, d amqp.Delivery) {
	delivery := Delivery{Body: d.Body, Attempt: attemptFromHeaders(d.Headers), MaxAttempts: opts.MaxAttempts}

	hctx := ctx
	cancel := func() {}
	if opts.HandlerTimeout > 0 {
		hctx, cancel = context.WithTimeout(ctx, opts.HandlerTimeout)
	}
	err := safeInvoke(hctx, handler, delivery)
	cancel()

	if err == nil {
		d.Ack(false)
		return
	}

	if IsPermanent(err) || delivery.LastAttempt() {
		log.Printf("level=error component=rabbitmq_consumer msg=\"job failed permanently\" queue=%s attempt=%d err=%v", queue, delivery.Attempt, err)
		if opts.OnExhausted != nil {
			opts.OnExhausted(ctx, delivery, err)
		}
		d.Ack(false)
		return
	}

	delay := RetryDelay(opts.BaseDelay, opts.MaxDelay, delivery.Attempt)
	if pubErr := c.scheduleRetry(ctx, queue, delay, d.Body, delivery.Attempt+1); pubErr != nil {
		log.Printf("level=error component=rabbitmq_consumer msg=\"retry publish failed; requeueing\" queue=%s err=%v", queue, pubErr)
		d.Nack(false, true)
		return
	}
	log.Printf("level=warn component=rabbitmq_consumer msg=\"job failed; retry scheduled\" queue=%s attempt=%d delay=%s err=%v", queue, delivery.Attempt, delay, err)
	d.Ack(false)
}

func safeInvoke(ctx context.Context, handler Handler, d Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, d)
}

// scheduleRetry parks body on a per-delay queue whose messages expire back
// onto the work queue.
func (c *Consumer) scheduleRetry(ctx context.Context, queue string, delay time.Duration, body []byte, attempt int) error {
	name := retryQueueName(queue, delay)

	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	if !c.retryQ[name] {
		args := amqp.Table{
			"x-message-ttl":             delay.Milliseconds(),
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": queue,
		}
		if _, err := c.pubCh.QueueDeclare(name, true, false, false, false, args); err != nil {
			return err
		}
		c.retryQ[name] = true
	}

	headers := amqp.Table{attemptHeader: int32(attempt)}
	return c.pubCh.PublishWithContext(ctx, "", name, false, false, persistentJSON(body, headers))
}

// Wait blocks until every worker has stopped.
func (c *Consumer) Wait() {
	c.wg.Wait()
}

func (c *Consumer) Close() {
	if c.pubCh != nil {
		c.pubCh.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
