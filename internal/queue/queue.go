// Package queue provides the at-least-once work queue the trigger and
// workers communicate through.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrReceiptExpired is returned by Delete when the lease behind a receipt
// handle has lapsed and the message was handed to another receive.
var ErrReceiptExpired = errors.New("receipt handle no longer valid")

// Message is one leased delivery
type Message struct {
	ID            string
	Body          string
	Attributes    map[string]string
	ReceiptHandle string
	// ReceiveCount is 1 on first delivery and grows with each redelivery.
	ReceiveCount int
}

// Queue is a work queue with visibility-timeout semantics: a received
// message is hidden for the lease duration and reappears unless deleted.
type Queue interface {
	// Send enqueues a message that becomes visible after delay.
	Send(ctx context.Context, body string, attributes map[string]string, delay time.Duration) error
	// Receive leases at most one message, waiting up to wait for one to
	// become visible. It returns (nil, nil) when the queue is empty.
	Receive(ctx context.Context, lease, wait time.Duration) (*Message, error)
	// Delete acknowledges a leased message permanently.
	Delete(ctx context.Context, receiptHandle string) error
}

// Releaser is implemented by queues that can hand a leased message back
// before its lease ends. Workers release messages whose iteration failed.
type Releaser interface {
	Release(ctx context.Context, receiptHandle string) error
}

// pollInterval bounds how often blocking receives re-check an empty queue.
const pollInterval = 200 * time.Millisecond

// waitForMessage calls try until it yields a message, fails, or wait elapses.
func waitForMessage(ctx context.Context, wait time.Duration, try func() (*Message, error)) (*Message, error) {
	deadline := time.Now().Add(wait)
	for {
		msg, err := try()
		if err != nil || msg != nil {
			return msg, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		sleep := pollInterval
		if remaining < sleep {
			sleep = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}
