// Package tele delivers sensor readings to collector.
//
// Reporter builds one Request per reading and pushes it through Transporter
// with fixed delay retry. Only transport failure is retried, any completed
// exchange ends delivery regardless of status code.
// Undelivered reading is dropped, there is no queue.
package tele

import (
	"context"
	"time"
)

const (
	ContentTypeJSON = "application/json"

	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 5 * time.Second
	DefaultHttpTimeout = 10 * time.Second
)

type Request struct {
	Endpoint    string
	ContentType string
	Body        []byte
}

// Response is result of completed exchange. StatusCode is 0 for transports without status.
type Response struct {
	StatusCode    int
	ContentLength int64
}

// Transporter contract:
// - error return means exchange did not complete (connect, send, timeout) and is safe to retry
// - any completed exchange returns nil error, even if receiver rejected payload
// - Send must not modify Request
type Transporter interface {
	Send(ctx context.Context, req *Request) (Response, error)
}

type TransportFunc func(ctx context.Context, req *Request) (Response, error)

func (f TransportFunc) Send(ctx context.Context, req *Request) (Response, error) { return f(ctx, req) }

type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, Delay: DefaultRetryDelay}
}

// Outcome of one reading delivery. Err is last transport error when not Delivered.
type Outcome struct {
	Delivered     bool
	StatusCode    int
	ContentLength int64
	Attempts      int
	Err           error
}

func (o Outcome) Exhausted() bool { return !o.Delivered }

// Success is Delivered with 2xx status or statusless transport.
func (o Outcome) Success() bool {
	return o.Delivered && (o.StatusCode == 0 || (o.StatusCode >= 200 && o.StatusCode < 300))
}
