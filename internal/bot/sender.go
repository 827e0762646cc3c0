package bot

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Sender is the outbound half of the Bot API. *tgbotapi.BotAPI satisfies it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// RetryingSender retries calls rejected with 429 Too Many Requests, waiting
// at least as long as Telegram's retry_after asks. Other errors are returned
// as is. No retry sleeps past maxElapsed or past Stop.
type RetryingSender struct {
	next            Sender
	logger          *zap.Logger
	initialInterval time.Duration
	maxElapsed      time.Duration
	now             func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

type RetryOption func(*RetryingSender)

func WithRetryIntervals(initial, maxElapsed time.Duration) RetryOption {
	return func(s *RetryingSender) {
		s.initialInterval = initial
		s.maxElapsed = maxElapsed
	}
}

func NewRetryingSender(next Sender, logger *zap.Logger, opts ...RetryOption) *RetryingSender {
	s := &RetryingSender{
		next:            next,
		logger:          logger,
		initialInterval: 500 * time.Millisecond,
		maxElapsed:      time.Minute,
		now:             time.Now,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stop aborts pending and future retries. Calls still reach Telegram once.
func (s *RetryingSender) Stop() {
	s.cancel()
}

func (s *RetryingSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	var msg tgbotapi.Message
	err := s.retry(func() error {
		var err error
		msg, err = s.next.Send(c)
		return err
	})
	return msg, err
}

func (s *RetryingSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	var resp *tgbotapi.APIResponse
	err := s.retry(func() error {
		var err error
		resp, err = s.next.Request(c)
		return err
	})
	return resp, err
}

func (s *RetryingSender) retry(call func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.initialInterval
	exp.MaxElapsedTime = 0
	policy := &retryAfterBackOff{
		BackOff:    exp,
		maxElapsed: s.maxElapsed,
		now:        s.now,
		start:      s.now(),
	}

	op := func() error {
		err := call()
		if err == nil {
			return nil
		}
		wait, ok := retryAfter(err)
		if !ok {
			return backoff.Permanent(err)
		}
		policy.wait = wait
		return err
	}

	var last error
	err := backoff.RetryNotify(func() error {
		last = op()
		return last
	}, backoff.WithContext(policy, s.ctx), func(err error, d time.Duration) {
		s.logger.Warn("Telegram rate limit hit, retrying",
			zap.Duration("retry_in", d),
			zap.Error(err))
	})
	if errors.Is(err, context.Canceled) && last != nil {
		// report the Telegram error rather than the cancellation
		return last
	}
	return err
}

// retryAfterBackOff never waits less than the server-requested delay, and
// gives up when that wait would end past maxElapsed.
type retryAfterBackOff struct {
	backoff.BackOff
	wait       time.Duration
	maxElapsed time.Duration
	start      time.Time
	now        func() time.Time
}

func (b *retryAfterBackOff) Reset() {
	b.BackOff.Reset()
	b.wait = 0
	if b.now != nil {
		b.start = b.now()
	}
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return backoff.Stop
	}
	if b.wait > next {
		next = b.wait
	}
	b.wait = 0
	if b.maxElapsed > 0 && b.now().Sub(b.start)+next > b.maxElapsed {
		return backoff.Stop
	}
	return next
}

// retryAfter extracts the flood-wait delay from a Telegram error.
func retryAfter(err error) (time.Duration, bool) {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return floodWait(*apiErr)
	}
	var apiErrValue tgbotapi.Error
	if errors.As(err, &apiErrValue) {
		return floodWait(apiErrValue)
	}
	return 0, false
}

func floodWait(e tgbotapi.Error) (time.Duration, bool) {
	if e.Code != http.StatusTooManyRequests && e.RetryAfter == 0 {
		return 0, false
	}
	return time.Duration(e.RetryAfter) * time.Second, true
}
