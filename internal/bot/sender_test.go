package bot

import (
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type flakySender struct {
	errs  []error
	calls int
}

func (f *flakySender) next() error {
	f.calls++
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func (f *flakySender) Send(tgbotapi.Chattable) (tgbotapi.Message, error) {
	if err := f.next(); err != nil {
		return tgbotapi.Message{}, err
	}
	return tgbotapi.Message{MessageID: 42}, nil
}

func (f *flakySender) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	if err := f.next(); err != nil {
		return nil, err
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func tooManyRequests() error {
	return &tgbotapi.Error{
		Code:               429,
		Message:            "Too Many Requests: retry after 0",
		ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 0},
	}
}

func TestRetryingSenderRetriesFloodWait(t *testing.T) {
	next := &flakySender{errs: []error{tooManyRequests(), tooManyRequests()}}
	s := NewRetryingSender(next, zaptest.NewLogger(t), WithRetryIntervals(time.Millisecond, time.Second))

	msg, err := s.Send(tgbotapi.NewMessage(1, "hi"))
	require.NoError(t, err)
	assert.Equal(t, 42, msg.MessageID)
	assert.Equal(t, 3, next.calls)
}

func TestRetryingSenderPermanentError(t *testing.T) {
	forbidden := &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}
	next := &flakySender{errs: []error{forbidden}}
	s := NewRetryingSender(next, zaptest.NewLogger(t), WithRetryIntervals(time.Millisecond, time.Second))

	_, err := s.Request(tgbotapi.NewCallback("1", ""))
	require.Error(t, err)
	assert.Equal(t, 1, next.calls)

	var apiErr *tgbotapi.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 403, apiErr.Code)
}

func TestRetryingSenderGivesUp(t *testing.T) {
	errs := make([]error, 1000)
	for i := range errs {
		errs[i] = tooManyRequests()
	}
	next := &flakySender{errs: errs}
	s := NewRetryingSender(next, zaptest.NewLogger(t), WithRetryIntervals(time.Millisecond, 20*time.Millisecond))

	_, err := s.Send(tgbotapi.NewMessage(1, "hi"))
	assert.Error(t, err)
	assert.Less(t, next.calls, 1000)
}

func TestRetryAfter(t *testing.T) {
	d, ok := retryAfter(&tgbotapi.Error{Code: 429, ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 3}})
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, d)

	_, ok = retryAfter(errors.New("network"))
	assert.False(t, ok)

	_, ok = retryAfter(&tgbotapi.Error{Code: 400})
	assert.False(t, ok)
}

func TestRetryAfterBackOffHonoursServerDelay(t *testing.T) {
	b := &retryAfterBackOff{BackOff: constantBackOff(time.Millisecond), wait: time.Second}
	assert.Equal(t, time.Second, b.NextBackOff())
	assert.Equal(t, time.Millisecond, b.NextBackOff(), "server delay applies once")
}

func TestRetryAfterBackOffStopsPastMaxElapsed(t *testing.T) {
	now := time.Unix(0, 0)
	b := &retryAfterBackOff{
		BackOff:    constantBackOff(time.Millisecond),
		maxElapsed: time.Minute,
		start:      now,
		now:        func() time.Time { return now },
	}

	b.wait = 30 * time.Second
	assert.Equal(t, 30*time.Second, b.NextBackOff())

	now = now.Add(40 * time.Second)
	b.wait = 30 * time.Second
	assert.Equal(t, backoff.Stop, b.NextBackOff(), "wait would end past the deadline")

	b.Reset()
	assert.Equal(t, time.Millisecond, b.NextBackOff(), "reset restarts the clock")
}

func floodWaitErr(seconds int) error {
	return &tgbotapi.Error{
		Code:               429,
		Message:            "Too Many Requests",
		ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: seconds},
	}
}

func TestRetryingSenderSkipsWaitPastMaxElapsed(t *testing.T) {
	next := &flakySender{errs: []error{floodWaitErr(30)}}
	s := NewRetryingSender(next, zaptest.NewLogger(t), WithRetryIntervals(time.Millisecond, time.Second))

	start := time.Now()
	_, err := s.Send(tgbotapi.NewMessage(1, "hi"))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, next.calls)

	var apiErr *tgbotapi.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 429, apiErr.Code)
}

func TestRetryingSenderStopAbortsWait(t *testing.T) {
	next := &flakySender{errs: []error{floodWaitErr(30)}}
	s := NewRetryingSender(next, zaptest.NewLogger(t), WithRetryIntervals(time.Millisecond, time.Minute))

	errc := make(chan error, 1)
	go func() {
		_, err := s.Send(tgbotapi.NewMessage(1, "hi"))
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	s.Stop()

	select {
	case err := <-errc:
		var apiErr *tgbotapi.Error
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, 429, apiErr.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("Send still waiting after Stop")
	}

	_, err := s.Send(tgbotapi.NewMessage(1, "again"))
	assert.NoError(t, err, "calls still go out once after Stop")
}

type constantBackOff time.Duration

func (c constantBackOff) NextBackOff() time.Duration { return time.Duration(c) }
func (c constantBackOff) Reset()                     {}
