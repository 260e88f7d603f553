package sender

import (
	"context"
	"errors"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/bcmk/bkcoupons/lib/cmdlib"
)

func TestMain(m *testing.M) {
	cmdlib.Verbosity = cmdlib.SilentVerbosity
	os.Exit(m.Run())
}

type scriptedTransport struct {
	errs  []error
	calls int
}

func (s *scriptedTransport) next() error {
	s.calls++
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func (s *scriptedTransport) SendText(context.Context, Message) (int, error) {
	if err := s.next(); err != nil {
		return 0, err
	}
	return 42, nil
}

func (s *scriptedTransport) SendMediaGroup(_ context.Context, _ string, photos []Photo) ([]int, error) {
	if err := s.next(); err != nil {
		return nil, err
	}
	return []int{1, 2}, nil
}

func (s *scriptedTransport) EditText(context.Context, int, Message) error { return s.next() }

func (s *scriptedTransport) Delete(context.Context, string, int) error { return s.next() }

func newTestSender(tr Transport) (*Sender, *[]time.Duration) {
	s := New(tr)
	var sleeps []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return s, &sleeps
}

func TestRetryAfter(t *testing.T) {
	tr := &scriptedTransport{errs: []error{
		&RetryAfterError{After: 5 * time.Second},
		ErrGroupSendFailed,
	}}
	s, sleeps := newTestSender(tr)
	ids, err := s.SendMediaGroup(context.Background(), "@channel", []Photo{{Path: "a"}, {Path: "b"}})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ids, []int{1, 2}) {
		t.Errorf("unexpected ids %v", ids)
	}
	if !reflect.DeepEqual(*sleeps, []time.Duration{5 * time.Second, 3 * time.Second}) {
		t.Errorf("unexpected sleeps %v", *sleeps)
	}
}

func TestRetryAfterExhausted(t *testing.T) {
	var errs []error
	for i := 0; i < 20; i++ {
		errs = append(errs, &RetryAfterError{After: time.Second})
	}
	tr := &scriptedTransport{errs: errs}
	s, _ := newTestSender(tr)
	_, err := s.SendText(context.Background(), Message{ChatID: "1", Text: "x"})
	var retryAfter *RetryAfterError
	if !errors.As(err, &retryAfter) {
		t.Errorf("unexpected error %v", err)
	}
	if tr.calls != 15 {
		t.Errorf("unexpected number of attempts %d", tr.calls)
	}
}

func TestForbiddenIsNotRetried(t *testing.T) {
	tr := &scriptedTransport{errs: []error{ErrForbidden}}
	s, sleeps := newTestSender(tr)
	if _, err := s.SendText(context.Background(), Message{ChatID: "1", Text: "x"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("unexpected error %v", err)
	}
	if tr.calls != 1 || len(*sleeps) != 0 {
		t.Errorf("forbidden must not be retried, %d calls", tr.calls)
	}
}

func TestBenignErrors(t *testing.T) {
	tr := &scriptedTransport{errs: []error{ErrMessageNotFound, ErrMessageNotModified, ErrMessageTooOld}}
	s, _ := newTestSender(tr)
	if err := s.Delete(context.Background(), "@channel", 1); err != nil {
		t.Errorf("deleting a missing message must succeed, got %v", err)
	}
	if err := s.EditText(context.Background(), 1, Message{Text: "x"}); err != nil {
		t.Errorf("unchanged edit must succeed, got %v", err)
	}
	if err := s.Delete(context.Background(), "@channel", 1); !errors.Is(err, ErrMessageTooOld) {
		t.Errorf("unexpected error %v", err)
	}
}

func TestSleepCancelled(t *testing.T) {
	tr := &scriptedTransport{errs: []error{&RetryAfterError{After: time.Hour}}}
	s := New(tr)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.SendText(ctx, Message{ChatID: "1", Text: "x"}); !errors.Is(err, context.Canceled) {
		t.Errorf("unexpected error %v", err)
	}
}
