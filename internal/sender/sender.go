// Package sender serializes outbound messages and retries flood-control errors
package sender

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bcmk/bkcoupons/lib/cmdlib"
)

const (
	defaultMaxAttempts      = 15
	defaultGroupFailedDelay = 3 * time.Second
)

var (
	// ErrForbidden is returned when the bot is blocked by the user
	ErrForbidden = errors.New("forbidden")
	// ErrGroupSendFailed is returned when a media group could not be sent
	ErrGroupSendFailed = errors.New("group send failed")
	// ErrMessageNotFound is returned when an edited or deleted message does not exist
	ErrMessageNotFound = errors.New("message not found")
	// ErrMessageNotModified is returned when an edit does not change the message
	ErrMessageNotModified = errors.New("message is not modified")
	// ErrMessageTooOld is returned when a message can no longer be edited or deleted
	ErrMessageTooOld = errors.New("message is too old")
)

// RetryAfterError is returned on flood control
type RetryAfterError struct {
	After time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("too many requests, retry after %v", e.After)
}

// Photo represents a photo of a media group, a local file or a URL
type Photo struct {
	Path string
	URL  string
}

// Message represents a text message
type Message struct {
	ChatID         string
	Text           string
	HTML           bool
	DisablePreview bool
	Silent         bool
}

// Transport represents an outbound messaging API
type Transport interface {
	SendText(ctx context.Context, msg Message) (int, error)
	SendMediaGroup(ctx context.Context, chatID string, photos []Photo) ([]int, error)
	EditText(ctx context.Context, messageID int, msg Message) error
	Delete(ctx context.Context, chatID string, messageID int) error
}

// Sender serializes calls to a transport and retries recoverable errors
type Sender struct {
	transport        Transport
	mu               sync.Mutex
	maxAttempts      int
	groupFailedDelay time.Duration
	sleep            func(ctx context.Context, d time.Duration) error
}

// New creates a sender over a transport
func New(transport Transport) *Sender {
	return &Sender{
		transport:        transport,
		maxAttempts:      defaultMaxAttempts,
		groupFailedDelay: defaultGroupFailedDelay,
		sleep:            sleep,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// do runs a call retrying flood-control and group-send errors
func (s *Sender) do(ctx context.Context, what string, call func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = call()
		var retryAfter *RetryAfterError
		var delay time.Duration
		switch {
		case err == nil:
			return nil
		case errors.As(err, &retryAfter):
			delay = retryAfter.After
		case errors.Is(err, ErrGroupSendFailed):
			delay = s.groupFailedDelay
		default:
			return err
		}
		cmdlib.Linf("%s failed, attempt %d, retrying in %v, %v", what, attempt, delay, err)
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("%s failed after %d attempts, %w", what, s.maxAttempts, err)
}

// SendText sends a text message and returns its id
func (s *Sender) SendText(ctx context.Context, msg Message) (int, error) {
	var id int
	err := s.do(ctx, "sending text", func() (err error) {
		id, err = s.transport.SendText(ctx, msg)
		return
	})
	return id, err
}

// SendMediaGroup sends photos as a group and returns their message ids
func (s *Sender) SendMediaGroup(ctx context.Context, chatID string, photos []Photo) ([]int, error) {
	var ids []int
	err := s.do(ctx, "sending media group", func() (err error) {
		ids, err = s.transport.SendMediaGroup(ctx, chatID, photos)
		return
	})
	return ids, err
}

// EditText edits a text message, an unchanged text is not an error
func (s *Sender) EditText(ctx context.Context, messageID int, msg Message) error {
	err := s.do(ctx, "editing text", func() error {
		return s.transport.EditText(ctx, messageID, msg)
	})
	if errors.Is(err, ErrMessageNotModified) {
		return nil
	}
	return err
}

// Delete deletes a message, a missing message is not an error
func (s *Sender) Delete(ctx context.Context, chatID string, messageID int) error {
	err := s.do(ctx, "deleting message", func() error {
		return s.transport.Delete(ctx, chatID, messageID)
	})
	if errors.Is(err, ErrMessageNotFound) {
		return nil
	}
	return err
}
