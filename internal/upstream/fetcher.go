// Package upstream fetches coupon data from the vendor app endpoints
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bcmk/bkcoupons/lib/cmdlib"
	"github.com/cenkalti/backoff/v4"
)

// DefaultUserAgent mimics the vendor mobile app
const DefaultUserAgent = "BurgerKing/6.7.0 (de.burgerking.kingfinder; build:432; Android 14) okhttp/4.12.0"

// ErrEmptyResponse is returned when a response contains no entries where some were expected
var ErrEmptyResponse = errors.New("empty response")

// FetcherConfig represents fetcher settings
type FetcherConfig struct {
	UserAgent  string
	Headers    [][2]string
	Retries    int
	CaptureDir string
	Debug      bool
}

// Fetcher performs GET queries with a fixed User-Agent and bounded retries
type Fetcher struct {
	cfg           FetcherConfig
	clients       *cmdlib.ClientsLoop
	retryInterval time.Duration
	now           func() time.Time
}

type statusError struct{ code int }

func (e statusError) Error() string { return fmt.Sprintf("query status %d", e.code) }

// NewFetcher creates a fetcher over the given clients
func NewFetcher(cfg FetcherConfig, clients *cmdlib.ClientsLoop) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	return &Fetcher{cfg: cfg, clients: clients, retryInterval: time.Second, now: time.Now}
}

// Get returns the body of a successful response.
// Transport errors and server errors are retried, client errors are not.
func (f *Fetcher) Get(ctx context.Context, link string) ([]byte, error) {
	headers := append([][2]string{{"User-Agent", f.cfg.UserAgent}}, f.cfg.Headers...)
	var body []byte
	operation := func() error {
		client := f.clients.NextClient()
		resp, buf, err := cmdlib.OnlineQuery(ctx, link, client, headers)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return statusError{resp.StatusCode}
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(statusError{resp.StatusCode})
		}
		body = buf.Bytes()
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.retryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(f.cfg.Retries)), ctx)
	notify := func(err error, d time.Duration) {
		cmdlib.Linf("query %s failed, retrying in %v, %v", link, d, err)
	}
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, fmt.Errorf("cannot query %s, %w", link, err)
	}
	return body, nil
}

// GetJSON queries a JSON document and decodes it into the target.
// The raw response is stored in the capture directory if one is configured.
func (f *Fetcher) GetJSON(ctx context.Context, link string, name string, target interface{}) error {
	body, err := f.Get(ctx, link)
	if err != nil {
		return err
	}
	f.capture(name, body)
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(target); err != nil {
		if f.cfg.Debug {
			cmdlib.Ldbg("response: %s", string(body))
		}
		return fmt.Errorf("cannot parse response of %s, %w", link, err)
	}
	return nil
}

func (f *Fetcher) capture(name string, body []byte) {
	if f.cfg.CaptureDir == "" {
		return
	}
	if err := os.MkdirAll(f.cfg.CaptureDir, 0o755); err != nil {
		cmdlib.Lerr("cannot create capture directory, %v", err)
		return
	}
	file := filepath.Join(f.cfg.CaptureDir, fmt.Sprintf("%s_%s.json", name, f.now().Format("20060102_150405")))
	if err := os.WriteFile(file, body, 0o644); err != nil {
		cmdlib.Lerr("cannot capture response, %v", err)
	}
}
