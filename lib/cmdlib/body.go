package cmdlib

import (
	"context"
	"errors"
	"io"
)

// CloseBody closes a response body,
// cancellations and timeouts are not worth a log line
func CloseBody(body io.Closer) {
	err := body.Close()
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	Lerr("cannot close body, %v", err)
}
