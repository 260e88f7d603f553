package cmdlib

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// OnlineQuery performs a GET query and reads the whole response body
func OnlineQuery(ctx context.Context, link string, client *Client, headers [][2]string) (*http.Response, *bytes.Buffer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot create a request, %w", err)
	}
	for _, h := range headers {
		req.Header.Set(h[0], h[1])
	}
	resp, err := client.Client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot perform a query, %w", err)
	}
	defer CloseBody(resp.Body)
	buf := bytes.Buffer{}
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return nil, nil, fmt.Errorf("cannot read a response, %w", err)
	}
	return resp, &buf, nil
}
