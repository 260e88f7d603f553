package cmdlib

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"
)

// Client represents an HTTP client bound to a source address
type Client struct {
	Addr   net.Addr
	Client *http.Client
}

// HTTPClientWithTimeoutAndAddress returns an HTTP/2 capable client
// using the source address if it is not empty
func HTTPClientWithTimeoutAndAddress(timeoutSeconds int, address string) *Client {
	var addr *net.TCPAddr
	if address != "" {
		addr = &net.TCPAddr{IP: net.ParseIP(address)}
	}
	dialer := &net.Dialer{
		LocalAddr: addr,
		Timeout:   time.Duration(timeoutSeconds) * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   time.Duration(timeoutSeconds) * time.Second,
		ResponseHeaderTimeout: time.Duration(timeoutSeconds) * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
	}
	CheckErr(http2.ConfigureTransport(transport))
	var resultAddr net.Addr
	if addr != nil {
		resultAddr = addr
	}
	return &Client{
		Addr: resultAddr,
		Client: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(timeoutSeconds) * time.Second,
		},
	}
}

// ClientsLoop rotates clients
type ClientsLoop struct {
	clients   []*Client
	clientIdx int
	mu        sync.Mutex
}

// NewClientsLoop creates a loop over clients
func NewClientsLoop(clients []*Client) *ClientsLoop {
	return &ClientsLoop{clients: clients}
}

// NextClient returns the next client
func (c *ClientsLoop) NextClient() *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	oldIdx := c.clientIdx
	c.clientIdx++
	if c.clientIdx == len(c.clients) {
		c.clientIdx = 0
	}
	return c.clients[oldIdx]
}
