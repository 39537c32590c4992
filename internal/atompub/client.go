package atompub

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dwizi/feed-sink/internal/feed"
)

const (
	SchemeBasic = "Basic"
	// RealmAny matches whatever realm the server announces.
	RealmAny = ""

	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "feed-sink"
)

type Credentials struct {
	Username string
	Password string
}

type Options struct {
	Timeout   time.Duration
	UserAgent string
}

type scopedCredentials struct {
	realm       string
	scheme      string
	credentials Credentials
}

// Client issues AtomPub requests. Each Client owns its transport, TLS
// settings and credential table, so two clients never share trust or
// authentication state.
type Client struct {
	http      *http.Client
	transport *http.Transport
	userAgent string

	mu          sync.RWMutex
	credentials map[string]scopedCredentials
}

func New(options Options) *Client {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	userAgent := strings.TrimSpace(options.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		transport:   transport,
		userAgent:   userAgent,
		credentials: map[string]scopedCredentials{},
	}
}

// TrustAllCertificates disables server certificate verification for this
// client. It exists for self-signed test endpoints and removes protection
// against man-in-the-middle attacks; call it before the first request.
func (c *Client) TrustAllCertificates() {
	c.mu.Lock()
	defer c.mu.Unlock()
	tlsConfig := c.transport.TLSClientConfig.Clone()
	tlsConfig.InsecureSkipVerify = true
	c.transport.TLSClientConfig = tlsConfig
}

// AddCredentials registers credentials for every request whose origin matches
// base. Credentials are sent preemptively; realm is recorded for diagnostics
// only.
func (c *Client) AddCredentials(base *url.URL, realm, scheme string, credentials Credentials) {
	if base == nil {
		return
	}
	if strings.TrimSpace(scheme) == "" {
		scheme = SchemeBasic
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credentials[originOf(base)] = scopedCredentials{
		realm:       realm,
		scheme:      scheme,
		credentials: credentials,
	}
}

func (c *Client) ClearCredentials() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credentials = map[string]scopedCredentials{}
}

func (c *Client) HasCredentials(target *url.URL) bool {
	_, ok := c.lookupCredentials(target)
	return ok
}

func (c *Client) Post(ctx context.Context, target string, entry *feed.Entry) (*Response, error) {
	return c.do(ctx, http.MethodPost, target, entry)
}

func (c *Client) Get(ctx context.Context, target string) (*Response, error) {
	return c.do(ctx, http.MethodGet, target, nil)
}

func (c *Client) Put(ctx context.Context, target string, entry *feed.Entry) (*Response, error) {
	return c.do(ctx, http.MethodPut, target, entry)
}

func (c *Client) Delete(ctx context.Context, target string) (*Response, error) {
	return c.do(ctx, http.MethodDelete, target, nil)
}

func (c *Client) do(ctx context.Context, method, target string, entry *feed.Entry) (*Response, error) {
	var body io.Reader
	if entry != nil {
		encoded, err := entry.Marshal()
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", strings.ToLower(method), err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", feed.ContentType+", application/atom+xml;q=0.9")
	if entry != nil {
		req.Header.Set("Content-Type", feed.ContentType)
	}
	if scoped, ok := c.lookupCredentials(req.URL); ok && strings.EqualFold(scoped.scheme, SchemeBasic) {
		req.SetBasicAuth(scoped.credentials.Username, scoped.credentials.Password)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	return newResponse(res), nil
}

func (c *Client) lookupCredentials(target *url.URL) (scopedCredentials, bool) {
	if target == nil {
		return scopedCredentials{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	scoped, ok := c.credentials[originOf(target)]
	return scoped, ok
}

func originOf(target *url.URL) string {
	scheme := strings.ToLower(target.Scheme)
	host := strings.ToLower(target.Hostname())
	port := target.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port == "" {
		return scheme + "://" + host
	}
	return scheme + "://" + host + ":" + port
}
