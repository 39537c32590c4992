package atompub

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/dwizi/feed-sink/internal/feed"
)

const maxDocumentBytes = 4 << 20

// Response is one server reply. Callers must Release it once they are done,
// whatever the status.
type Response struct {
	Status     int
	StatusText string
	Header     http.Header

	body    io.ReadCloser
	release sync.Once
}

// NewResponse builds a Response around an arbitrary body. A nil body is
// treated as empty.
func NewResponse(status int, statusText string, body io.ReadCloser) *Response {
	if strings.TrimSpace(statusText) == "" {
		statusText = http.StatusText(status)
	}
	if body == nil {
		body = http.NoBody
	}
	return &Response{
		Status:     status,
		StatusText: statusText,
		Header:     http.Header{},
		body:       body,
	}
}

func newResponse(res *http.Response) *Response {
	response := NewResponse(res.StatusCode, statusText(res), res.Body)
	response.Header = res.Header
	return response
}

// Document reads and parses the body as an Atom entry.
func (r *Response) Document() (*feed.Entry, error) {
	data, err := io.ReadAll(io.LimitReader(r.body, maxDocumentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read atom document: %w", err)
	}
	if len(data) > maxDocumentBytes {
		return nil, fmt.Errorf("read atom document: body exceeds %d bytes", maxDocumentBytes)
	}
	return feed.ParseEntry(data)
}

// Release drains a bounded amount of the body so the connection can be
// reused, then closes it. Repeated calls are no-ops.
func (r *Response) Release() {
	if r == nil {
		return
	}
	r.release.Do(func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(r.body, 64<<10))
		_ = r.body.Close()
	})
}

func statusText(res *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(res.Status, strconv.Itoa(res.StatusCode)))
	if text == "" {
		return http.StatusText(res.StatusCode)
	}
	return text
}
