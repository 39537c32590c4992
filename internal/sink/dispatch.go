package sink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dwizi/feed-sink/internal/atompub"
	"github.com/dwizi/feed-sink/internal/feed"
)

// Transport is the AtomPub client a sink talks through.
type Transport interface {
	Post(ctx context.Context, target string, entry *feed.Entry) (*atompub.Response, error)
	Get(ctx context.Context, target string) (*atompub.Response, error)
	Put(ctx context.Context, target string, entry *feed.Entry) (*atompub.Response, error)
	Delete(ctx context.Context, target string) (*atompub.Response, error)
	TrustAllCertificates()
	AddCredentials(base *url.URL, realm, scheme string, credentials atompub.Credentials)
	ClearCredentials()
}

var _ Transport = (*atompub.Client)(nil)

// Exchange describes the last request a dispatch issued.
type Exchange struct {
	Method     string
	Target     string
	Status     int
	StatusText string
}

// Dispatcher turns one record into exactly one entry mutation against a fixed
// configuration. It holds no state between records.
type Dispatcher struct {
	config    Config
	transport Transport
	now       func() time.Time
	newID     func() string
}

func NewDispatcher(config Config, transport Transport) *Dispatcher {
	return &Dispatcher{
		config:    config,
		transport: transport,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, record feed.Record) (Exchange, error) {
	switch d.config.operation {
	case OperationCreate:
		return d.create(ctx, record)
	case OperationUpdate:
		return d.update(ctx, record)
	case OperationDelete:
		return d.delete(ctx, record)
	}
	return Exchange{}, fmt.Errorf("%s: unsupported %s", streamLabel(d.config.stream), d.config.operation)
}

func (d *Dispatcher) create(ctx context.Context, record feed.Record) (Exchange, error) {
	entry, err := feed.BuildEntry(record, nil)
	if err != nil {
		return Exchange{}, d.recordError(err)
	}
	now := d.now()
	if entry.ID == "" {
		entry.ID = "urn:uuid:" + d.newID()
	}
	if entry.Updated == "" {
		entry.SetUpdated(now)
	}
	entry.SetPublished(now)

	target := d.config.endpoint.String()
	response, err := d.transport.Post(ctx, target, entry)
	return d.validate(http.MethodPost, target, response, err)
}

// update fetches the current entry, merges the record onto it and writes it
// back. Nothing guards the gap between GET and PUT: a concurrent writer's
// change in between is overwritten.
func (d *Dispatcher) update(ctx context.Context, record feed.Record) (Exchange, error) {
	target := d.config.endpoint.String()
	current, exchange, err := d.fetch(ctx, target)
	if err != nil {
		return exchange, err
	}
	merged, err := feed.BuildEntry(record, current)
	if err != nil {
		return exchange, d.recordError(err)
	}
	response, err := d.transport.Put(ctx, target, merged)
	return d.validate(http.MethodPut, target, response, err)
}

// delete addresses the entry's own location taken from the record id, not the
// collection endpoint.
func (d *Dispatcher) delete(ctx context.Context, record feed.Record) (Exchange, error) {
	target, err := d.entryLocation(record)
	if err != nil {
		return Exchange{}, err
	}
	response, err := d.transport.Delete(ctx, target)
	return d.validate(http.MethodDelete, target, response, err)
}

func (d *Dispatcher) fetch(ctx context.Context, target string) (*feed.Entry, Exchange, error) {
	exchange := Exchange{Method: http.MethodGet, Target: target}
	response, err := d.transport.Get(ctx, target)
	if err != nil {
		return nil, exchange, d.transportError(http.MethodGet, target, err)
	}
	if response == nil {
		return nil, exchange, d.nullResponse(http.MethodGet, target)
	}
	defer response.Release()

	exchange.Status = response.Status
	exchange.StatusText = response.StatusText
	if response.Status < 200 || response.Status > 299 {
		return nil, exchange, &ResponseError{
			Stream:     d.config.stream,
			Method:     http.MethodGet,
			URL:        target,
			Status:     response.Status,
			StatusText: response.StatusText,
			Expected:   http.StatusOK,
		}
	}
	entry, err := response.Document()
	if err != nil {
		return nil, exchange, &ResponseError{
			Stream:     d.config.stream,
			Method:     http.MethodGet,
			URL:        target,
			Status:     response.Status,
			StatusText: response.StatusText,
			Expected:   http.StatusOK,
			Err:        err,
		}
	}
	return entry, exchange, nil
}

func (d *Dispatcher) validate(method, target string, response *atompub.Response, err error) (Exchange, error) {
	exchange := Exchange{Method: method, Target: target}
	if err != nil {
		return exchange, d.transportError(method, target, err)
	}
	if response == nil {
		return exchange, d.nullResponse(method, target)
	}
	defer response.Release()

	exchange.Status = response.Status
	exchange.StatusText = response.StatusText
	if response.Status != d.config.expectedStatus {
		return exchange, &ResponseError{
			Stream:     d.config.stream,
			Method:     method,
			URL:        target,
			Status:     response.Status,
			StatusText: response.StatusText,
			Expected:   d.config.expectedStatus,
		}
	}
	return exchange, nil
}

// entryLocation resolves the record id to the URL of the entry. Absolute
// http(s) ids are used as they are; relative ids resolve against the endpoint.
func (d *Dispatcher) entryLocation(record feed.Record) (string, error) {
	id, _ := record.Get(feed.ElementID)
	id = strings.TrimSpace(id)
	if id == "" {
		return "", &RecordError{Stream: d.config.stream, Element: feed.ElementID, Reason: "delete requires an entry id"}
	}
	parsed, err := url.Parse(id)
	if err != nil {
		return "", &RecordError{Stream: d.config.stream, Element: feed.ElementID, Reason: "id is not a valid URI", Err: err}
	}
	location := d.config.endpoint.ResolveReference(parsed)
	scheme := strings.ToLower(location.Scheme)
	if (scheme != "http" && scheme != "https") || location.Host == "" {
		return "", &RecordError{Stream: d.config.stream, Element: feed.ElementID, Reason: fmt.Sprintf("id %q does not resolve to an entry location", id)}
	}
	return location.String(), nil
}

// transportError classifies a failed round trip. Only failures to establish
// a connection mean the request never left; anything later may have reached
// the server and must not be reported as retryable.
func (d *Dispatcher) transportError(method, target string, err error) error {
	if !beforeSend(err) {
		return &ResponseError{
			Stream:   d.config.stream,
			Method:   method,
			URL:      target,
			Expected: d.config.expectedStatus,
			Err:      fmt.Errorf("%w: %w", ErrNoReply, err),
		}
	}
	return &ConnectionUnavailableError{Stream: d.config.stream, Method: method, URL: target, Err: err}
}

func beforeSend(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func (d *Dispatcher) nullResponse(method, target string) error {
	return &ResponseError{
		Stream:   d.config.stream,
		Method:   method,
		URL:      target,
		Expected: d.config.expectedStatus,
		Err:      ErrNullResponse,
	}
}

func (d *Dispatcher) recordError(err error) error {
	var stampErr *feed.TimestampError
	if errors.As(err, &stampErr) {
		return &RecordError{Stream: d.config.stream, Element: stampErr.Element, Reason: "malformed timestamp", Err: err}
	}
	return &RecordError{Stream: d.config.stream, Reason: "cannot build entry", Err: err}
}
