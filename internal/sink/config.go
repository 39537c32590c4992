package sink

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/dwizi/feed-sink/internal/atompub"
)

// Configuration keys understood by a sink.
const (
	OptionURL          = "url"
	OptionAtomFunc     = "atom.func"
	OptionUsername     = "username"
	OptionPassword     = "password"
	OptionResponseCode = "http.response.code"
)

const (
	// NotSet is the value an unset credential option reads as.
	NotSet = "<not-set>"

	DefaultOperation      = "create"
	DefaultExpectedStatus = "201"
)

// Options exposes raw configuration values by key. Implementations return
// fallback for a key that is missing or whose value is blank, so an explicit
// empty value is indistinguishable from an unset one: an empty password reads
// as the not-set sentinel and is sent as an empty string.
type Options interface {
	Get(key, fallback string) string
}

// MapOptions serves options from a plain map. Missing or blank values read as
// the fallback.
type MapOptions map[string]string

func (o MapOptions) Get(key, fallback string) string {
	value, ok := o[key]
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// Config is a validated sink configuration. It has no setters; build it with
// NewConfig.
type Config struct {
	stream         string
	endpoint       *url.URL
	operation      Operation
	credentials    atompub.Credentials
	hasCredentials bool
	expectedStatus int
}

func NewConfig(stream string, options Options) (Config, error) {
	stream = strings.TrimSpace(stream)
	if options == nil {
		options = MapOptions{}
	}
	endpoint, err := ParseEndpoint(options.Get(OptionURL, ""))
	if err != nil {
		return Config{}, withStream(err, stream)
	}
	operation, err := ParseOperation(options.Get(OptionAtomFunc, DefaultOperation))
	if err != nil {
		return Config{}, withStream(err, stream)
	}
	expectedStatus, err := ParseExpectedStatus(options.Get(OptionResponseCode, DefaultExpectedStatus))
	if err != nil {
		return Config{}, withStream(err, stream)
	}
	credentials, hasCredentials := ParseCredentials(
		options.Get(OptionUsername, NotSet),
		options.Get(OptionPassword, NotSet),
		NotSet,
	)
	return Config{
		stream:         stream,
		endpoint:       endpoint,
		operation:      operation,
		credentials:    credentials,
		hasCredentials: hasCredentials,
		expectedStatus: expectedStatus,
	}, nil
}

// ParseEndpoint accepts absolute http and https URLs with a host. It never
// touches the network.
func ParseEndpoint(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, &ConfigError{Kind: MalformedURL, Option: OptionURL, Value: raw}
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, &ConfigError{Kind: MalformedURL, Option: OptionURL, Value: raw, Err: err}
	}
	scheme := strings.ToLower(parsed.Scheme)
	if (scheme != "http" && scheme != "https") || parsed.Host == "" {
		return nil, &ConfigError{Kind: MalformedURL, Option: OptionURL, Value: raw}
	}
	return parsed, nil
}

func ParseOperation(raw string) (Operation, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "create":
		return OperationCreate, nil
	case "update":
		return OperationUpdate, nil
	case "delete":
		return OperationDelete, nil
	default:
		return 0, &ConfigError{Kind: InvalidOperation, Option: OptionAtomFunc, Value: raw}
	}
}

// ParseCredentials reports credentials when either value differs from
// sentinel. A value still equal to sentinel is sent as empty.
func ParseCredentials(username, password, sentinel string) (atompub.Credentials, bool) {
	if username == sentinel && password == sentinel {
		return atompub.Credentials{}, false
	}
	if username == sentinel {
		username = ""
	}
	if password == sentinel {
		password = ""
	}
	return atompub.Credentials{Username: username, Password: password}, true
}

func ParseExpectedStatus(raw string) (int, error) {
	status, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, &ConfigError{Kind: MalformedStatus, Option: OptionResponseCode, Value: raw, Err: err}
	}
	if status < 100 || status > 599 {
		return 0, &ConfigError{Kind: MalformedStatus, Option: OptionResponseCode, Value: raw}
	}
	return status, nil
}

func (c Config) Stream() string {
	return c.stream
}

// Endpoint returns a copy of the collection URL.
func (c Config) Endpoint() *url.URL {
	if c.endpoint == nil {
		return nil
	}
	copied := *c.endpoint
	if c.endpoint.User != nil {
		user := *c.endpoint.User
		copied.User = &user
	}
	return &copied
}

func (c Config) Operation() Operation {
	return c.operation
}

func (c Config) Credentials() (atompub.Credentials, bool) {
	return c.credentials, c.hasCredentials
}

func (c Config) ExpectedStatus() int {
	return c.expectedStatus
}

// Info describes a configured sink without its credentials.
type Info struct {
	Name           string `json:"name"`
	Operation      string `json:"operation"`
	Method         string `json:"method"`
	Endpoint       string `json:"endpoint"`
	ExpectedStatus int    `json:"expected_status"`
	Authenticated  bool   `json:"authenticated"`
}

func (c Config) Info() Info {
	endpoint := ""
	if c.endpoint != nil {
		endpoint = c.endpoint.Redacted()
	}
	return Info{
		Name:           c.stream,
		Operation:      c.operation.String(),
		Method:         c.operation.Method(),
		Endpoint:       endpoint,
		ExpectedStatus: c.expectedStatus,
		Authenticated:  c.hasCredentials,
	}
}
