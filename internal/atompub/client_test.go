package atompub

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/dwizi/feed-sink/internal/feed"
)

func TestClientPostSendsEntry(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("Content-Type"); got != feed.ContentType {
			t.Fatalf("unexpected content type: %s", got)
		}
		if _, _, ok := r.BasicAuth(); ok {
			t.Fatal("expected no credentials")
		}
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := New(Options{Timeout: 5 * time.Second})
	response, err := client.Post(context.Background(), server.URL+"/news", &feed.Entry{
		ID:    "urn:example:1",
		Title: &feed.Text{Type: "text", Body: "hello"},
	})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer response.Release()

	if response.Status != http.StatusCreated || response.StatusText != "Created" {
		t.Fatalf("unexpected status: %d %s", response.Status, response.StatusText)
	}
	if !strings.Contains(gotBody, "<title type=\"text\">hello</title>") {
		t.Fatalf("unexpected body: %s", gotBody)
	}
}

func TestClientGetDocument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("expected GET, got %s", r.Method)
		}
		w.Header().Set("Content-Type", feed.ContentType)
		_, _ = w.Write([]byte(`<entry xmlns="http://www.w3.org/2005/Atom"><id>urn:x</id><title>current</title></entry>`))
	}))
	defer server.Close()

	client := New(Options{})
	response, err := client.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer response.Release()

	entry, err := response.Document()
	if err != nil {
		t.Fatalf("document: %v", err)
	}
	if entry.ID != "urn:x" || entry.Title.Body != "current" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestClientCredentialsScopedToOrigin(t *testing.T) {
	var authorized []string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if ok {
			authorized = append(authorized, user+":"+pass)
		}
		w.WriteHeader(http.StatusOK)
	})
	target := httptest.NewServer(handler)
	defer target.Close()
	other := httptest.NewServer(handler)
	defer other.Close()

	client := New(Options{})
	base, _ := url.Parse(target.URL + "/collection")
	client.AddCredentials(base, RealmAny, SchemeBasic, Credentials{Username: "admin", Password: "secret"})

	for _, address := range []string{target.URL + "/entries/1", other.URL + "/entries/1"} {
		response, err := client.Delete(context.Background(), address)
		if err != nil {
			t.Fatalf("delete %s: %v", address, err)
		}
		response.Release()
	}
	if len(authorized) != 1 || authorized[0] != "admin:secret" {
		t.Fatalf("expected credentials only on the registered origin, got %v", authorized)
	}

	client.ClearCredentials()
	client.ClearCredentials()
	if client.HasCredentials(base) {
		t.Fatal("expected credentials cleared")
	}
}

func TestClientTrustAllCertificates(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	strict := New(Options{})
	if _, err := strict.Post(context.Background(), server.URL, &feed.Entry{ID: "urn:x"}); err == nil {
		t.Fatal("expected certificate verification failure")
	}

	relaxed := New(Options{})
	relaxed.TrustAllCertificates()
	response, err := relaxed.Post(context.Background(), server.URL, &feed.Entry{ID: "urn:x"})
	if err != nil {
		t.Fatalf("post with trust-all: %v", err)
	}
	response.Release()
	if response.Status != http.StatusCreated {
		t.Fatalf("unexpected status: %d", response.Status)
	}

	if strict.transport.TLSClientConfig.InsecureSkipVerify {
		t.Fatal("expected trust setting to stay on its own client")
	}
}

func TestResponseReleaseIsIdempotent(t *testing.T) {
	body := &countingCloser{Reader: strings.NewReader("payload")}
	response := NewResponse(http.StatusNotFound, "", body)
	if response.StatusText != "Not Found" {
		t.Fatalf("expected default status text, got %q", response.StatusText)
	}
	response.Release()
	response.Release()
	if body.closed != 1 {
		t.Fatalf("expected one close, got %d", body.closed)
	}
}

type countingCloser struct {
	io.Reader
	closed int
}

func (c *countingCloser) Close() error {
	c.closed++
	return nil
}
