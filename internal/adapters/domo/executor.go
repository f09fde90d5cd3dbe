package domo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/auditsync/internal/core/domain"
)

const (
	contentTypeJSON = "application/json"
	contentTypeCSV  = "text/csv"

	defaultHTTPTimeout = 60 * time.Second
	maxErrorBodyBytes  = 2048
)

type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   any
	Query  url.Values
}

// Response is a decoded API response. JSON is set when the server declared an
// application/json body; otherwise Body is raw text (CSV downloads).
type Response struct {
	StatusCode  int
	ContentType string
	JSON        bool
	Body        []byte
}

func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

func (r *Response) Text() string {
	return string(r.Body)
}

// Empty reports whether the body carries no data: no bytes, JSON null, or an
// empty JSON array or object.
func (r *Response) Empty() bool {
	trimmed := bytes.TrimSpace(r.Body)
	switch string(trimmed) {
	case "", "null", "[]", "{}":
		return true
	}
	if !r.JSON {
		return false
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return false
	}
	switch compact.String() {
	case "[]", "{}":
		return true
	}
	return false
}

// Executor performs one HTTP call against the platform API and applies the
// content negotiation rules shared by every endpoint.
type Executor struct {
	client *http.Client
}

// NewExecutor returns an Executor using client. A nil client gets a default
// one with a 60 s timeout.
func NewExecutor(client *http.Client) *Executor {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Executor{client: client}
}

// WithClient returns a copy of e that sends requests through client.
func (e *Executor) WithClient(client *http.Client) *Executor {
	return &Executor{client: client}
}

func (e *Executor) Client() *http.Client {
	return e.client
}

func (e *Executor) Execute(ctx context.Context, r Request) (*Response, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	target, err := url.Parse(r.URL)
	if err != nil {
		return nil, &domain.RequestError{Method: method, URL: r.URL, Err: err}
	}
	if len(r.Query) > 0 {
		q := target.Query()
		for k, vs := range r.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		target.RawQuery = q.Encode()
	}

	header := r.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	contentType := header.Get("Content-Type")
	if contentType == "" {
		contentType = contentTypeJSON
	}

	body, err := encodeBody(contentType, r.Body)
	if err != nil {
		return nil, &domain.RequestError{Method: method, URL: r.URL, Err: err}
	}
	if body != nil && header.Get("Content-Type") == "" {
		header.Set("Content-Type", contentType)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, &domain.RequestError{Method: method, URL: r.URL, Err: err}
	}
	req.Header = header

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &domain.RequestError{Method: method, URL: r.URL, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.RequestError{Method: method, URL: r.URL, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &domain.RequestError{
			Method:     method,
			URL:        r.URL,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(data), maxErrorBodyBytes),
		}
	}

	out := &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
	}
	if strings.Contains(out.ContentType, contentTypeJSON) {
		out.JSON = true
		if len(bytes.TrimSpace(data)) > 0 && !json.Valid(data) {
			return nil, fmt.Errorf("%w from %s", domain.ErrInvalidJSON, r.URL)
		}
	}
	return out, nil
}

func encodeBody(contentType string, body any) (io.Reader, error) {
	if body == nil {
		return nil, nil
	}
	if contentType == contentTypeJSON {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		return bytes.NewReader(payload), nil
	}
	switch b := body.(type) {
	case []byte:
		return bytes.NewReader(b), nil
	case string:
		return strings.NewReader(b), nil
	case io.Reader:
		return b, nil
	default:
		return nil, fmt.Errorf("unsupported raw body type %T for content type %s", body, contentType)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
