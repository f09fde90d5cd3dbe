package domo

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	testClientID     = "client-a"
	testClientSecret = "secret-a"
)

// fakePlatform is an in-memory stand-in for the token, audit and dataset APIs.
type fakePlatform struct {
	mu sync.Mutex

	tokenCalls   int
	tokenStatus  int
	tokenBody    string
	expiresIn    int
	domain       string
	tokenQueries []url.Values

	auditPages   []int
	auditRepeat  int
	auditFailAt  int
	auditRaw     string
	auditCalls   int
	auditQueries []url.Values

	createStatus int
	uploadStatus int
	created      []json.RawMessage
	datasets     map[string][]byte
	uploadTypes  []string
}

func newFakePlatform(t *testing.T) (*fakePlatform, *httptest.Server) {
	t.Helper()
	f := &fakePlatform{
		expiresIn:   3600,
		domain:      "acme.domo.com",
		auditFailAt: -1,
		datasets:    make(map[string][]byte),
	}

	r := chi.NewRouter()
	r.Get("/oauth/token", f.token)
	r.Group(func(pr chi.Router) {
		pr.Use(f.requireBearer)
		pr.Get("/v1/audit", f.audit)
		pr.Post("/v1/datasets", f.createDataset)
		pr.Put("/v1/datasets/{id}/data", f.replaceData)
		pr.Get("/v1/datasets/{id}/data", f.downloadData)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakePlatform) token(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenCalls++
	f.tokenQueries = append(f.tokenQueries, r.URL.Query())

	want := "Basic " + base64.StdEncoding.EncodeToString([]byte(testClientID+":"+testClientSecret))
	if r.Header.Get("Authorization") != want {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
		return
	}
	if f.tokenStatus != 0 {
		http.Error(w, "token failure", f.tokenStatus)
		return
	}

	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	if f.tokenBody != "" {
		_, _ = io.WriteString(w, f.tokenBody)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": fmt.Sprintf("tok-%d", f.tokenCalls),
		"expires_in":   f.expiresIn,
		"domain":       f.domain,
	})
}

func (f *fakePlatform) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer tok-") {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *fakePlatform) audit(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.auditCalls
	f.auditCalls++
	f.auditQueries = append(f.auditQueries, r.URL.Query())

	if call == f.auditFailAt {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if f.auditRaw != "" {
		_, _ = io.WriteString(w, f.auditRaw)
		return
	}

	size := f.auditRepeat
	if call < len(f.auditPages) {
		size = f.auditPages[call]
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	page := make([]auditRow, 0, size)
	for i := 0; i < size; i++ {
		page = append(page, auditRow{UserID: offset + i, EventName: "VIEWED", Time: "2025-04-01 15:36:41"})
	}
	_ = json.NewEncoder(w).Encode(page)
}

func (f *fakePlatform) createDataset(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, _ := io.ReadAll(r.Body)
	if f.createStatus != 0 {
		http.Error(w, "create failed", f.createStatus)
		return
	}
	f.created = append(f.created, body)
	id := fmt.Sprintf("ds-%d", len(f.created))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{"id": id, "rows": 0})
}

func (f *fakePlatform) replaceData(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadStatus != 0 {
		http.Error(w, "upload failed", f.uploadStatus)
		return
	}
	body, _ := io.ReadAll(r.Body)
	f.uploadTypes = append(f.uploadTypes, r.Header.Get("Content-Type"))
	f.datasets[chi.URLParam(r, "id")] = body
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakePlatform) downloadData(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.URL.Query().Get("includeHeader") != "true" {
		http.Error(w, "includeHeader required", http.StatusBadRequest)
		return
	}
	data, ok := f.datasets[chi.URLParam(r, "id")]
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	_, _ = w.Write(data)
}

type auditRow struct {
	UserID    int    `json:"userId"`
	EventName string `json:"eventName"`
	Time      string `json:"time"`
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestAuthenticator(srv *httptest.Server, scope string, opts ...AuthOption) *Authenticator {
	return NewAuthenticator(AuthConfig{
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		Scope:        scope,
		TokenURL:     srv.URL + "/oauth/token",
	}, NewExecutor(srv.Client()), zap.NewNop(), opts...)
}
