package toolexec

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/toolbridge/internal/auth"
	"github.com/haasonsaas/toolbridge/pkg/models"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

type staticTable struct {
	descriptors map[string]*models.ToolDescriptor
}

func (t *staticTable) Lookup(name string) (*models.ToolDescriptor, bool) {
	d, ok := t.descriptors[name]
	return d, ok
}

func newExecutor(t *testing.T, srv *httptest.Server, tool *models.ToolDescriptor, cfg Config) *Executor {
	t.Helper()
	tool.BaseURL = srv.URL
	table := &staticTable{descriptors: map[string]*models.ToolDescriptor{tool.Name: tool}}
	return NewExecutor(srv.Client(), table, auth.NewApplier(srv.Client()), cfg)
}

func call(name string, input string) models.ToolCall {
	return models.ToolCall{ID: "c-" + name, Name: name, Input: json.RawMessage(input)}
}

func TestExecuteConcurrently_PreservesOrderRegardlessOfCompletionOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			time.Sleep(20 * time.Millisecond)
		}
		w.Write([]byte("ok:" + r.URL.Path))
	}))
	defer srv.Close()

	table := &staticTable{descriptors: map[string]*models.ToolDescriptor{
		"slow": {Name: "slow", Method: "GET", URLTmpl: "/slow", BaseURL: srv.URL},
		"fast": {Name: "fast", Method: "GET", URLTmpl: "/fast", BaseURL: srv.URL},
	}}
	exec := NewExecutor(srv.Client(), table, auth.NewApplier(srv.Client()), Config{Concurrency: 4})
	sess := models.NewSession("s1", time.Now())

	calls := []models.ToolCall{call("slow", "{}"), call("fast", "{}")}
	results := exec.ExecuteConcurrently(context.Background(), calls, sess)

	require.Len(t, results, 2)
	assert.Equal(t, "ok:/slow", results[0].Content)
	assert.Equal(t, "ok:/fast", results[1].Content)
}

func TestExecuteWithRetry_UnknownToolReturnsError(t *testing.T) {
	table := &staticTable{descriptors: map[string]*models.ToolDescriptor{}}
	exec := NewExecutor(http.DefaultClient, table, auth.NewApplier(http.DefaultClient), Config{})
	sess := models.NewSession("s1", time.Now())

	result := exec.executeWithRetry(context.Background(), call("ghost", "{}"), sess)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "unknown tool")
}

func TestExecuteWithRetry_RetriesServerErrorThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	tool := &models.ToolDescriptor{Name: "flaky", Method: "GET", URLTmpl: "/flaky"}
	exec := newExecutor(t, srv, tool, Config{MaxRetries: 5, RetryBackoff: time.Millisecond})
	sess := models.NewSession("s1", time.Now())

	result := exec.executeWithRetry(context.Background(), call("flaky", "{}"), sess)
	assert.False(t, result.IsError)
	assert.Equal(t, "recovered", result.Content)
	assert.EqualValues(t, 3, atomic.LoadInt32(&attempts))
	assert.Equal(t, int64(2), sess.Metrics().ToolRetries)
}

func TestExecuteWithRetry_PermanentTransportErrorStopsImmediately(t *testing.T) {
	tool := &models.ToolDescriptor{Name: "bad", Method: "GET", URLTmpl: "://not-a-url"}
	table := &staticTable{descriptors: map[string]*models.ToolDescriptor{"bad": tool}}
	exec := NewExecutor(http.DefaultClient, table, auth.NewApplier(http.DefaultClient), Config{MaxRetries: 5, RetryBackoff: time.Millisecond})
	sess := models.NewSession("s1", time.Now())

	result := exec.executeWithRetry(context.Background(), call("bad", "{}"), sess)
	assert.True(t, result.IsError)
}

func TestExecuteWithRetry_DNSFailureIsNotRetried(t *testing.T) {
	var attempts int32
	client := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		atomic.AddInt32(&attempts, 1)
		return nil, &net.OpError{Op: "dial", Err: &net.DNSError{Err: "no such host", Name: "nowhere.invalid", IsNotFound: true}}
	})}
	tool := &models.ToolDescriptor{Name: "unreachable", Method: "GET", URLTmpl: "/x", BaseURL: "http://nowhere.invalid"}
	table := &staticTable{descriptors: map[string]*models.ToolDescriptor{"unreachable": tool}}
	exec := NewExecutor(client, table, auth.NewApplier(client), Config{MaxRetries: 5, RetryBackoff: time.Millisecond})
	sess := models.NewSession("s1", time.Now())

	result := exec.executeWithRetry(context.Background(), call("unreachable", "{}"), sess)
	assert.True(t, result.IsError)
	assert.EqualValues(t, 1, atomic.LoadInt32(&attempts), "a DNS failure must not be retried")
}

func TestExecuteWithRetry_GenericTransportErrorIsRetried(t *testing.T) {
	var attempts int32
	client := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return nil, errors.New("connection reset by peer")
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("ok")), Header: http.Header{}}, nil
	})}
	tool := &models.ToolDescriptor{Name: "flaky-conn", Method: "GET", URLTmpl: "/x", BaseURL: "http://example.invalid"}
	table := &staticTable{descriptors: map[string]*models.ToolDescriptor{"flaky-conn": tool}}
	exec := NewExecutor(client, table, auth.NewApplier(client), Config{MaxRetries: 5, RetryBackoff: time.Millisecond})
	sess := models.NewSession("s1", time.Now())

	result := exec.executeWithRetry(context.Background(), call("flaky-conn", "{}"), sess)
	assert.False(t, result.IsError)
	assert.EqualValues(t, 3, atomic.LoadInt32(&attempts), "a non-DNS/TLS transport error must be retried")
}

func TestExecuteWithRetry_OAuth2UnauthorizedRetriesExactlyOnceAfterInvalidation(t *testing.T) {
	var tokenCalls, apiCalls int32
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "token_type": "bearer", "expires_in": 3600})
	}))
	defer tokenSrv.Close()

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&apiCalls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte("authorized"))
	}))
	defer apiSrv.Close()

	tool := &models.ToolDescriptor{Name: "secure", Method: "GET", URLTmpl: "/secure", AuthType: models.AuthOAuth2ClientCreds}
	tool.BaseURL = apiSrv.URL
	table := &staticTable{descriptors: map[string]*models.ToolDescriptor{"secure": tool}}
	exec := NewExecutor(apiSrv.Client(), table, auth.NewApplier(tokenSrv.Client()), Config{MaxRetries: 3, RetryBackoff: time.Millisecond})
	sess := models.NewSession("s1", time.Now())
	sess.SetCredentials(&models.Credentials{
		Type:               models.AuthOAuth2ClientCreds,
		OAuth2ClientID:     "id",
		OAuth2ClientSecret: "secret",
		OAuth2TokenURL:     tokenSrv.URL,
	})

	result := exec.executeWithRetry(context.Background(), call("secure", "{}"), sess)
	assert.False(t, result.IsError)
	assert.Equal(t, "authorized", result.Content)
	assert.EqualValues(t, 2, atomic.LoadInt32(&apiCalls), "one 401 attempt plus one retry after invalidation")
	assert.EqualValues(t, 2, atomic.LoadInt32(&tokenCalls), "token must be reacquired after invalidation")
}

func TestDoOnce_OtherClientErrorIsReportedNotRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad input"}`))
	}))
	defer srv.Close()

	tool := &models.ToolDescriptor{Name: "bad_input", Method: "GET", URLTmpl: "/x"}
	exec := newExecutor(t, srv, tool, Config{MaxRetries: 3, RetryBackoff: time.Millisecond})
	sess := models.NewSession("s1", time.Now())

	result := exec.executeWithRetry(context.Background(), call("bad_input", "{}"), sess)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "HTTP 400")
}

func TestDoOnce_JSONResponseIsCompacted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("{\n  \"temp\" : 58\n}\n"))
	}))
	defer srv.Close()

	tool := &models.ToolDescriptor{Name: "weather", Method: "GET", URLTmpl: "/weather"}
	exec := newExecutor(t, srv, tool, Config{MaxRetries: 1})
	sess := models.NewSession("s1", time.Now())

	result := exec.executeWithRetry(context.Background(), call("weather", "{}"), sess)
	assert.False(t, result.IsError)
	assert.Equal(t, `{"temp":58}`, result.Content)
}

func TestBuildRequest_MissingRequiredParamErrors(t *testing.T) {
	tool := &models.ToolDescriptor{
		Name:    "get_weather",
		Method:  "GET",
		URLTmpl: "/weather/{city}",
		Params:  []models.ToolParam{{Name: "city", Location: models.ParamPath, Required: true}},
	}
	exec := NewExecutor(http.DefaultClient, &staticTable{descriptors: map[string]*models.ToolDescriptor{tool.Name: tool}}, auth.NewApplier(http.DefaultClient), Config{})

	_, err := exec.buildRequest(context.Background(), tool, call("get_weather", "{}"))
	assert.Error(t, err)
}

func TestBuildRequest_SubstitutesPathAndQueryAndBodyParams(t *testing.T) {
	tool := &models.ToolDescriptor{
		Name:    "search",
		Method:  "POST",
		URLTmpl: "/items/{id}",
		Params: []models.ToolParam{
			{Name: "id", Location: models.ParamPath, Required: true},
			{Name: "limit", Location: models.ParamQuery},
			{Name: "query", Location: models.ParamBody, Required: true},
		},
	}
	exec := NewExecutor(http.DefaultClient, &staticTable{descriptors: map[string]*models.ToolDescriptor{tool.Name: tool}}, auth.NewApplier(http.DefaultClient), Config{})

	req, err := exec.buildRequest(context.Background(), tool, call("search", `{"id":"42","limit":10,"query":"widgets"}`))
	require.NoError(t, err)
	assert.Equal(t, "/items/42?limit=10", req.URL.RequestURI())
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, "c-search", req.Header.Get("X-Tool-Call-Id"))

	body, err := req.GetBody()
	require.NoError(t, err)
	b, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"query":"widgets"}`, string(b))
}
