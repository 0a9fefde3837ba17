// Package toolexec implements C2, the tool executor: given a turn's
// pending tool calls it looks up each one's descriptor, builds and
// authenticates an outbound HTTP request, retries transient failures with
// backoff, and fans calls out concurrently while preserving result order —
// the concurrency/timeout/retry shape of the teacher's
// internal/agent/tool_exec.go, generalized from an in-process tool
// registry to outbound REST calls.
package toolexec

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/toolbridge/internal/auth"
	"github.com/haasonsaas/toolbridge/internal/retry"
	"github.com/haasonsaas/toolbridge/pkg/models"
)

// Config bounds the executor's retry and concurrency behavior, sourced
// from config.AuthConfig and config.SessionConfig at construction.
type Config struct {
	Concurrency  int
	MaxRetries   int
	RetryBackoff time.Duration
	CallTimeout  time.Duration
}

// DescriptorSource looks up a tool by name — satisfied by
// internal/toolspec's static loader or any other compiled-descriptor
// provider (§6's external compiler contract).
type DescriptorSource interface {
	Lookup(name string) (*models.ToolDescriptor, bool)
}

// Result is one tool call's outcome, indexed by its position in the
// originating request so callers can restore input order after concurrent
// execution.
type Result struct {
	Index      int
	ToolResult models.ToolResult
}

// Executor is C2.
type Executor struct {
	httpClient  *http.Client
	descriptors DescriptorSource
	applier     *auth.Applier
	config      Config
}

// NewExecutor constructs an Executor sharing one *http.Client across every
// tool call, per §5's shared-HTTP-client design note.
func NewExecutor(httpClient *http.Client, descriptors DescriptorSource, applier *auth.Applier, cfg Config) *Executor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}
	return &Executor{httpClient: httpClient, descriptors: descriptors, applier: applier, config: cfg}
}

// ExecuteConcurrently runs every call in calls against sess, bounded to
// config.Concurrency in flight at once, and returns results in the same
// order as calls regardless of completion order — mirroring
// ToolExecutor.ExecuteConcurrently's semaphore + indexed-result pattern.
func (e *Executor) ExecuteConcurrently(ctx context.Context, calls []models.ToolCall, sess *models.Session) []models.ToolResult {
	results := make([]models.ToolResult, len(calls))
	sem := make(chan struct{}, e.config.Concurrency)
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(i int, call models.ToolCall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = e.executeWithRetry(ctx, call, sess)
		}(i, call)
	}
	wg.Wait()
	return results
}

// executeWithRetry runs one call through up to config.MaxRetries attempts,
// retrying only transport-classified-transient failures, and retrying
// exactly once after invalidating a cached OAuth2 token on a 401 (§4.2);
// that one retry does not use up one of the MaxRetries attempts.
func (e *Executor) executeWithRetry(ctx context.Context, call models.ToolCall, sess *models.Session) models.ToolResult {
	tool, ok := e.descriptors.Lookup(call.Name)
	if !ok {
		return errResult(call.ID, fmt.Sprintf("unknown tool %q", call.Name))
	}

	oauth2RetryUsed := false
	backoff := e.config.RetryBackoff

	var last models.ToolResult
	for attempt := 1; attempt <= e.config.MaxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.config.CallTimeout)
		result, status, transportErr := e.doOnce(callCtx, tool, call, sess)
		cancel()

		if transportErr == nil && status == http.StatusUnauthorized && tool.AuthType == models.AuthOAuth2ClientCreds && !oauth2RetryUsed {
			oauth2RetryUsed = true
			auth.InvalidateOnUnauthorized(sess)
			attempt--
			continue
		}

		last = result
		if transportErr == nil {
			sess.IncToolCalls(1)
			return result
		}

		if retry.IsPermanent(transportErr) || attempt == e.config.MaxRetries {
			sess.IncToolCalls(1)
			return errResult(call.ID, transportErr.Error())
		}

		sess.IncRetries(1)
		select {
		case <-ctx.Done():
			return errResult(call.ID, ctx.Err().Error())
		case <-time.After(retry.BackoffWithJitter(attempt, backoff, 10*time.Second, 2.0)):
		}
	}
	return last
}

// doOnce issues a single HTTP attempt for call and classifies the outcome.
// transportErr is non-nil only for errors the retry loop should act on
// (network failure, 5xx, 429); 4xx other than 401-on-oauth2 is returned as
// a successful ToolResult carrying IsError=true, per §4.2/§7 — a bad
// request is not retryable and is reported back to the model as content.
func (e *Executor) doOnce(ctx context.Context, tool *models.ToolDescriptor, call models.ToolCall, sess *models.Session) (models.ToolResult, int, error) {
	req, err := e.buildRequest(ctx, tool, call)
	if err != nil {
		return models.ToolResult{}, 0, retry.Permanent(err)
	}

	if err := e.applier.Apply(req, tool, sess); err != nil {
		return models.ToolResult{}, 0, retry.Permanent(err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		wrapped := fmt.Errorf("tool %s: transport error: %w", call.Name, err)
		if isNonRetryableTransportError(err) {
			return models.ToolResult{}, 0, retry.Permanent(wrapped)
		}
		return models.ToolResult{}, 0, wrapped
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.ToolResult{}, resp.StatusCode, fmt.Errorf("tool %s: read body: %w", call.Name, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		// Caller decides whether this is the oauth2 retry-once case.
		return models.ToolResult{ToolCallID: call.ID, Content: string(body), IsError: true}, resp.StatusCode, nil
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return models.ToolResult{}, resp.StatusCode, fmt.Errorf("tool %s: server returned %d", call.Name, resp.StatusCode)
	}

	content := decodeBody(resp.Header.Get("Content-Type"), body)
	isError := resp.StatusCode >= 400
	if isError {
		content = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, content)
	}
	return models.ToolResult{ToolCallID: call.ID, Content: content, IsError: isError}, resp.StatusCode, nil
}

// isNonRetryableTransportError reports whether err from httpClient.Do
// reflects a failure that another attempt cannot fix — DNS resolution or
// TLS/certificate validation — as opposed to a connection reset or dial
// timeout, which a retry with backoff may recover from (§4.2).
func isNonRetryableTransportError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var certVerifyErr *tls.CertificateVerificationError
	if errors.As(err, &certVerifyErr) {
		return true
	}
	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return true
	}
	var unknownAuthErr x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthErr) {
		return true
	}
	var certInvalidErr x509.CertificateInvalidError
	if errors.As(err, &certInvalidErr) {
		return true
	}
	return false
}

// decodeBody returns response text verbatim, or a compactly re-serialized
// form when the body is JSON, per §4.2's response-decoding rule.
func decodeBody(contentType string, body []byte) string {
	if strings.Contains(contentType, "json") {
		var v any
		if err := json.Unmarshal(body, &v); err == nil {
			compact, err := json.Marshal(v)
			if err == nil {
				return string(compact)
			}
		}
	}
	return string(body)
}

func (e *Executor) buildRequest(ctx context.Context, tool *models.ToolDescriptor, call models.ToolCall) (*http.Request, error) {
	var args map[string]any
	if len(call.Input) > 0 {
		if err := json.Unmarshal(call.Input, &args); err != nil {
			return nil, fmt.Errorf("tool %s: invalid input json: %w", call.Name, err)
		}
	}

	path := tool.URLTmpl
	query := url.Values{}
	bodyFields := make(map[string]any)

	for _, p := range tool.Params {
		v, present := args[p.Name]
		if !present {
			if p.Required {
				return nil, fmt.Errorf("tool %s: missing required parameter %q", call.Name, p.Name)
			}
			continue
		}
		switch p.Location {
		case models.ParamPath:
			path = strings.ReplaceAll(path, "{"+p.Name+"}", fmt.Sprint(v))
		case models.ParamQuery:
			query.Set(p.Name, fmt.Sprint(v))
		case models.ParamBody:
			bodyFields[p.Name] = v
		}
	}

	fullURL := tool.BaseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	method := tool.Method
	if method == "" {
		method = http.MethodGet
	}
	if len(bodyFields) > 0 && method != http.MethodGet {
		encoded, err := json.Marshal(bodyFields)
		if err != nil {
			return nil, fmt.Errorf("tool %s: encode body: %w", call.Name, err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("tool %s: build request: %w", call.Name, err)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Tool-Call-Id", call.ID)
	return req, nil
}

func errResult(toolCallID, msg string) models.ToolResult {
	return models.ToolResult{ToolCallID: toolCallID, Content: msg, IsError: true}
}

// MaxToolCallsExceeded describes a turn whose running total of tool calls
// would exceed the configured per-turn fatal cap (§4.2's max_tool_calls
// counter). No code path in this module returns it: the session
// orchestrator ends such a turn with an ai_response frame instead.
type MaxToolCallsExceeded struct {
	Limit int
}

func (e *MaxToolCallsExceeded) Error() string {
	return "toolexec: turn exceeded max_tool_calls=" + strconv.Itoa(e.Limit)
}
