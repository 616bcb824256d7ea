// Package api is the REST client of the marketplace backend: endpoint
// registry, typed models, the HTTP transport the cache and mutation executor
// run on, and a typed service facade over both.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.trai.ch/zerr"
	"golang.org/x/time/rate"

	"github.com/huykn/querysync/cache"
)

const maxResponseBytes = 10 << 20

// TokenSource yields the current session token. It is called once per
// request, at send time.
type TokenSource interface {
	Token() string
}

// TransportOptions configures a Transport.
type TransportOptions struct {
	BaseURL    string
	Tokens     TokenSource
	HTTPClient *http.Client
	Timeout    time.Duration // used when HTTPClient is nil

	// RateLimit caps outgoing requests per second; zero disables limiting.
	RateLimit rate.Limit
	Burst     int

	// OnUnauthorized runs when a non-public endpoint answers 401.
	OnUnauthorized func(ctx context.Context)

	UserAgent string
	Logger    cache.Logger
	DebugMode bool
}

// Transport executes registry endpoints over HTTP. It implements
// cache.Fetcher for queries and mutation.Sender for mutations.
type Transport struct {
	baseURL        string
	tokens         TokenSource
	client         *http.Client
	limiter        *rate.Limiter
	onUnauthorized func(ctx context.Context)
	userAgent      string
	logger         cache.Logger
	debug          bool
}

// NewTransport creates a Transport.
func NewTransport(opts TransportOptions) (*Transport, error) {
	if opts.BaseURL == "" {
		return nil, ErrNoBaseURL
	}
	if opts.Tokens == nil {
		return nil, ErrNoTokenSource
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	if opts.Logger == nil {
		opts.Logger = cache.NewNoOpLogger()
	}

	t := &Transport{
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		tokens:         opts.Tokens,
		client:         client,
		onUnauthorized: opts.OnUnauthorized,
		userAgent:      opts.UserAgent,
		logger:         opts.Logger,
		debug:          opts.DebugMode,
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(opts.RateLimit, burst)
	}
	return t, nil
}

// Fetch runs a query endpoint.
func (t *Transport) Fetch(ctx context.Context, endpoint string, args any) (any, error) {
	ep, ok := Lookup(endpoint)
	if !ok || ep.Mutation {
		return nil, zerr.With(ErrUnknownEndpoint, "endpoint", endpoint)
	}
	return t.do(ctx, ep, args, "")
}

// Send runs a mutation endpoint.
func (t *Transport) Send(ctx context.Context, endpoint string, payload any, idempotencyKey string) (any, error) {
	ep, ok := Lookup(endpoint)
	if !ok || !ep.Mutation {
		return nil, zerr.With(ErrUnknownEndpoint, "endpoint", endpoint)
	}
	return t.do(ctx, ep, payload, idempotencyKey)
}

func (t *Transport) do(ctx context.Context, ep Endpoint, payload any, idempotencyKey string) (any, error) {
	req, err := t.newRequest(ctx, ep, payload, idempotencyKey)
	if err != nil {
		return nil, err
	}

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, NetworkError(err)
		}
	}

	started := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		if t.debug {
			t.logger.Debug("HTTP: request failed", "endpoint", ep.ID, "error", err)
		}
		return nil, NetworkError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, NetworkError(err)
	}

	if t.debug {
		t.logger.Debug("HTTP: response", "endpoint", ep.ID, "status", resp.StatusCode, "elapsed", time.Since(started))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := ServerError(resp.StatusCode, serverMessage(body))
		if apiErr.Unauthorized() && !ep.Public && t.onUnauthorized != nil {
			t.logger.Warn("HTTP: session rejected by server", "endpoint", ep.ID)
			t.onUnauthorized(ctx)
		}
		return nil, apiErr
	}

	v, err := ep.decode(body)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to decode response"), "endpoint", ep.ID)
	}
	return v, nil
}

func (t *Transport) newRequest(ctx context.Context, ep Endpoint, payload any, idempotencyKey string) (*http.Request, error) {
	var params map[string]string
	if p, ok := payload.(pathParamer); ok {
		params = p.pathParams()
	}
	path, err := ep.ExpandPath(params)
	if err != nil {
		return nil, err
	}
	target := t.baseURL + path
	if q, ok := payload.(queryParamer); ok {
		if values := q.queryValues(); len(values) > 0 {
			target += "?" + values.Encode()
		}
	}

	var body io.Reader
	contentType := "application/json"
	switch {
	case ep.Method == http.MethodGet:
	case ep.Multipart:
		mp, ok := payload.(multipartBodier)
		if !ok {
			return nil, zerr.With(ErrBadPayload, "endpoint", ep.ID)
		}
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		if err := mp.writeMultipart(w); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, zerr.Wrap(err, "failed to finish multipart body")
		}
		body = &buf
		contentType = w.FormDataContentType()
	default:
		data := payload
		if jb, ok := payload.(jsonBodier); ok {
			data = jb.jsonBody()
		}
		if data != nil {
			encoded, err := json.Marshal(data)
			if err != nil {
				return nil, zerr.With(zerr.Wrap(err, "failed to encode request body"), "endpoint", ep.ID)
			}
			body = bytes.NewReader(encoded)
		}
	}

	req, err := http.NewRequestWithContext(ctx, ep.Method, target, body)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to create request"), "endpoint", ep.ID)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", contentType)
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	if !ep.Public {
		if token := t.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	return req, nil
}

// serverMessage extracts the backend's human-readable message, if any.
func serverMessage(body []byte) string {
	var envelope struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	if envelope.Message != "" {
		return envelope.Message
	}
	return envelope.Error
}

var (
	// ErrNoBaseURL is returned when a transport has no backend URL.
	ErrNoBaseURL = errors.New("api base URL is required")

	// ErrNoTokenSource is returned when a transport has no token source.
	ErrNoTokenSource = errors.New("api token source is required")

	// ErrUnknownEndpoint is returned for IDs missing from the registry.
	ErrUnknownEndpoint = errors.New("unknown api endpoint")

	// ErrBadPayload is returned when a payload cannot be encoded for its endpoint.
	ErrBadPayload = errors.New("payload does not match endpoint")

	// ErrBadPathTemplate is returned for malformed path templates.
	ErrBadPathTemplate = errors.New("malformed endpoint path template")
)
