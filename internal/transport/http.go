// Package transport sends session requests over HTTP.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/aelexs/session-gateway/internal/domain"
	"github.com/aelexs/session-gateway/internal/session"
)

var tracer = otel.Tracer("transport")

// DefaultMaxBodyBytes caps how much of a response body is read.
const DefaultMaxBodyBytes = 4 << 20

var _ session.Transport = (*HTTP)(nil)

// Config holds the HTTP transport settings.
type Config struct {
	// BaseURL is prefixed to every request path, e.g. "https://api.example.com".
	BaseURL string

	// Timeout bounds one exchange. Ignored when HTTPClient is set.
	Timeout time.Duration

	// HTTPClient overrides the default client.
	HTTPClient *http.Client

	UserAgent    string
	MaxBodyBytes int64
}

// HTTP is a session.Transport backed by net/http.
type HTTP struct {
	baseURL   string
	client    *http.Client
	userAgent string
	maxBody   int64
}

// New creates an HTTP transport.
func New(cfg Config) *HTTP {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = domain.BackendTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &HTTP{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		client:    client,
		userAgent: cfg.UserAgent,
		maxBody:   maxBody,
	}
}

// Send performs req. Any failure to obtain a response is reported as an
// Outcome with Status 0; the error return is only used when ctx is done or
// the request cannot be built.
func (t *HTTP) Send(ctx context.Context, req session.Request) (session.Outcome, error) {
	ctx, span := tracer.Start(ctx, "transport.http.send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("url.path", req.Path),
		),
	)
	defer span.End()

	httpReq, err := t.build(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build request")
		return session.Outcome{}, err
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			span.RecordError(ctxErr)
			return session.Outcome{}, fmt.Errorf("%s %s: %w", req.Method, req.Path, ctxErr)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "no response")
		return session.Outcome{Err: err}, nil
	}
	defer func() { _ = resp.Body.Close() }()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBody))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return session.Outcome{}, fmt.Errorf("%s %s: read body: %w", req.Method, req.Path, ctxErr)
		}
		// A truncated body is still a response; classify by status.
		span.RecordError(err)
	}

	return session.Outcome{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   body,
	}, nil
}

func (t *HTTP) build(ctx context.Context, req session.Request) (*http.Request, error) {
	target := t.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, req.Path, err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if t.userAgent != "" {
		httpReq.Header.Set("User-Agent", t.userAgent)
	}

	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))
	return httpReq, nil
}
