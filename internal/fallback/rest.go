package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/chatlink/pkg/models"
)

// ErrUnauthorized is returned when the API rejects the credential.
var ErrUnauthorized = errors.New("unauthorized")

const maxResponseBytes = 8 << 20

// Fetcher retrieves the most recent messages of a room, oldest first.
type Fetcher interface {
	Fetch(ctx context.Context, room models.ID, limit int) ([]models.ChatMessage, error)
}

// TokenSource supplies the bearer credential.
type TokenSource interface {
	Token() string
}

// RESTFetcher fetches room messages from the chat REST API.
type RESTFetcher struct {
	baseURL string
	client  *http.Client
	tokens  TokenSource
	tracer  trace.Tracer
}

// RESTOption configures a RESTFetcher.
type RESTOption func(*RESTFetcher)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) RESTOption {
	return func(f *RESTFetcher) { f.client = c }
}

// WithTracer sets the tracer used for fetch spans.
func WithTracer(t trace.Tracer) RESTOption {
	return func(f *RESTFetcher) { f.tracer = t }
}

// NewRESTFetcher creates a fetcher for the API at baseURL.
func NewRESTFetcher(baseURL string, tokens TokenSource, opts ...RESTOption) *RESTFetcher {
	f := &RESTFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
		tokens:  tokens,
		tracer:  otel.Tracer("chatlink/fallback"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch implements Fetcher.
func (f *RESTFetcher) Fetch(ctx context.Context, room models.ID, limit int) ([]models.ChatMessage, error) {
	ctx, span := f.tracer.Start(ctx, "chat.fetch_messages",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("chat.room", room.String()),
			attribute.Int("chat.limit", limit),
		))
	defer span.End()

	msgs, err := f.fetch(ctx, room, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("chat.messages", len(msgs)))
	return msgs, nil
}

func (f *RESTFetcher) fetch(ctx context.Context, room models.ID, limit int) ([]models.ChatMessage, error) {
	endpoint := fmt.Sprintf("%s/api/chat/%s/messages/?limit=%s",
		f.baseURL, url.PathEscape(room.String()), strconv.Itoa(limit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if f.tokens != nil {
		if token := f.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch messages: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	msgs, err := decodeMessages(body)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}

// decodeMessages accepts a bare array or an object with a results or
// messages array.
func decodeMessages(body []byte) ([]models.ChatMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	if body[0] == '[' {
		var msgs []models.ChatMessage
		if err := json.Unmarshal(body, &msgs); err != nil {
			return nil, fmt.Errorf("decode messages: %w", err)
		}
		return msgs, nil
	}
	var page struct {
		Results  []models.ChatMessage `json:"results"`
		Messages []models.ChatMessage `json:"messages"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	if page.Results != nil {
		return page.Results, nil
	}
	return page.Messages, nil
}
