package spark

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultTemperature = 0.5
	defaultOpenTimeout = 10 * time.Second
	defaultIdleTimeout = 30 * time.Second
)

// Config configures a Client.
type Config struct {
	URL         string
	Domain      string
	Credentials Credentials
	// Temperature defaults to 0.5 when nil and must lie in [0, 1].
	Temperature *float64
	MaxTokens   int
	OpenTimeout time.Duration
	IdleTimeout time.Duration
	// InsecureSkipVerify disables TLS verification for the default dialer.
	InsecureSkipVerify bool
}

// Client talks to the inference service. It holds only immutable
// configuration and is safe for concurrent use; every call owns its own
// connection and answer buffer.
type Client struct {
	endpoint    Endpoint
	creds       Credentials
	temperature float64
	maxTokens   int
	openTimeout time.Duration
	idleTimeout time.Duration

	dialer Dialer
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
	newUID func() string
}

// Option customizes a Client.
type Option func(*Client)

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) Option { return func(c *Client) { c.dialer = d } }

// WithLogger sets the logger used for session diagnostics.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// WithClock sets the time source used for signing.
func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

// WithSessionIDs sets the generator for the per-connection uid.
func WithSessionIDs(f func() string) Option { return func(c *Client) { c.newUID = f } }

// New validates the endpoint and returns a Client. Credentials are checked on
// every call so that a misconfigured process reports a signing error per request.
func New(cfg Config, opts ...Option) (*Client, error) {
	ep, err := ParseEndpoint(cfg.URL, cfg.Domain)
	if err != nil {
		return nil, err
	}
	c := &Client{
		endpoint:    ep,
		creds:       cfg.Credentials,
		temperature: defaultTemperature,
		maxTokens:   cfg.MaxTokens,
		openTimeout: cfg.OpenTimeout,
		idleTimeout: cfg.IdleTimeout,
		logger:      slog.Default(),
		tracer:      otel.Tracer("sparkrag/internal/spark"),
		now:         time.Now,
		newUID:      newUID,
	}
	if t := cfg.Temperature; t != nil {
		if *t < 0 || *t > 1 {
			return nil, fmt.Errorf("spark temperature %v: must be between 0 and 1", *t)
		}
		c.temperature = *t
	}
	if c.openTimeout <= 0 {
		c.openTimeout = defaultOpenTimeout
	}
	if c.idleTimeout <= 0 {
		c.idleTimeout = defaultIdleTimeout
	}
	c.dialer = WebsocketDialer{InsecureSkipVerify: cfg.InsecureSkipVerify, HandshakeTimeout: c.openTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Ask sends prompt and blocks until the full answer has arrived.
func (c *Client) Ask(ctx context.Context, prompt string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "spark.Ask", trace.WithAttributes(attribute.String("spark.domain", c.endpoint.Domain)))
	defer span.End()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results, err := c.start(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	answer, usage, err := collect(ctx, results)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if usage != nil {
		span.SetAttributes(attribute.Int("spark.usage.total_tokens", usage.TotalTokens))
	}
	return answer, nil
}

// AskStreaming sends prompt and returns a Stream of answer chunks. Only a
// signing failure is returned directly; connection and protocol failures are
// delivered through Recv. The caller must Close the stream.
func (c *Client) AskStreaming(ctx context.Context, prompt string) (*Stream, error) {
	ctx, span := c.tracer.Start(ctx, "spark.AskStreaming", trace.WithAttributes(attribute.String("spark.domain", c.endpoint.Domain)))
	ctx, cancel := context.WithCancel(ctx)

	results, err := c.start(ctx, prompt)
	if err != nil {
		cancel()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, err
	}
	return newStream(ctx, cancel, results, span), nil
}

func (c *Client) start(ctx context.Context, prompt string) (<-chan result, error) {
	signed, err := Sign(c.endpoint, c.creds, c.now())
	if err != nil {
		return nil, err
	}
	uid := c.newUID()
	payload, err := Encode(Envelope{
		AppID:       c.creds.AppID,
		SessionID:   uid,
		Domain:      c.endpoint.Domain,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Prompt:      prompt,
	})
	if err != nil {
		return nil, newError(KindProtocol, "encode request", err)
	}
	s := &session{
		dialer:      c.dialer,
		url:         signed,
		payload:     payload,
		uid:         uid,
		openTimeout: c.openTimeout,
		idleTimeout: c.idleTimeout,
		logger:      c.logger,
	}
	results := make(chan result)
	go s.run(ctx, results)
	return results, nil
}

// newUID returns a 32 character id, the longest uid the service accepts.
func newUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
