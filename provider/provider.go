// Package provider é o cliente do provedor externo (PokeAPI). Só é chamado
// em falta de cache.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const DefaultBaseURL = "https://pokeapi.co/api/v2/pokemon/"

const maxBodyBytes = 4 << 20

var (
	ErrBusy        = errors.New("provider: too many requests in flight")
	ErrInvalidName = errors.New("provider: empty name")
)

// StatusError é uma resposta não-2xx (exceto 404) do provedor.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider: unexpected status %d", e.Code)
}

type Client struct {
	baseURL        string
	http           *http.Client
	slots          *Slots
	acquireTimeout time.Duration
	limiter        *rate.Limiter
	logger         *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMaxInFlight limita chamadas simultâneas. Sem vaga em acquireTimeout,
// Fetch falha com ErrBusy. acquireTimeout zero espera até o ctx acabar.
func WithMaxInFlight(max int, acquireTimeout time.Duration) Option {
	return func(c *Client) {
		c.slots = NewSlots(max)
		c.acquireTimeout = acquireTimeout
	}
}

// WithPacing espaça as chamadas de saída em rps, com rajada burst.
func WithPacing(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch busca name no provedor. (nil, nil) quando o provedor não conhece o
// nome (404). Qualquer outra falha é erro e não deve ser cacheada.
func (c *Client) Fetch(ctx context.Context, name string) (json.RawMessage, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, ErrInvalidName
	}

	acquireCtx := ctx
	if c.acquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, c.acquireTimeout)
		defer cancel()
	}
	release, ok := c.slots.Acquire(acquireCtx)
	if !ok {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrBusy
	}
	defer release()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("provider pacing: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+url.PathEscape(name), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("provider returned error status", "name", name, "status", resp.StatusCode)
		return nil, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read provider body: %w", err)
	}
	if !json.Valid(body) {
		return nil, errors.New("provider: response is not JSON")
	}
	if string(body) == "null" {
		return nil, nil
	}
	return body, nil
}
