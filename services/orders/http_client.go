package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// collaborator is the transport shared by the HTTP clients: a resty client
// behind a circuit breaker. Each call is a single attempt; retries belong to
// the caller's RetryPolicy.
type collaborator struct {
	name    string
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker[*resty.Response]
}

func newCollaborator(name, baseURL string) *collaborator {
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json")

	breaker := gobreaker.NewCircuitBreaker[*resty.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Business answers (not found, declined) say nothing about the collaborator's health.
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("⚡ Circuit breaker state changed")
		},
	})

	return &collaborator{
		name:    name,
		http:    client,
		breaker: breaker,
	}
}

// request builds a request carrying ctx and its trace context.
func (c *collaborator) request(ctx context.Context) *resty.Request {
	req := c.http.R().SetContext(ctx)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	return req
}

// execute sends one request through the breaker. Transport failures and 5xx
// answers come back as ErrTimeout or ErrUpstreamUnavailable; any other status
// is returned to the caller as a response.
func (c *collaborator) execute(ctx context.Context, send func() (*resty.Response, error)) (*resty.Response, error) {
	resp, err := c.breaker.Execute(func() (*resty.Response, error) {
		resp, err := send()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return nil, fmt.Errorf("%s: %w: %w", c.name, ErrTimeout, err)
			}
			return nil, fmt.Errorf("%s: %w: %w", c.name, ErrUpstreamUnavailable, err)
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return nil, fmt.Errorf("%s answered %d: %w", c.name, resp.StatusCode(), ErrUpstreamUnavailable)
		}
		return resp, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%s: %w: %w", c.name, ErrUpstreamUnavailable, err)
	}
	return resp, err
}
