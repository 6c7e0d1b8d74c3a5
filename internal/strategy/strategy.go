// Package strategy implements planning and judgment strategies backed by a
// model CLI. Replies are expected to contain one JSON object.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/aristath/taskloop/internal/backend"
	"github.com/aristath/taskloop/internal/resilience"
)

// ErrNoJSON is returned when a reply holds no JSON object.
var ErrNoJSON = errors.New("no JSON object in reply")

// Client sends prompts to a backend through a circuit breaker. Retries are
// left to the caller.
type Client struct {
	backend backend.Backend
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewClient wraps b. The breaker is optional.
func NewClient(b backend.Backend, breaker *gobreaker.CircuitBreaker, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if breaker == nil {
		breaker = resilience.NewBreakerRegistry(resilience.DefaultBreakerConfig(), logger).Get("strategy")
	}
	return &Client{backend: b, breaker: breaker, logger: logger}
}

// Ask sends prompt and returns the JSON object found in the reply.
func (c *Client) Ask(ctx context.Context, prompt string) (string, error) {
	return resilience.Call(ctx, c.breaker, resilience.NoRetry(), func(ctx context.Context) (string, error) {
		resp, err := c.backend.Send(ctx, backend.Message{Content: prompt, Role: "user"})
		if err != nil {
			return "", fmt.Errorf("backend: %w", err)
		}
		body := extractJSON(resp.Content)
		if body == "" {
			c.logger.Debug("strategy reply without JSON", "chars", len(resp.Content))
			return "", ErrNoJSON
		}
		return body, nil
	})
}

// extractJSON returns the JSON object in a reply that may wrap it in a
// markdown code block or surrounding prose.
func extractJSON(reply string) string {
	if start := strings.Index(reply, "```json"); start != -1 {
		start += len("```json")
		if end := strings.Index(reply[start:], "```"); end != -1 {
			return strings.TrimSpace(reply[start : start+end])
		}
	}
	if start := strings.Index(reply, "```"); start != -1 {
		start += 3
		if end := strings.Index(reply[start:], "```"); end != -1 {
			if body := strings.TrimSpace(reply[start : start+end]); strings.HasPrefix(body, "{") {
				return body
			}
		}
	}

	start := strings.Index(reply, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(reply); i++ {
		ch := reply[i]
		switch {
		case escaped:
			escaped = false
		case inString && ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return reply[start : i+1]
			}
		}
	}
	return ""
}
