// Package assistant answers free-form speech with a short reply from a hosted
// text model.
package assistant

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/sjawhar/ghost-puppet/internal/llm"
)

const DefaultSystemPrompt = "You are a friendly robot bunny standing in the corner of the user's webcam feed. " +
	"Reply in one or two short, cheerful sentences."

type Options struct {
	SystemPrompt string
	Timeout      time.Duration
	// RequestsPerMinute and Burst size the token bucket shared by all callers.
	RequestsPerMinute float64
	Burst             int
	Logger            *slog.Logger
}

type Responder struct {
	client  llm.Client
	system  string
	timeout time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger
}

func New(client llm.Client, opts Options) *Responder {
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = 3
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Responder{
		client:  client,
		system:  opts.SystemPrompt,
		timeout: opts.Timeout,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerMinute/60), opts.Burst),
		logger:  opts.Logger,
	}
}

// Ask sends text as a single request and returns the reply. It reports false
// on any failure: blank input, throttling, a client error or an empty reply.
// There is no retry.
func (r *Responder) Ask(ctx context.Context, text string) (string, bool) {
	if r == nil || r.client == nil {
		return "", false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	if !r.limiter.Allow() {
		r.logger.Warn("assistant request throttled")
		return "", false
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	reply, err := r.client.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: r.system},
		{Role: llm.RoleUser, Content: text},
	})
	if err != nil {
		r.logger.Warn("assistant request failed", "error", err)
		return "", false
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", false
	}
	return reply, true
}
