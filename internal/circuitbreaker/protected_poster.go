package circuitbreaker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/lalithlochan/discordbridge/internal/discord"
)

// Poster is implemented by discord.Client.
type Poster interface {
	PostWebhook(ctx context.Context, req discord.PostRequest) (*discord.PostResult, error)
}

// ProtectedPoster decorates a Poster with a CircuitBreaker.
type ProtectedPoster struct {
	poster  Poster
	breaker *CircuitBreaker
	logger  *zap.Logger
}

func NewProtectedPoster(poster Poster, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedPoster {
	return &ProtectedPoster{
		poster:  poster,
		breaker: breaker,
		logger:  logger,
	}
}

// PostWebhook fails fast with an *OpenError while the breaker is open.
// Client errors other than 429 mean Discord answered, so they do not trip the breaker.
func (p *ProtectedPoster) PostWebhook(ctx context.Context, req discord.PostRequest) (*discord.PostResult, error) {
	if !p.breaker.Allow() {
		p.logger.Warn("webhook call rejected by circuit breaker",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("thread_id", req.ThreadID),
		)
		return nil, &OpenError{Name: p.breaker.config.Name, RetryAfter: p.breaker.RetryIn()}
	}

	result, err := p.poster.PostWebhook(ctx, req)
	if err != nil && tripsBreaker(err) {
		p.breaker.RecordFailure()
		return nil, err
	}

	p.breaker.RecordSuccess()
	return result, err
}

func (p *ProtectedPoster) Breaker() *CircuitBreaker {
	return p.breaker
}

func tripsBreaker(err error) bool {
	var de *discord.DeliveryError
	if errors.As(err, &de) {
		return de.RateLimited || de.StatusCode >= 500
	}
	// network errors, timeouts
	return true
}
