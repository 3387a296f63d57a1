package ai

import (
	"context"
	"fmt"
	"net"
	"strings"

	"go.uber.org/zap"
)

// FallbackClient routes classification calls to a primary provider and
// falls back to a secondary one when the primary is unreachable or
// rate-limited. Either side may be nil.
type FallbackClient struct {
	primary   Client
	secondary Client
	log       *zap.Logger
}

// NewFallbackClient creates a fallback client over both providers.
func NewFallbackClient(primary, secondary Client, log *zap.Logger) *FallbackClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &FallbackClient{primary: primary, secondary: secondary, log: log}
}

// Name implements Client.
func (f *FallbackClient) Name() string { return "fallback" }

// Classify implements Client. The secondary provider is tried whenever the
// primary fails; connection and quota errors are the expected cases.
func (f *FallbackClient) Classify(ctx context.Context, prompt string) (string, error) {
	if f.primary != nil {
		result, err := f.primary.Classify(ctx, prompt)
		if err == nil {
			return result, nil
		}
		if isConnectionError(err) {
			f.log.Warn("primary inference provider unreachable, falling back",
				zap.String("provider", f.primary.Name()), zap.Error(err))
		} else if isQuotaError(err) {
			f.log.Warn("primary inference provider rate-limited, falling back",
				zap.String("provider", f.primary.Name()), zap.Error(err))
		} else {
			f.log.Warn("primary inference provider error, falling back",
				zap.String("provider", f.primary.Name()), zap.Error(err))
		}
	}

	if f.secondary != nil {
		result, err := f.secondary.Classify(ctx, prompt)
		if err == nil {
			return result, nil
		}
		return "", fmt.Errorf("%s classification failed: %w", f.secondary.Name(), err)
	}

	return "", fmt.Errorf("no inference provider available")
}

// isConnectionError checks if the error is a network/connection error.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := err.(net.Error); ok {
		return true
	}

	errStr := strings.ToLower(err.Error())
	indicators := []string{
		"connection refused",
		"no such host",
		"network is unreachable",
		"connection reset",
		"timeout",
		"dial tcp",
		"eof",
	}
	for _, indicator := range indicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

// isQuotaError checks if the error indicates rate limiting or quota
// exhaustion.
func isQuotaError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	indicators := []string{
		"429",
		"quota",
		"rate limit",
		"too many requests",
		"resource exhausted",
	}
	for _, indicator := range indicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}
