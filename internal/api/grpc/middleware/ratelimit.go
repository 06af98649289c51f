package middleware

import (
	"context"
	"net"
	"sync"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/dtroode/refreshguard/internal/logger"
	"github.com/dtroode/refreshguard/internal/metrics"
	"github.com/dtroode/refreshguard/internal/model"
)

// RateLimit is a token-bucket limiter keyed by authenticated user, or by
// client address for anonymous calls.
type RateLimit struct {
	limit          rate.Limit
	burst          int
	contextManager model.ContextManager
	logger         *logger.Logger

	limiters sync.Map // map[string]*rate.Limiter
}

// NewRateLimit allows rps requests per second per key with the given burst.
func NewRateLimit(rps float64, burst int, contextManager model.ContextManager, logger *logger.Logger) *RateLimit {
	return &RateLimit{
		limit:          rate.Limit(rps),
		burst:          burst,
		contextManager: contextManager,
		logger:         logger,
	}
}

func (r *RateLimit) limiter(key string) *rate.Limiter {
	if v, ok := r.limiters.Load(key); ok {
		return v.(*rate.Limiter)
	}
	v, _ := r.limiters.LoadOrStore(key, rate.NewLimiter(r.limit, r.burst))
	return v.(*rate.Limiter)
}

func (r *RateLimit) key(ctx context.Context) string {
	if userID, ok := r.contextManager.GetUserIDFromContext(ctx); ok {
		return "user:" + userID.String()
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		addr := p.Addr.String()
		if host, _, err := net.SplitHostPort(addr); err == nil {
			addr = host
		}
		return "addr:" + addr
	}
	return "addr:unknown"
}

// HandleGRPC rejects the call with ResourceExhausted when the caller's bucket is empty.
func (r *RateLimit) HandleGRPC(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	key := r.key(ctx)
	if !r.limiter(key).Allow() {
		metrics.RateLimitRejected.WithLabelValues(info.FullMethod).Inc()
		r.logger.Warn("Rate limit middleware: request rejected",
			"method", info.FullMethod,
			"key", key)
		return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
	}
	return handler(ctx, req)
}
