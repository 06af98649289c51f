package router

import (
	"context"
	"strings"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/auth"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/selector"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/dtroode/refreshguard/internal/api/grpc/authv1"
	"github.com/dtroode/refreshguard/internal/api/grpc/handler"
	"github.com/dtroode/refreshguard/internal/api/grpc/middleware"
	"github.com/dtroode/refreshguard/internal/logger"
	"github.com/dtroode/refreshguard/internal/model"
)

// RateLimit configures per-caller request limits on the Auth service.
// A non-positive RPS disables limiting.
type RateLimit struct {
	RPS   float64
	Burst int
}

// Router wires the Auth service, its interceptors and the health service
// into a gRPC server.
type Router struct {
	authService    handler.AuthService
	tokenService   middleware.TokenService
	contextManager model.ContextManager
	rateLimit      RateLimit
	logger         *logger.Logger
	health         *health.Server
}

// New creates new gRPC Router instance.
func New(
	authService handler.AuthService,
	tokenService middleware.TokenService,
	contextManager model.ContextManager,
	rateLimit RateLimit,
	logger *logger.Logger,
) *Router {
	return &Router{
		authService:    authService,
		tokenService:   tokenService,
		contextManager: contextManager,
		rateLimit:      rateLimit,
		logger:         logger,
		health:         health.NewServer(),
	}
}

func requiresAuth(_ context.Context, c interceptors.CallMeta) bool {
	return c.FullMethod() == authv1.MeFullMethod
}

func isAuthService(_ context.Context, c interceptors.CallMeta) bool {
	return strings.HasPrefix(c.FullMethod(), "/"+authv1.ServiceName+"/")
}

// Register builds the gRPC server with all services and interceptors.
func (r *Router) Register() *grpc.Server {
	logging := middleware.NewLogging(r.logger)
	authenticate := middleware.NewAuthenticate(r.tokenService, r.contextManager, r.logger)
	rec := middleware.NewRecovery(r.logger)

	interceptorChain := []grpc.UnaryServerInterceptor{
		recovery.UnaryServerInterceptor(recovery.WithRecoveryHandlerContext(rec.Handle)),
		logging.HandleGRPC,
		selector.UnaryServerInterceptor(
			auth.UnaryServerInterceptor(authenticate.AuthFunc),
			selector.MatchFunc(requiresAuth),
		),
	}
	if r.rateLimit.RPS > 0 {
		limiter := middleware.NewRateLimit(r.rateLimit.RPS, r.rateLimit.Burst, r.contextManager, r.logger)
		interceptorChain = append(interceptorChain,
			selector.UnaryServerInterceptor(limiter.HandleGRPC, selector.MatchFunc(isAuthService)))
	}

	s := grpc.NewServer(grpc.ChainUnaryInterceptor(interceptorChain...))

	authv1.RegisterAuthServer(s, handler.NewAuth(r.authService, r.logger))
	healthpb.RegisterHealthServer(s, r.health)
	reflection.Register(s)

	r.health.SetServingStatus(authv1.ServiceName, healthpb.HealthCheckResponse_SERVING)
	r.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	return s
}

// Shutdown marks every service as not serving.
func (r *Router) Shutdown() {
	r.health.Shutdown()
}
