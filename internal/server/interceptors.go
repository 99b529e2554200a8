package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"runtime/debug"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/alfredjeanlab/verifyd/internal/metrics"
	"github.com/alfredjeanlab/verifyd/internal/rpc"
)

var (
	errMissingAuth = errors.New("missing authorization header")
	errAuthScheme  = errors.New("invalid authorization scheme")
	errBadToken    = errors.New("invalid token")
)

// checkBearer validates an Authorization header value against token.
func checkBearer(header, token string) error {
	if header == "" {
		return errMissingAuth
	}
	provided, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return errAuthScheme
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
		return errBadToken
	}
	return nil
}

// LoggingInterceptor logs each unary RPC with the calling agent and the
// resulting status code, and counts it in verify_rpc_requests_total.
func LoggingInterceptor(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	method := path.Base(info.FullMethod)
	code := status.Code(err)
	metrics.RPC(method, code.String())

	attrs := []any{
		"method", method,
		"code", code.String(),
		"duration", time.Since(start),
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(mdActorID); len(ids) > 0 {
			attrs = append(attrs, "actor_id", ids[0])
		}
	}

	switch code {
	case codes.OK:
		slog.Info("rpc completed", attrs...)
	case codes.Internal, codes.Unknown, codes.Unavailable:
		slog.Error("rpc failed", append(attrs, "error", err)...)
	default:
		// Rejected transfers and bad input are routine.
		slog.Warn("rpc rejected", append(attrs, "error", err)...)
	}
	return resp, err
}

// RecoveryInterceptor turns a handler panic into codes.Internal.
func RecoveryInterceptor(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic recovered in gRPC handler",
				"method", info.FullMethod,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			err = status.Errorf(codes.Internal, "internal server error")
		}
	}()
	return handler(ctx, req)
}

// AuthInterceptor requires "authorization: Bearer <token>" metadata on every
// RPC except Health. An empty token disables the check.
func AuthInterceptor(token string) grpc.UnaryServerInterceptor {
	health := rpc.FullMethod(rpc.MethodHealth)
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if token == "" || info.FullMethod == health {
			return handler(ctx, req)
		}

		var header string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get("authorization"); len(vals) > 0 {
				header = vals[0]
			}
		}
		if err := checkBearer(header, token); err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(ctx, req)
	}
}

// authExempt lists the unauthenticated HTTP routes: liveness and the
// Prometheus scrape endpoint.
var authExempt = map[string]bool{
	"/v1/health": true,
	"/metrics":   true,
}

// AuthMiddleware requires a Bearer token on every HTTP request except the
// GET routes in authExempt. An empty token disables the check.
func AuthMiddleware(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && authExempt[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		if err := checkBearer(r.Header.Get("Authorization"), token); err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}
