package server

import (
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/alfredjeanlab/verifyd/internal/rpc"
)

// maxRecvMsgSize bounds a request; lead snapshots are the largest payloads.
const maxRecvMsgSize = 1 << 20

// NewGRPCServer returns a server with the VerificationService and
// reflection registered. Interceptors run recovery first, then logging, then
// auth, so rejected calls are still logged and counted.
func NewGRPCServer(s *Server, authToken string) *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor,
			LoggingInterceptor,
			AuthInterceptor(authToken),
		),
		grpc.MaxRecvMsgSize(maxRecvMsgSize),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 15 * time.Minute,
			Time:              2 * time.Minute,
			Timeout:           20 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             30 * time.Second,
			PermitWithoutStream: true,
		}),
	)

	rpc.RegisterVerificationServer(srv, s)
	reflection.Register(srv)

	return srv
}
