package middleware

import (
	"context"
	"net"
	"testing"

	"github.com/google/uuid"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	grpcctx "github.com/dtroode/refreshguard/internal/api/grpc/context"
	"github.com/dtroode/refreshguard/internal/metrics"
	"github.com/dtroode/refreshguard/internal/testutil"
)

func okHandler(context.Context, any) (any, error) { return "ok", nil }

func peerContext(addr string) context.Context {
	tcp, _ := net.ResolveTCPAddr("tcp", addr)
	return peer.NewContext(context.Background(), &peer.Peer{Addr: tcp})
}

func TestRateLimit_PerAddress(t *testing.T) {
	const method = "/test.RateLimit/PerAddress"
	rl := NewRateLimit(0.001, 2, grpcctx.NewManager(), testutil.MakeNoopLogger())
	info := &grpc.UnaryServerInfo{FullMethod: method}
	before := promtest.ToFloat64(metrics.RateLimitRejected.WithLabelValues(method))

	first := peerContext("10.0.0.1:5000")
	// Same host on another port shares the bucket.
	sameHost := peerContext("10.0.0.1:5001")
	other := peerContext("10.0.0.2:5000")

	_, err := rl.HandleGRPC(first, nil, info, okHandler)
	require.NoError(t, err)
	_, err = rl.HandleGRPC(sameHost, nil, info, okHandler)
	require.NoError(t, err)

	_, err = rl.HandleGRPC(first, nil, info, okHandler)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	resp, err := rl.HandleGRPC(other, nil, info, okHandler)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)

	assert.Equal(t, before+1, promtest.ToFloat64(metrics.RateLimitRejected.WithLabelValues(method)))
}

func TestRateLimit_PrefersAuthenticatedUser(t *testing.T) {
	cm := grpcctx.NewManager()
	rl := NewRateLimit(0.001, 1, cm, testutil.MakeNoopLogger())
	info := &grpc.UnaryServerInfo{FullMethod: "/test.RateLimit/User"}

	base := peerContext("10.0.0.9:5000")
	alice := cm.SetUserIDToContext(base, uuid.New())
	bob := cm.SetUserIDToContext(base, uuid.New())

	_, err := rl.HandleGRPC(alice, nil, info, okHandler)
	require.NoError(t, err)
	_, err = rl.HandleGRPC(bob, nil, info, okHandler)
	require.NoError(t, err)

	_, err = rl.HandleGRPC(alice, nil, info, okHandler)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestRateLimit_NoPeer(t *testing.T) {
	rl := NewRateLimit(0.001, 1, grpcctx.NewManager(), testutil.MakeNoopLogger())

	assert.Equal(t, "addr:unknown", rl.key(context.Background()))
}
