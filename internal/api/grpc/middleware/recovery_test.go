package middleware

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dtroode/refreshguard/internal/testutil"
)

func TestRecovery_Handle(t *testing.T) {
	log, buf := testutil.MakeCapturingLogger()
	r := NewRecovery(log)

	err := r.Handle(context.Background(), "nil map write")

	assert.Equal(t, codes.Internal, status.Code(err))
	assert.Contains(t, buf.String(), "gRPC handler panicked")
	assert.Contains(t, buf.String(), "nil map write")
}
