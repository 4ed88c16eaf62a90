package health

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/feichai0017/receipt-processor/pkg/logger"
)

func startServer(t *testing.T) (*Server, healthpb.HealthClient) {
	t.Helper()
	srv := NewServer(logger.NewNop())
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return srv, healthpb.NewHealthClient(conn)
}

func status(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		// NotFound until the service is first registered
		return healthpb.HealthCheckResponse_SERVICE_UNKNOWN
	}
	return resp.GetStatus()
}

func TestSetServing(t *testing.T) {
	srv, client := startServer(t)

	// the empty service is SERVING by default
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, client, ""))

	srv.SetServing("structuring", false)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, client, "structuring"))
	srv.SetServing("structuring", true)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, client, "structuring"))
}

func TestMonitorFollowsProbe(t *testing.T) {
	srv, client := startServer(t)

	var failing atomic.Bool
	failing.Store(true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Monitor(ctx, "text-extraction", 5*time.Millisecond, func(context.Context) error {
		if failing.Load() {
			return errors.New("redis down")
		}
		return nil
	})

	assert.Eventually(t, func() bool {
		return status(t, client, "text-extraction") == healthpb.HealthCheckResponse_NOT_SERVING
	}, time.Second, 5*time.Millisecond)

	failing.Store(false)
	assert.Eventually(t, func() bool {
		return status(t, client, "text-extraction") == healthpb.HealthCheckResponse_SERVING
	}, time.Second, 5*time.Millisecond)
}
