//go:build integration

package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/your-org/attendance/internal/models"
)

func setupNATS(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			Cmd:          []string{"-js"},
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("docker not available, skipping integration test: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)
	return fmt.Sprintf("nats://%s:%s", host, port.Port())
}

func TestPublishConsume(t *testing.T) {
	url := setupNATS(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	producer, err := NewProducer(url)
	require.NoError(t, err)
	defer producer.Close()
	require.NoError(t, producer.EnsureStreams(ctx))
	require.NoError(t, producer.Ping())

	consumer, err := NewConsumer(url)
	require.NoError(t, err)
	defer consumer.Close()

	recognitions := make(chan models.RecognitionEvent, 1)
	require.NoError(t, consumer.ConsumeRecognitions(ctx, "test-recognitions", func(_ context.Context, ev models.RecognitionEvent) error {
		recognitions <- ev
		return nil
	}))

	changes := make(chan struct{}, 1)
	require.NoError(t, consumer.SubscribeRegistryChanges(ctx, func() { changes <- struct{}{} }))
	require.NoError(t, consumer.nc.Flush())

	require.NoError(t, producer.PublishRecognition(ctx, models.RecognitionEvent{CameraID: "lobby", IdentityID: "E1"}))
	require.NoError(t, producer.NotifyRegistryChanged(ctx))

	select {
	case ev := <-recognitions:
		assert.Equal(t, "E1", ev.IdentityID)
	case <-ctx.Done():
		t.Fatal("recognition not delivered")
	}
	select {
	case <-changes:
	case <-ctx.Done():
		t.Fatal("registry change not delivered")
	}
}
