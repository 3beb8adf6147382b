package pubsub_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	publisher "github.com/JakeFAU/sitecorpus/internal/publisher/pubsub"
)

func newFakeServer(t *testing.T) (*pstest.Server, *grpc.ClientConn) {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return srv, conn
}

func TestPublishDeliversJSON(t *testing.T) {
	ctx := context.Background()
	srv, conn := newFakeServer(t)

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	topic, err := client.CreateTopic(ctx, "pages")
	require.NoError(t, err)

	pub := publisher.New(topic)
	id, err := pub.Publish(ctx, "page.saved", map[string]string{"url": "https://example.com/"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.NoError(t, pub.Close())

	require.Eventually(t, func() bool { return len(srv.Messages()) == 1 }, 5*time.Second, 10*time.Millisecond)
	msg := srv.Messages()[0]
	var payload map[string]string
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, "https://example.com/", payload["url"])
	assert.Equal(t, "page.saved", msg.Attributes["event"])
	assert.Equal(t, "application/json", msg.Attributes["content_type"])
}

func TestDialMissingTopic(t *testing.T) {
	_, conn := newFakeServer(t)

	_, err := publisher.Dial(context.Background(),
		publisher.Config{ProjectID: "project-id", TopicID: "absent"},
		option.WithGRPCConn(conn),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestDialRequiresConfig(t *testing.T) {
	_, err := publisher.Dial(context.Background(), publisher.Config{})
	require.Error(t, err)
}

func TestPublishWithoutTopic(t *testing.T) {
	_, err := publisher.New(nil).Publish(context.Background(), "", "x")
	require.Error(t, err)
}
