package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestPublisher_PublishesJSON(t *testing.T) {
	ctx := context.Background()
	client, srv := newTestClient(t)
	_, err := client.CreateTopic(ctx, "job-reports")
	require.NoError(t, err)

	pub := New(client)
	defer pub.Close()
	id, err := pub.Publish(ctx, "job-reports", map[string]any{"job_id": "sched-1", "status": "completed"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)
	assert.Equal(t, "application/json", msgs[0].Attributes["content-type"])
	var got map[string]string
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, "sched-1", got["job_id"])
}

func TestPublisher_MissingTopicFails(t *testing.T) {
	client, _ := newTestClient(t)
	pub := New(client)
	defer pub.Close()
	_, err := pub.Publish(context.Background(), "absent", "x")
	require.Error(t, err)
}

func TestPublisher_NotConfigured(t *testing.T) {
	_, err := New(nil).Publish(context.Background(), "t", "x")
	require.ErrorIs(t, err, ErrNotConfigured)

	var nilPub *Publisher
	_, err = nilPub.Publish(context.Background(), "t", "x")
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestPublisher_UnmarshalablePayload(t *testing.T) {
	client, _ := newTestClient(t)
	_, err := New(client).Publish(context.Background(), "job-reports", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
}
