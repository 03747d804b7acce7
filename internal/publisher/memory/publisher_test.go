package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher_RecordsInOrder(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "job-reports", map[string]string{"job_id": "a"})
	require.NoError(t, err)
	id2, err := pub.Publish(context.Background(), "other", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{"job_id":"a"}`, string(msgs[0].Body))
	assert.Equal(t, id2, msgs[1].ID)

	msgs[0].Topic = "modified"
	assert.Equal(t, "job-reports", pub.Messages()[0].Topic)

	reports := pub.OnTopic("job-reports")
	require.Len(t, reports, 1)
	assert.Equal(t, id1, reports[0].ID)
	assert.Empty(t, pub.OnTopic("missing"))
}

func TestPublisher_RejectsCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pub := New()
	_, err := pub.Publish(ctx, "job-reports", "x")
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, pub.Messages())
}

func TestPublisher_RejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "job-reports", make(chan int))
	require.Error(t, err)
	assert.Empty(t, pub.Messages())
}
