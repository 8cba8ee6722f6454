package events_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/secretsync/internal/events"
)

func TestFromContext(t *testing.T) {
	logger := events.FromContext(context.Background())
	assert.NotNil(t, logger)
}

func TestWithLogger(t *testing.T) {
	logger := events.NewTestLogger(events.InfoLevel, "text", &bytes.Buffer{})

	ctx := events.WithLogger(context.Background(), logger)
	assert.Same(t, logger, events.FromContext(ctx))
}

func TestWithOperationID(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.InfoLevel, "json", &buf)
	ctx := events.WithLogger(context.Background(), logger)

	ctx = events.WithOperationID(ctx)
	id := events.GetOperationID(ctx)

	_, err := uuid.Parse(id)
	require.NoError(t, err)

	events.FromContext(ctx).Info("tagged")
	assert.Contains(t, buf.String(), `"op_id":"`+id+`"`)

	// A second call keeps the existing ID
	assert.Equal(t, id, events.GetOperationID(events.WithOperationID(ctx)))
}

func TestWithRepository(t *testing.T) {
	url := "git@github.com:org/secrets.git"

	ctx := events.WithRepository(context.Background(), url)
	assert.Equal(t, url, events.GetRepository(ctx))
	assert.NotNil(t, events.FromContext(ctx))
}

func TestContextGettersEmpty(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, events.GetOperationID(ctx))
	assert.Empty(t, events.GetRepository(ctx))
}

func TestSetDefault(t *testing.T) {
	previous := events.FromContext(context.Background())
	t.Cleanup(func() { events.SetDefault(previous) })

	custom := events.NewTestLogger(events.WarnLevel, "text", &bytes.Buffer{})
	events.SetDefault(custom)

	assert.Same(t, custom, events.FromContext(context.Background()))
}
