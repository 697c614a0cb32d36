package mongodb

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStep struct {
	err   error
	calls int
	ctx   context.Context
}

func (s *fakeStep) run(ctx context.Context) error {
	s.calls++
	s.ctx = ctx
	return s.err
}

func TestQueuedWriteCommitsWhenQueued(t *testing.T) {
	write, enqueue, undo := &fakeStep{}, &fakeStep{}, &fakeStep{}

	require.NoError(t, queuedWrite(context.Background(), write.run, enqueue.run, undo.run))
	assert.Equal(t, 1, write.calls)
	assert.Equal(t, 1, enqueue.calls)
	assert.Zero(t, undo.calls)
}

func TestQueuedWriteFailedWriteSkipsQueue(t *testing.T) {
	boom := errors.New("duplicate key")
	write, enqueue, undo := &fakeStep{err: boom}, &fakeStep{}, &fakeStep{}

	err := queuedWrite(context.Background(), write.run, enqueue.run, undo.run)
	require.ErrorIs(t, err, boom)
	assert.Zero(t, enqueue.calls)
	assert.Zero(t, undo.calls)
}

func TestQueuedWriteUndoesUnqueuedWrite(t *testing.T) {
	lost := errors.New("pending collection unavailable")
	write, enqueue, undo := &fakeStep{}, &fakeStep{err: lost}, &fakeStep{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := queuedWrite(ctx, write.run, enqueue.run, undo.run)
	require.ErrorIs(t, err, lost)
	assert.Equal(t, 1, undo.calls)
	assert.NoError(t, undo.ctx.Err(), "rollback outlives the caller's cancellation")
}

func TestQueuedWriteReportsFailedUndo(t *testing.T) {
	lost := errors.New("pending collection unavailable")
	stuck := errors.New("primary stepped down")
	write, enqueue, undo := &fakeStep{}, &fakeStep{err: lost}, &fakeStep{err: stuck}

	err := queuedWrite(context.Background(), write.run, enqueue.run, undo.run)
	require.ErrorIs(t, err, lost)
	require.ErrorIs(t, err, stuck)
	assert.Contains(t, err.Error(), "roll back local write")
}
