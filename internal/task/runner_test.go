package task

import (
	"context"
	"testing"
	"time"

	"github.com/phrazzld/recall/internal/domain"
	"github.com/phrazzld/recall/internal/metrics"
	"github.com/phrazzld/recall/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_DrainsAllKinds(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	var ids []int64
	for i, kind := range domain.AllArtifactKinds {
		ids = append(ids, e.addTask(t, kind, i*10), e.addTask(t, kind, i*10+5))
	}

	r := NewRunner(e.store, e.db, e.registry, Pipelines(stubCollaborators()), RunnerConfig{
		LIFOThreshold: 3,
		IdleWait:      10 * time.Millisecond,
		ClaimBackoff:  time.Millisecond,
		ErrorPause:    time.Millisecond,
	}, logger.Discard(), metrics.New())

	require.NoError(t, r.Start(context.Background()))
	assert.Error(t, r.Start(context.Background()), "second start is rejected")

	require.Eventually(t, func() bool {
		for _, id := range ids {
			if e.currentStatus(id) != domain.TaskStatusCompleted {
				return false
			}
		}
		return true
	}, 10*time.Second, 20*time.Millisecond)

	status := r.Status()
	require.Len(t, status, 3)
	assert.Equal(t, domain.KindAudio, status[0].Kind)
	assert.Equal(t, domain.KindScreenshot, status[1].Kind)
	assert.Equal(t, domain.KindVideo, status[2].Kind)
	for _, s := range status {
		assert.Equal(t, WorkerRunning, s.State)
		assert.Equal(t, int64(2), s.Processed)
	}

	r.Stop()
	for _, s := range r.Status() {
		assert.Equal(t, WorkerStopped, s.State)
	}
}

func TestRunner_SelectedKindsOnly(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	audio := e.addTask(t, domain.KindAudio, 0)
	video := e.addTask(t, domain.KindVideo, 0)

	r := NewRunner(e.store, nil, e.registry, Pipelines(stubCollaborators()), RunnerConfig{
		Kinds:    []domain.ArtifactKind{domain.KindAudio},
		IdleWait: 10 * time.Millisecond,
	}, logger.Discard(), nil)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	require.Eventually(t, func() bool {
		return e.currentStatus(audio) == domain.TaskStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, domain.TaskStatusPending, e.status(t, video))
	require.Len(t, r.Status(), 1)
}

func TestRunner_InvalidPipeline(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	r := NewRunner(e.store, e.db, e.registry, map[domain.ArtifactKind]Pipeline{}, RunnerConfig{}, logger.Discard(), nil)
	assert.Error(t, r.Start(context.Background()))
	assert.Empty(t, r.Status())

	r.Stop()
}
