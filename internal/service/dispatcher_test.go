package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregorydickson/loan-sub000/internal/blob"
	"github.com/gregorydickson/loan-sub000/internal/model"
	"github.com/gregorydickson/loan-sub000/internal/pipeline"
)

// scriptedRunner asks for redelivery a fixed number of times, then
// settles. It records the retry counter of every delivery it sees.
type scriptedRunner struct {
	mu          sync.Mutex
	failFirst   int
	retryCounts []int
}

func (r *scriptedRunner) Process(_ context.Context, task pipeline.Task, retryCount int) *pipeline.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retryCounts = append(r.retryCounts, retryCount)
	if len(r.retryCounts) <= r.failFirst {
		return &pipeline.Outcome{
			DocumentID: task.DocumentID,
			Status:     model.StatusProcessing,
			Retry:      true,
			Message:    "gpu pool exhausted",
		}
	}
	return &pipeline.Outcome{
		DocumentID:         task.DocumentID,
		Status:             model.StatusCompleted,
		BorrowersPersisted: 2,
		BorrowersAttempted: 2,
	}
}

func (r *scriptedRunner) counts() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.retryCounts...)
}

func newTestDispatcher(runner TaskRunner, mutate ...func(*LocalDispatcherConfig)) *LocalDispatcher {
	cfg := LocalDispatcherConfig{
		Runner:         runner,
		Workers:        2,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return NewLocalDispatcher(cfg)
}

func TestLocalDispatcher_RedeliversUntilSettled(t *testing.T) {
	runner := &scriptedRunner{failFirst: 2}
	d := newTestDispatcher(runner)
	defer d.Stop()

	task := pipeline.Task{DocumentID: "doc-1", Filename: "app.pdf"}
	require.NoError(t, d.Enqueue(context.Background(), task))

	require.Eventually(t, func() bool {
		_, ok := d.Outcome("doc-1")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	out, ok := d.Outcome("doc-1")
	require.True(t, ok)
	assert.Equal(t, model.StatusCompleted, out.Status)
	assert.Equal(t, 2, out.BorrowersPersisted)
	// Retry counter climbs by one on each redelivery.
	assert.Equal(t, []int{0, 1, 2}, runner.counts())
}

func TestLocalDispatcher_StopRejectsEnqueue(t *testing.T) {
	d := newTestDispatcher(&scriptedRunner{})
	d.Stop()

	err := d.Enqueue(context.Background(), pipeline.Task{DocumentID: "doc-2", Filename: "app.pdf"})
	assert.ErrorIs(t, err, ErrDispatcherStopped)
}

func TestLocalDispatcher_CleanupEvictsSettledOutcomes(t *testing.T) {
	d := newTestDispatcher(&scriptedRunner{}, func(cfg *LocalDispatcherConfig) {
		cfg.SettledTTL = time.Millisecond
		cfg.CleanupEvery = 5 * time.Millisecond
	})
	defer d.Stop()

	require.NoError(t, d.Enqueue(context.Background(), pipeline.Task{DocumentID: "doc-3", Filename: "app.pdf"}))
	require.Eventually(t, func() bool {
		_, ok := d.Outcome("doc-3")
		return ok
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		_, ok := d.Outcome("doc-3")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestLocalDispatcher_DrivesProcessorToCompletion(t *testing.T) {
	fx := newTestServer(t)
	ctx := context.Background()
	doc := seedDocument(t, fx, "%PDF-1.4 dispatched end to end")

	proc := pipeline.NewProcessor(pipeline.ProcessorConfig{
		Store:     fx.store,
		Bucket:    fx.bucket,
		OCR:       &stubLinearizer{},
		Extractor: &stubExtractor{borrowers: 1},
	})
	d := newTestDispatcher(proc)
	defer d.Stop()

	require.NoError(t, d.Enqueue(ctx, pipeline.Task{DocumentID: doc.ID, Filename: doc.Filename}))

	require.Eventually(t, func() bool {
		out, ok := d.Outcome(doc.ID)
		return ok && out.Status == model.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	stored, err := fx.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, stored.Status)
	borrowers, err := fx.store.ListBorrowersByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, borrowers, 1)
}

func TestLocalDispatcher_ExhaustsRetryBudgetAgainstProcessor(t *testing.T) {
	fx := newTestServer(t)
	ctx := context.Background()

	// Blob URI points at an object that was never uploaded, so every
	// attempt dies on download until the budget runs out.
	doc := &model.Document{
		ID:          uuid.NewString(),
		Filename:    "app.pdf",
		ContentHash: "cafe01",
		FileType:    model.FileTypePDF,
		SizeBytes:   5,
		Status:      model.StatusPending,
	}
	require.NoError(t, fx.store.CreateDocument(ctx, doc))
	require.NoError(t, fx.store.SetDocumentBlobURI(ctx, doc.ID, blob.MakeURI("loan-documents-test", "documents/"+doc.ID+"/app.pdf")))

	proc := pipeline.NewProcessor(pipeline.ProcessorConfig{
		Store:     fx.store,
		Bucket:    fx.bucket,
		OCR:       &stubLinearizer{},
		Extractor: &stubExtractor{borrowers: 1},
	})
	d := newTestDispatcher(proc)
	defer d.Stop()

	require.NoError(t, d.Enqueue(ctx, pipeline.Task{DocumentID: doc.ID, Filename: doc.Filename}))

	require.Eventually(t, func() bool {
		out, ok := d.Outcome(doc.ID)
		return ok && out.Status == model.StatusFailed
	}, 2*time.Second, 5*time.Millisecond)

	out, _ := d.Outcome(doc.ID)
	assert.Contains(t, out.Message, "Max retries exhausted")

	stored, err := fx.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "Max retries exhausted")
}
