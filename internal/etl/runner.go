package etl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tapestry-ai/tapestry/internal/model"
	"github.com/tapestry-ai/tapestry/internal/storage"
	"github.com/tapestry-ai/tapestry/internal/store"
)

// TaskRunner drives one ETL task through its phases: created →
// extracting → transforming → uploading → completed, or failed. Phase
// counts are persisted as the task advances, so a crashed run leaves an
// honest partial record behind.
type TaskRunner struct {
	store   *store.Store
	storage storage.Storage
	logger  *slog.Logger
}

// NewTaskRunner creates a task runner over the given store and blob storage.
func NewTaskRunner(st *store.Store, blobs storage.Storage, logger *slog.Logger) *TaskRunner {
	if logger == nil {
		logger = slog.Default()
	}

	return &TaskRunner{store: st, storage: blobs, logger: logger}
}

// RunTask runs one task through the given pipe and returns the number of
// thread rows actually inserted. A failure marks the task failed with its
// message and returns the error.
func (tr *TaskRunner) RunTask(ctx context.Context, task *model.EtlTask, pipe Pipe) (int, error) {
	logger := tr.logger.With(
		slog.String("task_id", task.ID),
		slog.String("provider", task.Provider),
		slog.String("interaction_type", task.InteractionType))

	records, err := tr.extract(ctx, task, pipe)
	if err != nil {
		return 0, tr.fail(ctx, task, err)
	}

	rows, err := tr.transform(ctx, task, pipe, records)
	if err != nil {
		return 0, tr.fail(ctx, task, err)
	}

	inserted, err := tr.upload(ctx, task, rows)
	if err != nil {
		return 0, tr.fail(ctx, task, err)
	}

	task.Status = model.TaskCompleted

	err = tr.persist(ctx, task)
	if err != nil {
		return 0, err
	}

	logger.Info("task completed",
		slog.Int("extracted", task.ExtractedCount),
		slog.Int("transformed", task.TransformedCount),
		slog.Int("uploaded", task.UploadedCount))

	return inserted, nil
}

func (tr *TaskRunner) extract(ctx context.Context, task *model.EtlTask, pipe Pipe) ([]Record, error) {
	task.Status = model.TaskExtracting

	err := tr.persist(ctx, task)
	if err != nil {
		return nil, err
	}

	var records []Record

	for _, uri := range task.SourceURIs {
		for record, iterErr := range pipe.ExtractFile(uri, tr.storage) {
			if iterErr != nil {
				return nil, fmt.Errorf("extract %s: %w", uri, iterErr)
			}

			records = append(records, record)
		}
	}

	task.ExtractedCount = len(records)

	return records, tr.persist(ctx, task)
}

func (tr *TaskRunner) transform(
	ctx context.Context, task *model.EtlTask, pipe Pipe, records []Record,
) ([]*model.Thread, error) {
	task.Status = model.TaskTransforming

	err := tr.persist(ctx, task)
	if err != nil {
		return nil, err
	}

	var rows []*model.Thread

	for _, record := range records {
		row, transformErr := pipe.Transform(record, task)
		if transformErr != nil {
			return nil, fmt.Errorf("transform record: %w", transformErr)
		}

		if row == nil {
			continue
		}

		rows = append(rows, row)
	}

	task.TransformedCount = len(rows)

	return rows, tr.persist(ctx, task)
}

func (tr *TaskRunner) upload(ctx context.Context, task *model.EtlTask, rows []*model.Thread) (int, error) {
	task.Status = model.TaskUploading

	err := tr.persist(ctx, task)
	if err != nil {
		return 0, err
	}

	inserted, err := tr.store.InsertThreads(ctx, rows, task.ID)
	if err != nil {
		return 0, fmt.Errorf("upload threads: %w", err)
	}

	task.UploadedCount = inserted

	return inserted, tr.persist(ctx, task)
}

// fail marks the task failed with the cause and returns the cause. The
// persistence error, if any, is joined for the caller.
func (tr *TaskRunner) fail(ctx context.Context, task *model.EtlTask, cause error) error {
	task.Status = model.TaskFailed
	task.Error = cause.Error()

	persistErr := tr.persist(ctx, task)
	if persistErr != nil {
		return fmt.Errorf("%w (task failure not persisted: %w)", cause, persistErr)
	}

	tr.logger.Error("task failed",
		slog.String("task_id", task.ID),
		slog.String("error", cause.Error()))

	return cause
}

func (tr *TaskRunner) persist(ctx context.Context, task *model.EtlTask) error {
	task.UpdatedAt = time.Now().UTC()

	return tr.store.UpdateTask(ctx, task)
}
