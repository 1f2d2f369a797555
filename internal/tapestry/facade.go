// Package tapestry is the facade wiring pipes, store, batch factories and
// the runner into end-user operations: archive import, ETL ingest,
// memory and refinement pipeline runs, and status reporting.
package tapestry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tapestry-ai/tapestry/internal/batch"
	"github.com/tapestry-ai/tapestry/internal/config"
	"github.com/tapestry-ai/tapestry/internal/discovery"
	"github.com/tapestry-ai/tapestry/internal/etl"
	"github.com/tapestry-ai/tapestry/internal/grouper"
	"github.com/tapestry-ai/tapestry/internal/llm"
	"github.com/tapestry-ai/tapestry/internal/model"
	"github.com/tapestry-ai/tapestry/internal/observability"
	"github.com/tapestry-ai/tapestry/internal/storage"
	"github.com/tapestry-ai/tapestry/internal/store"
)

// Result aggregates one ingest or pipeline run for the caller. Per-batch
// failure detail lives in each batch's FAILED state; Errors carries the
// task- and run-level messages.
type Result struct {
	ThreadsCreated int      `json:"threads_created"`
	TasksCompleted int      `json:"tasks_completed"`
	TasksFailed    int      `json:"tasks_failed"`
	BatchesCreated int      `json:"batches_created"`
	Errors         []string `json:"errors,omitempty"`
}

// CollectionKeyed is an optional pipe refinement: pipes whose records
// belong to named collections are grouped by collection id instead of by
// time window.
type CollectionKeyed interface {
	CollectionKey() string
}

// Tapestry wires the subsystems behind the CLI commands.
type Tapestry struct {
	store    *store.Store
	blobs    storage.Storage
	registry *etl.Registry
	client   llm.Client
	cfg      *config.Config
	logger   *slog.Logger

	// Metrics, when set, receives orchestration instruments.
	Metrics *observability.OrchestratorMetrics
}

// New creates the facade over an opened store and blob storage.
func New(
	st *store.Store,
	blobs storage.Storage,
	registry *etl.Registry,
	client llm.Client,
	cfg *config.Config,
	logger *slog.Logger,
) *Tapestry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Tapestry{
		store:    st,
		blobs:    blobs,
		registry: registry,
		client:   client,
		cfg:      cfg,
		logger:   logger,
	}
}

// ImportArchive copies local files into blob storage under a fresh
// archive id and persists the Archive row. Ingest runs as a separate
// step so a crashed upload never leaves half-run tasks behind.
func (t *Tapestry) ImportArchive(ctx context.Context, provider string, filePaths []string) (*model.Archive, error) {
	archiveID := uuid.NewString()
	keys := make([]string, 0, len(filePaths))

	for _, path := range filePaths {
		key := archiveID + "/" + filepath.Base(path)

		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open archive file: %w", err)
		}

		putErr := t.blobs.Put(key, file)

		closeErr := file.Close()
		if putErr != nil {
			return nil, fmt.Errorf("store archive file %s: %w", key, putErr)
		}

		if closeErr != nil {
			return nil, closeErr
		}

		keys = append(keys, key)
	}

	sort.Strings(keys)

	now := time.Now().UTC()
	archive := &model.Archive{
		ID:        archiveID,
		Provider:  provider,
		Status:    model.ArchiveCreated,
		FileKeys:  keys,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := t.store.CreateArchive(ctx, archive)
	if err != nil {
		return nil, fmt.Errorf("create archive row: %w", err)
	}

	t.logger.Info("archive imported",
		slog.String("archive_id", archiveID),
		slog.String("provider", provider),
		slog.Int("files", len(keys)))

	return archive, nil
}

// IngestArchive discovers ETL tasks for the archive and runs them all,
// returning aggregate counts. The archive moves to completed when every
// task finished, failed otherwise. Task failures are collected, not
// fatal: remaining tasks still run.
func (t *Tapestry) IngestArchive(ctx context.Context, archiveID string) (*Result, error) {
	archive, err := t.store.GetArchive(ctx, archiveID)
	if err != nil {
		return nil, err
	}

	tasks, err := etl.DiscoverTasks(archive, t.registry)
	if err != nil {
		return nil, fmt.Errorf("discover tasks: %w", err)
	}

	result := &Result{}
	runner := etl.NewTaskRunner(t.store, t.blobs, t.logger)

	for _, task := range tasks {
		createErr := t.store.CreateTask(ctx, task)
		if createErr != nil {
			return nil, fmt.Errorf("create task: %w", createErr)
		}

		pipe, pipeErr := t.registry.PipeFor(task.Provider, task.InteractionType)
		if pipeErr != nil {
			return nil, pipeErr
		}

		inserted, runErr := runner.RunTask(ctx, task, pipe)
		if runErr != nil {
			result.TasksFailed++
			result.Errors = append(result.Errors, runErr.Error())

			continue
		}

		result.TasksCompleted++
		result.ThreadsCreated += inserted
	}

	status := model.ArchiveCompleted
	if result.TasksFailed > 0 {
		status = model.ArchiveFailed
	}

	statusErr := t.store.UpdateArchiveStatus(ctx, archiveID, status)
	if statusErr != nil {
		return nil, statusErr
	}

	return result, nil
}

// RunMemories batches all un-batched threads per interaction type and
// drives every non-terminal memories batch to completion under the
// configured admission policy.
func (t *Tapestry) RunMemories(ctx context.Context) (*Result, error) {
	result := &Result{}

	for _, pipe := range t.registry.Pipes() {
		threads, err := t.store.ListUnbatchedThreads(ctx, pipe.InteractionType())
		if err != nil {
			return nil, err
		}

		factory := batch.NewFactory(t.store, t.grouperFor(pipe), []batch.Category{batch.CategoryMemories}, t.logger)

		created, err := factory.CreateBatches(ctx, threads)
		if err != nil {
			return nil, err
		}

		result.BatchesCreated += len(created)
	}

	return t.drive(ctx, batch.CategoryMemories, result)
}

// RunRefinement seeds one refinement batch from the refinable memories
// and drives every non-terminal refinement batch to completion.
func (t *Tapestry) RunRefinement(ctx context.Context) (*Result, error) {
	result := &Result{}

	factory := batch.NewRefinementFactory(t.store, t.logger)

	created, err := factory.CreateRefinementBatches(ctx)
	if err != nil {
		return nil, err
	}

	result.BatchesCreated += len(created)

	return t.drive(ctx, batch.CategoryRefinement, result)
}

// drive runs every non-terminal batch of the category, including ones a
// previous crashed run left behind: persisted states make them naturally
// resumable.
func (t *Tapestry) drive(ctx context.Context, category batch.Category, result *Result) (*Result, error) {
	managers, err := t.managersFor(ctx, category)
	if err != nil {
		return nil, err
	}

	if len(managers) == 0 {
		t.logger.Info("nothing to run", slog.String("category", string(category)))

		return result, nil
	}

	createdBefore, supersededBefore := t.memoryCounts(ctx)

	runner := batch.NewRunner(t.logger, t.cfg.Runner.Concurrency)
	runner.Metrics = t.Metrics

	runErr := runner.RunPipeline(ctx, managers, t.policy())

	createdAfter, supersededAfter := t.memoryCounts(ctx)
	t.Metrics.AddMemoriesCreated(ctx, createdAfter-createdBefore)
	t.Metrics.AddMemoriesSuperseded(ctx, supersededAfter-supersededBefore)

	if runErr != nil {
		result.Errors = append(result.Errors, runErr.Error())

		return result, runErr
	}

	t.saveLastRun(result)

	return result, nil
}

// managersFor builds one manager per non-terminal batch of the category.
func (t *Tapestry) managersFor(ctx context.Context, category batch.Category) ([]*batch.Manager, error) {
	batches, err := t.store.ListBatches(ctx, string(category))
	if err != nil {
		return nil, err
	}

	registry := t.transitioners()

	var managers []*batch.Manager

	for _, b := range batches {
		terminal, termErr := isTerminal(b)
		if termErr != nil {
			return nil, termErr
		}

		if terminal {
			continue
		}

		m, newErr := batch.NewManagerFor(t.store, b, registry, t.logger)
		if newErr != nil {
			return nil, newErr
		}

		managers = append(managers, m)
	}

	return managers, nil
}

// transitioners builds the category registry from config.
func (t *Tapestry) transitioners() map[batch.Category]batch.Transitioner {
	disc := discovery.NewDiscoverer(t.store, discovery.Params{
		DateProximityDays:    t.cfg.Refinement.DateProximityDays,
		SimilarityThreshold:  t.cfg.Refinement.SimilarityThreshold,
		MaxCandidatesPerSeed: t.cfg.Refinement.MaxCandidatesPerSeed,
	}, t.logger)

	return map[batch.Category]batch.Transitioner{
		batch.CategoryMemories: batch.NewMemoriesTransitioner(t.store, t.client, batch.MemoriesConfig{
			MinMemories: t.cfg.Grouping.MinMemories,
			MaxMemories: t.cfg.Grouping.MaxMemories,
		}, t.logger),
		batch.CategoryRefinement: batch.NewRefinementTransitioner(t.store, t.client, disc, t.logger),
	}
}

// grouperFor picks the grouper for a pipe: collection-keyed pipes group
// by collection id, the rest by sliding time window from config.
func (t *Tapestry) grouperFor(pipe etl.Pipe) grouper.Grouper {
	if keyed, ok := pipe.(CollectionKeyed); ok {
		return grouper.NewCollectionGrouper(keyed.CollectionKey())
	}

	g, err := grouper.NewWindowGrouper(grouper.WindowConfig{
		WindowDays:  t.cfg.Grouping.WindowDays,
		OverlapDays: t.cfg.Grouping.OverlapDays,
		MinMemories: t.cfg.Grouping.MinMemories,
		MaxMemories: t.cfg.Grouping.MaxMemories,
	})
	if err != nil {
		// Config validation rejects bad window settings before the facade
		// is constructed.
		panic(err)
	}

	return g
}

// policy builds the run admission policy from config.
func (t *Tapestry) policy() batch.Policy {
	if t.cfg.Runner.Policy == config.PolicyImmediate {
		return batch.ImmediateRunPolicy{}
	}

	return batch.NewStoreLockPolicy(t.store, t.cfg.Runner.LockStaleAfter)
}

// memoryCounts reads total and superseded memory counts for metric
// deltas. Failures count as zero: metrics never fail a run.
func (t *Tapestry) memoryCounts(ctx context.Context) (total, superseded int64) {
	if t.Metrics == nil {
		return 0, 0
	}

	all, err := t.store.CountMemories(ctx, "")
	if err != nil {
		return 0, 0
	}

	sup, err := t.store.CountMemories(ctx, model.MemorySuperseded)
	if err != nil {
		return 0, 0
	}

	return int64(all), int64(sup)
}

// isTerminal reports whether the batch's current state is terminal.
func isTerminal(b *model.Batch) (bool, error) {
	raw, err := b.CurrentState()
	if err != nil {
		return false, err
	}

	s, err := batch.ParseState(batch.Category(b.Category), raw)
	if err != nil {
		return false, err
	}

	return s.Kind() == batch.KindTerminal, nil
}
