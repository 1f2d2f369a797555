package tapestry

import (
	"context"
	"time"

	"github.com/tapestry-ai/tapestry/internal/llm"
	"github.com/tapestry-ai/tapestry/internal/model"
	"github.com/tapestry-ai/tapestry/internal/report"
)

// queryPollInterval paces polls of the one-item query embed job.
const queryPollInterval = 500 * time.Millisecond

// BatchStatus is one batch's line in the status summary.
type BatchStatus struct {
	ID          string    `json:"id" yaml:"id"`
	Category    string    `json:"category" yaml:"category"`
	BatchNumber int       `json:"batch_number" yaml:"batch_number"`
	Status      string    `json:"status" yaml:"status"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"updated_at"`
}

// MemoryCounts summarizes memory rows by status.
type MemoryCounts struct {
	Active     int `json:"active" yaml:"active"`
	Superseded int `json:"superseded" yaml:"superseded"`
}

// Summary is the status command's view of the store.
type Summary struct {
	Archives int            `json:"archives" yaml:"archives"`
	Tasks    map[string]int `json:"tasks" yaml:"tasks"`
	Threads  int            `json:"threads" yaml:"threads"`
	Batches  []BatchStatus  `json:"batches" yaml:"batches"`
	Memories MemoryCounts   `json:"memories" yaml:"memories"`
}

// Status summarizes archives, tasks, threads, batches and memories.
func (t *Tapestry) Status(ctx context.Context) (*Summary, error) {
	archives, err := t.store.ListArchives(ctx)
	if err != nil {
		return nil, err
	}

	tasks, err := t.store.ListTasks(ctx, "")
	if err != nil {
		return nil, err
	}

	threads, err := t.store.CountThreads(ctx)
	if err != nil {
		return nil, err
	}

	batches, err := t.store.ListBatches(ctx, "")
	if err != nil {
		return nil, err
	}

	active, err := t.store.CountMemories(ctx, model.MemoryActive)
	if err != nil {
		return nil, err
	}

	superseded, err := t.store.CountMemories(ctx, model.MemorySuperseded)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		Archives: len(archives),
		Tasks:    make(map[string]int),
		Threads:  threads,
		Batches:  make([]BatchStatus, 0, len(batches)),
		Memories: MemoryCounts{Active: active, Superseded: superseded},
	}

	for _, task := range tasks {
		summary.Tasks[string(task.Status)]++
	}

	for _, b := range batches {
		summary.Batches = append(summary.Batches, BatchStatus{
			ID:          b.ID,
			Category:    b.Category,
			BatchNumber: b.BatchNumber,
			Status:      b.CurrentStatus(),
			UpdatedAt:   b.UpdatedAt,
		})
	}

	return summary, nil
}

// SearchMemories proxies the store's memory search for the CLI: with a
// query, the text is embedded and results come back by similarity;
// without one, by recency.
func (t *Tapestry) SearchMemories(ctx context.Context, query string, topK int) ([]*model.Memory, error) {
	var queryEmbedding []float64

	if query != "" {
		vec, err := t.embedQuery(ctx, query)
		if err != nil {
			return nil, err
		}

		queryEmbedding = vec
	}

	return t.store.SearchMemories(ctx, queryEmbedding, time.Time{}, time.Time{}, topK)
}

// WriteReport renders the active-memory timeline chart to an HTML file.
func (t *Tapestry) WriteReport(ctx context.Context, path string) error {
	memories, err := t.store.ListMemories(ctx, model.MemoryActive, time.Time{}, 0)
	if err != nil {
		return err
	}

	return report.WriteTimeline(path, memories)
}

// embedQuery runs one embed job through the client's submit/poll surface.
func (t *Tapestry) embedQuery(ctx context.Context, query string) ([]float64, error) {
	jobKey, err := t.client.EmbedBatchSubmit(ctx, "query", []llm.EmbedItem{{ItemID: "query", Text: query}})
	if err != nil {
		return nil, err
	}

	for {
		vectors, pollErr := t.client.EmbedBatchGetResults(ctx, jobKey)
		if pollErr != nil {
			return nil, pollErr
		}

		if vectors != nil {
			return vectors["query"], nil
		}

		timer := time.NewTimer(queryPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()

			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
