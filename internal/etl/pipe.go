// Package etl discovers and runs archive processing tasks through
// registered pipes. A pipe adapts one provider file format into uniform
// thread rows; the task runner drives the extract, transform and upload
// phases and keeps per-phase counts on the task.
package etl

import (
	"encoding/json"
	"errors"
	"iter"
	"path"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tapestry-ai/tapestry/internal/model"
	"github.com/tapestry-ai/tapestry/internal/storage"
)

// ErrNoPipe indicates that no registered pipe matches a file key. Raised
// at discovery time, never during a running task.
var ErrNoPipe = errors.New("no registered pipe matches")

// Record is one provider-specific record pulled out of an archive file,
// before normalization.
type Record = json.RawMessage

// Pipe adapts one provider file format into thread rows.
type Pipe interface {
	// Provider is the archive provider tag, e.g. "chatgpt".
	Provider() string

	// InteractionType tags the threads this pipe produces, e.g. "chat".
	InteractionType() string

	// ArchiveVersion is the provider format version stamped on threads.
	ArchiveVersion() string

	// ArchivePathPattern is a path glob matched against stored file keys
	// to discover this pipe's source files.
	ArchivePathPattern() string

	// RecordSchema describes the shape ExtractFile yields, as a JSON
	// schema document. Informational; transform does its own parsing.
	RecordSchema() json.RawMessage

	// ExtractFile reads the blob under uri and yields its records.
	// Iteration stops at the first error.
	ExtractFile(uri string, store storage.Storage) iter.Seq2[Record, error]

	// Transform normalizes one record into a thread row. A nil row with
	// nil error skips the record.
	Transform(record Record, task *model.EtlTask) (*model.Thread, error)
}

// Registry holds the known pipes in registration order.
type Registry struct {
	pipes []Pipe
}

// NewRegistry creates a registry over the given pipes.
func NewRegistry(pipes ...Pipe) *Registry {
	return &Registry{pipes: pipes}
}

// Pipes returns the registered pipes in registration order.
func (r *Registry) Pipes() []Pipe {
	return r.pipes
}

// Match returns the first pipe whose path pattern matches the file key.
func (r *Registry) Match(key string) (Pipe, error) {
	for _, p := range r.pipes {
		ok, err := path.Match(p.ArchivePathPattern(), key)
		if err != nil {
			return nil, err
		}

		if ok {
			return p, nil
		}
	}

	return nil, ErrNoPipe
}

// PipeFor returns the registered pipe with the given provider and
// interaction type, used to resume persisted tasks.
func (r *Registry) PipeFor(provider, interactionType string) (Pipe, error) {
	for _, p := range r.pipes {
		if p.Provider() == provider && p.InteractionType() == interactionType {
			return p, nil
		}
	}

	return nil, ErrNoPipe
}

// DiscoverTasks matches an archive's file keys against the registry and
// builds one task per pipe with at least one matching file. Source URIs
// are sorted; files no pipe claims are ignored.
func DiscoverTasks(archive *model.Archive, registry *Registry) ([]*model.EtlTask, error) {
	matched := make(map[Pipe][]string)

	for _, key := range archive.FileKeys {
		p, err := registry.Match(key)
		if errors.Is(err, ErrNoPipe) {
			continue
		}

		if err != nil {
			return nil, err
		}

		matched[p] = append(matched[p], key)
	}

	var tasks []*model.EtlTask

	for _, p := range registry.pipes {
		uris, ok := matched[p]
		if !ok {
			continue
		}

		sort.Strings(uris)

		tasks = append(tasks, &model.EtlTask{
			ID:              uuid.NewString(),
			ArchiveID:       archive.ID,
			Provider:        p.Provider(),
			InteractionType: p.InteractionType(),
			SourceURIs:      uris,
			Status:          model.TaskCreated,
			CreatedAt:       time.Now().UTC(),
			UpdatedAt:       time.Now().UTC(),
		})
	}

	return tasks, nil
}
