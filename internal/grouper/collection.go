package grouper

import (
	"encoding/json"
	"sort"

	"github.com/tapestry-ai/tapestry/internal/model"
)

// CollectionGrouper partitions threads by a collection id embedded in
// their payload (e.g. a conversation id). Threads without a collection id
// form singleton groups keyed by the thread id.
type CollectionGrouper struct {
	// CollectionKey is the payload field holding the collection id.
	CollectionKey string
}

// NewCollectionGrouper creates a grouper keyed on the given payload field.
func NewCollectionGrouper(collectionKey string) *CollectionGrouper {
	return &CollectionGrouper{CollectionKey: collectionKey}
}

// Group implements Grouper. Groups are ordered by their earliest member's
// asat so output is deterministic.
func (g *CollectionGrouper) Group(threads []*model.Thread) ([]model.ThreadGroup, error) {
	if len(threads) == 0 {
		return nil, nil
	}

	byCollection := make(map[string][]*model.Thread)

	for _, thread := range threads {
		id := g.collectionID(thread)
		byCollection[id] = append(byCollection[id], thread)
	}

	groups := make([]model.ThreadGroup, 0, len(byCollection))

	for id, members := range byCollection {
		sort.SliceStable(members, func(i, j int) bool {
			return members[i].AsAt.Before(members[j].AsAt)
		})

		groups = append(groups, model.ThreadGroup{GroupID: id, Threads: members})
	}

	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i].Threads[0], groups[j].Threads[0]
		if a.AsAt.Equal(b.AsAt) {
			return groups[i].GroupID < groups[j].GroupID
		}

		return a.AsAt.Before(b.AsAt)
	})

	return groups, nil
}

// collectionID extracts the collection id from a thread payload, falling
// back to the thread id for records outside any collection.
func (g *CollectionGrouper) collectionID(thread *model.Thread) string {
	var payload map[string]any

	err := json.Unmarshal(thread.Payload, &payload)
	if err != nil {
		return thread.ID
	}

	id, ok := payload[g.CollectionKey].(string)
	if !ok || id == "" {
		return thread.ID
	}

	return id
}
