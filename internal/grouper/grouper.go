// Package grouper partitions ordered thread sequences into atomic
// processing groups with stable group ids. Groupers are pure: the same
// input always yields the same groups in the same order.
package grouper

import (
	"github.com/tapestry-ai/tapestry/internal/model"
)

// Grouper partitions threads into groups. Group order is deterministic:
// groups are ordered by their earliest member's asat timestamp.
type Grouper interface {
	Group(threads []*model.Thread) ([]model.ThreadGroup, error)
}
