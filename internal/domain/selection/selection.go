// Package selection manages which evaluated submissions a participant
// nominates for the final leaderboard.
package selection

import (
	"context"
	"fmt"

	"github.com/okian/holdout/pkg/metrics"
)

// MaxSelections is the largest final selection a participant may hold.
const MaxSelections = 2

// Replacer atomically swaps a participant's selection set.
type Replacer interface {
	ReplaceSelection(ctx context.Context, userID string, ids []int64) error
}

// Registry validates selection requests and hands them to the store.
type Registry struct {
	store Replacer
}

// New creates a registry over store.
func New(store Replacer) *Registry {
	return &Registry{store: store}
}

// SetFinalSelection replaces the participant's selection with ids.
// Duplicates are collapsed. An empty set clears the selection. On error the
// previous selection is untouched.
func (r *Registry) SetFinalSelection(ctx context.Context, userID string, ids []int64) error {
	uniq := Normalize(ids)
	if len(uniq) > MaxSelections {
		metrics.RecordSelectionUpdate("rejected")
		return fmt.Errorf("%w: %d selected, at most %d allowed", ErrTooManySelections, len(uniq), MaxSelections)
	}
	if err := r.store.ReplaceSelection(ctx, userID, uniq); err != nil {
		metrics.RecordSelectionUpdate("error")
		return fmt.Errorf("replace selection for %q: %w", userID, err)
	}
	metrics.RecordSelectionUpdate("ok")
	return nil
}

// Normalize drops duplicate ids keeping first-seen order.
func Normalize(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
