package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/holdout/internal/domain/model"
	"github.com/okian/holdout/pkg/metrics"
)

// MemoryStore is an in-process Store.
//
// Writers for one participant are serialized by that participant's mutex,
// held across the admission check and the insert. The data maps are guarded
// by mu, which is only held for short copies and inserts so different
// participants proceed in parallel.
type MemoryStore struct {
	userLocks sync.Map // user id -> *sync.Mutex

	mu     sync.RWMutex
	nextID int64
	subs   []model.Submission
	evals  map[int64]*model.Evaluation
	byUser map[string][]int // user id -> indexes into subs
	closed bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		evals:  make(map[int64]*model.Evaluation),
		byUser: make(map[string][]int),
	}
}

func (s *MemoryStore) lockUser(userID string) func() {
	v, _ := s.userLocks.LoadOrStore(userID, &sync.Mutex{})
	m := v.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, sub model.Submission, eval *model.Evaluation, admit AdmitFunc) (model.Submission, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Milliseconds()))
	}()

	unlock := s.lockUser(sub.UserID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return model.Submission{}, fmt.Errorf("append cancelled: %w", err)
	}

	s.mu.RLock()
	closed := s.closed
	h := s.historyLocked(sub.UserID)
	s.mu.RUnlock()
	if closed {
		return model.Submission{}, ErrClosed
	}

	if admit != nil {
		if err := admit(h); err != nil {
			return model.Submission{}, err
		}
	}
	if h.HasLast() && sub.CreatedAt.Before(h.Last) {
		sub.CreatedAt = h.Last
	}

	s.mu.Lock()
	s.nextID++
	sub.ID = s.nextID
	s.subs = append(s.subs, sub)
	s.byUser[sub.UserID] = append(s.byUser[sub.UserID], len(s.subs)-1)
	if eval != nil {
		e := *eval
		e.SubmissionID = sub.ID
		s.evals[sub.ID] = &e
	}
	total := len(s.subs)
	s.mu.Unlock()

	metrics.UpdateRepositoryRecordsTotal(total)
	return sub, nil
}

// historyLocked requires mu held for reading.
func (s *MemoryStore) historyLocked(userID string) model.History {
	idx := s.byUser[userID]
	if len(idx) == 0 {
		return model.History{}
	}
	return model.History{Count: len(idx), Last: s.subs[idx[len(idx)-1]].CreatedAt}
}

// History implements Store.
func (s *MemoryStore) History(_ context.Context, userID string) (model.History, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.historyLocked(userID), nil
}

func (s *MemoryStore) recordLocked(i int) model.Record {
	r := model.Record{Submission: s.subs[i]}
	if e, ok := s.evals[s.subs[i].ID]; ok {
		cp := *e
		r.Evaluation = &cp
	}
	return r
}

// Records implements Store.
func (s *MemoryStore) Records(_ context.Context) ([]model.Record, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Record, len(s.subs))
	for i := range s.subs {
		out[i] = s.recordLocked(i)
	}
	return out, nil
}

// UserRecords implements Store.
func (s *MemoryStore) UserRecords(_ context.Context, userID string) ([]model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.byUser[userID]
	out := make([]model.Record, len(idx))
	for i, j := range idx {
		out[i] = s.recordLocked(j)
	}
	return out, nil
}

// ReplaceSelection implements Store.
func (s *MemoryStore) ReplaceSelection(_ context.Context, userID string, ids []int64) error {
	unlock := s.lockUser(userID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	owned := make(map[int64]*model.Evaluation, len(s.byUser[userID]))
	for _, i := range s.byUser[userID] {
		if e, ok := s.evals[s.subs[i].ID]; ok {
			owned[e.SubmissionID] = e
		}
	}
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if _, ok := owned[id]; !ok {
			return fmt.Errorf("%w: id %d for user %q", ErrSubmissionNotFound, id, userID)
		}
		want[id] = true
	}
	for id, e := range owned {
		e.SelectedForFinal = want[id]
	}
	return nil
}

// Stats implements Store.
func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Participants: len(s.byUser), Submissions: len(s.subs), Evaluations: len(s.evals)}, nil
}

// Close rejects further appends. Reads keep working.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
