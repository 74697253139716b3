package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/holdout/internal/domain/model"
)

var errDenied = errors.New("denied")

func quotaOf(n int) AdmitFunc {
	return func(h model.History) error {
		if h.Count >= n {
			return errDenied
		}
		return nil
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	Convey("Given an empty memory store", t, func() {
		s := NewMemoryStore()

		Convey("Append assigns increasing ids and records history", func() {
			a, err := s.Append(ctx, model.Submission{UserID: "alice", CreatedAt: base}, &model.Evaluation{PublicScore: 0.5}, nil)
			So(err, ShouldBeNil)
			b, err := s.Append(ctx, model.Submission{UserID: "alice", CreatedAt: base.Add(time.Minute)}, nil, nil)
			So(err, ShouldBeNil)
			So(b.ID, ShouldBeGreaterThan, a.ID)

			h, err := s.History(ctx, "alice")
			So(err, ShouldBeNil)
			So(h.Count, ShouldEqual, 2)
			So(h.Last, ShouldEqual, base.Add(time.Minute))

			recs, err := s.UserRecords(ctx, "alice")
			So(err, ShouldBeNil)
			So(recs, ShouldHaveLength, 2)
			So(recs[0].Evaluation, ShouldNotBeNil)
			So(recs[0].Evaluation.SubmissionID, ShouldEqual, a.ID)
			So(recs[1].Evaluation, ShouldBeNil)
		})

		Convey("A refusing admit function stores nothing", func() {
			_, err := s.Append(ctx, model.Submission{UserID: "bob", CreatedAt: base}, nil, quotaOf(0))
			So(errors.Is(err, errDenied), ShouldBeTrue)
			st, _ := s.Stats(ctx)
			So(st.Submissions, ShouldEqual, 0)
		})

		Convey("CreatedAt never goes backwards for a participant", func() {
			_, _ = s.Append(ctx, model.Submission{UserID: "alice", CreatedAt: base}, nil, nil)
			got, err := s.Append(ctx, model.Submission{UserID: "alice", CreatedAt: base.Add(-time.Hour)}, nil, nil)
			So(err, ShouldBeNil)
			So(got.CreatedAt, ShouldEqual, base)
		})

		Convey("Concurrent appends racing for the last slot admit exactly one", func() {
			_, _ = s.Append(ctx, model.Submission{UserID: "carol", CreatedAt: base}, nil, nil)

			var (
				wg       sync.WaitGroup
				admitted atomic.Int32
			)
			for i := 0; i < 32; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := s.Append(ctx, model.Submission{UserID: "carol", CreatedAt: base}, nil, quotaOf(2)); err == nil {
						admitted.Add(1)
					}
				}()
			}
			wg.Wait()

			So(admitted.Load(), ShouldEqual, 1)
			h, _ := s.History(ctx, "carol")
			So(h.Count, ShouldEqual, 2)
		})

		Convey("ReplaceSelection", func() {
			a, _ := s.Append(ctx, model.Submission{UserID: "alice", CreatedAt: base}, &model.Evaluation{}, nil)
			b, _ := s.Append(ctx, model.Submission{UserID: "alice", CreatedAt: base}, &model.Evaluation{}, nil)
			other, _ := s.Append(ctx, model.Submission{UserID: "bob", CreatedAt: base}, &model.Evaluation{}, nil)

			selected := func(user string) []int64 {
				recs, _ := s.UserRecords(ctx, user)
				var ids []int64
				for _, r := range recs {
					if r.Evaluation != nil && r.Evaluation.SelectedForFinal {
						ids = append(ids, r.Submission.ID)
					}
				}
				return ids
			}

			So(s.ReplaceSelection(ctx, "alice", []int64{a.ID}), ShouldBeNil)
			So(selected("alice"), ShouldResemble, []int64{a.ID})

			Convey("replaces the previous set", func() {
				So(s.ReplaceSelection(ctx, "alice", []int64{b.ID}), ShouldBeNil)
				So(selected("alice"), ShouldResemble, []int64{b.ID})
			})

			Convey("an empty set clears it", func() {
				So(s.ReplaceSelection(ctx, "alice", nil), ShouldBeNil)
				So(selected("alice"), ShouldBeEmpty)
			})

			Convey("foreign ids are rejected and nothing changes", func() {
				err := s.ReplaceSelection(ctx, "alice", []int64{b.ID, other.ID})
				So(errors.Is(err, ErrSubmissionNotFound), ShouldBeTrue)
				So(selected("alice"), ShouldResemble, []int64{a.ID})
			})
		})

		Convey("Close refuses further appends", func() {
			So(s.Close(), ShouldBeNil)
			_, err := s.Append(ctx, model.Submission{UserID: "alice", CreatedAt: base}, nil, nil)
			So(errors.Is(err, ErrClosed), ShouldBeTrue)
		})

		Convey("Records returns copies", func() {
			_, _ = s.Append(ctx, model.Submission{UserID: "alice", CreatedAt: base}, &model.Evaluation{PublicScore: 1}, nil)
			recs, _ := s.Records(ctx)
			recs[0].Evaluation.PublicScore = 42
			again, _ := s.Records(ctx)
			So(again[0].Evaluation.PublicScore, ShouldEqual, 1)
		})
	})
}
