package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/holdout/internal/adapters/dataset"
	"github.com/okian/holdout/internal/adapters/export"
	"github.com/okian/holdout/internal/adapters/repository"
	"github.com/okian/holdout/internal/domain/admission"
	"github.com/okian/holdout/internal/domain/leaderboard"
	"github.com/okian/holdout/internal/domain/model"
	"github.com/okian/holdout/internal/domain/scoring"
	"github.com/okian/holdout/internal/domain/selection"
	"github.com/okian/holdout/internal/domain/stage"
	"github.com/okian/holdout/pkg/logger"
)

var (
	solution = scoring.Solution{
		{ID: "a", Value: 1, Public: true},
		{ID: "b", Value: 0, Public: true},
		{ID: "c", Value: 1, Public: false},
		{ID: "d", Value: 0, Public: false},
	}

	perfect       = "Id,Predicted\na,1\nb,0\nc,1\nd,0\n" // public 1, private 1
	publicOnly    = "Id,Predicted\na,1\nb,0\nc,0\nd,0\n" // public 1, private 0.5
	privateOnly   = "Id,Predicted\na,1\nb,1\nc,1\nd,0\n" // public 0.5, private 1
	allWrong      = "Id,Predicted\na,0\nb,1\nc,0\nd,1\n"
	missingRecord = "Id,Predicted\na,1\nb,0\nc,1\n"

	openAt      = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	closeAt     = openAt.Add(10 * 24 * time.Hour)
	terminateAt = closeAt.Add(5 * 24 * time.Hour)

	alice    = model.Participant{UserID: "alice"}
	bob      = model.Participant{UserID: "bob"}
	admin    = model.Participant{UserID: "prof", Role: model.RoleAdministrator}
	baseline = model.Participant{UserID: "baseline", Role: model.RoleBaseline}
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeArtifacts struct {
	mu      sync.Mutex
	saved   []string
	removed []string
}

func (f *fakeArtifacts) Save(_ context.Context, userID string, _ time.Time, r io.Reader) (string, error) {
	if _, err := io.ReadAll(r); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ref := userID + "-" + string(rune('0'+len(f.saved)))
	f.saved = append(f.saved, ref)
	return ref, nil
}

func (f *fakeArtifacts) Remove(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, ref)
	return nil
}

// staleStore reports an empty history so the pre-check always passes and
// only the check inside Append can refuse.
type staleStore struct {
	*repository.MemoryStore
}

func (staleStore) History(context.Context, string) (model.History, error) {
	return model.History{}, nil
}

type fakeExporter struct {
	stages chan string
}

func (f *fakeExporter) Export(_ context.Context, st string) (export.Result, error) {
	f.stages <- st
	return export.Result{RunID: "run"}, nil
}

func newService(c *clock, store repository.Store, opts ...Option) *Service {
	schedule, err := stage.NewSchedule(openAt, closeAt, terminateAt)
	if err != nil {
		panic(err)
	}
	opts = append([]Option{WithClock(c.Now), WithLogger(logger.Nop())}, opts...)
	return New(schedule, store, solution, opts...)
}

func submit(s *Service, p model.Participant, body string) (SubmissionResult, error) {
	return s.AttemptSubmission(context.Background(), p, "predictions.csv", strings.NewReader(body), "")
}

func TestAttemptSubmission(t *testing.T) {
	Convey("Given a competition with a ten minute interval and a quota of three", t, func() {
		ctx := context.Background()
		c := &clock{t: openAt.Add(time.Hour)}
		store := repository.NewMemoryStore()
		svc := newService(c, store, WithAdmission(
			admission.WithMinInterval(10*time.Minute),
			admission.WithMaxQuota(3),
		))

		Convey("an accepted submission returns its id, score and remaining quota", func() {
			res, err := submit(svc, alice, publicOnly)
			So(err, ShouldBeNil)
			So(res.SubmissionID, ShouldEqual, 1)
			So(res.PublicScore, ShouldEqual, 1.0)
			So(res.ScoreDisplay, ShouldEqual, "1.000")
			So(res.Remaining, ShouldEqual, 2)
			So(res.DryRun, ShouldBeFalse)
			So(res.SubmittedAt, ShouldEqual, c.Now())
		})

		Convey("a second submission inside the interval is rate limited", func() {
			_, err := submit(svc, alice, perfect)
			So(err, ShouldBeNil)
			c.Advance(4 * time.Minute)

			_, err = submit(svc, alice, perfect)
			So(errors.Is(err, admission.ErrRateLimited), ShouldBeTrue)
			var deny *admission.DenyError
			So(errors.As(err, &deny), ShouldBeTrue)
			So(deny.RetryAfter, ShouldEqual, 6*time.Minute)

			h, _ := store.History(ctx, alice.UserID)
			So(h.Count, ShouldEqual, 1)

			Convey("and accepted once the interval has passed", func() {
				c.Advance(6 * time.Minute)
				_, err := submit(svc, alice, perfect)
				So(err, ShouldBeNil)
			})
		})

		Convey("the quota caps the number of stored submissions", func() {
			for i := 0; i < 3; i++ {
				_, err := submit(svc, alice, perfect)
				So(err, ShouldBeNil)
				c.Advance(time.Hour)
			}
			_, err := submit(svc, alice, perfect)
			So(errors.Is(err, admission.ErrQuotaExceeded), ShouldBeTrue)

			listing, err := svc.Submissions(ctx, alice)
			So(err, ShouldBeNil)
			So(listing.Remaining, ShouldEqual, 0)
			So(listing.Submissions, ShouldHaveLength, 3)
		})

		Convey("participants are limited independently", func() {
			_, err := submit(svc, alice, perfect)
			So(err, ShouldBeNil)
			_, err = submit(svc, bob, perfect)
			So(err, ShouldBeNil)
		})

		Convey("uploads before the open time are refused", func() {
			c.Set(openAt.Add(-time.Second))
			_, err := submit(svc, alice, perfect)
			So(errors.Is(err, admission.ErrStageClosed), ShouldBeTrue)
		})

		Convey("uploads during CLOSED are accepted", func() {
			c.Set(closeAt)
			_, err := submit(svc, alice, perfect)
			So(err, ShouldBeNil)
		})

		Convey("uploads after termination are refused", func() {
			c.Set(terminateAt)
			_, err := submit(svc, alice, perfect)
			So(errors.Is(err, admission.ErrStageClosed), ShouldBeTrue)
		})

		Convey("a file without the csv extension is refused", func() {
			_, err := svc.AttemptSubmission(ctx, alice, "predictions.txt", strings.NewReader(perfect), "")
			So(errors.Is(err, dataset.ErrUnsupportedFormat), ShouldBeTrue)
		})

		Convey("an invalid file is refused and not counted", func() {
			_, err := submit(svc, alice, missingRecord)
			So(errors.Is(err, dataset.ErrInvalidSubmission), ShouldBeTrue)

			h, _ := store.History(ctx, alice.UserID)
			So(h.Count, ShouldEqual, 0)

			_, err = submit(svc, alice, perfect)
			So(err, ShouldBeNil)
		})

		Convey("administrator uploads are scored but not stored", func() {
			c.Set(openAt.Add(-time.Hour))
			for i := 0; i < 5; i++ {
				res, err := submit(svc, admin, privateOnly)
				So(err, ShouldBeNil)
				So(res.DryRun, ShouldBeTrue)
				So(res.SubmissionID, ShouldEqual, 0)
				So(res.PublicScore, ShouldEqual, 0.5)
				So(res.Remaining, ShouldEqual, -1)
			}
			st, _ := store.Stats(ctx)
			So(st.Submissions, ShouldEqual, 0)
		})

		Convey("the baseline bypasses gating and is stored", func() {
			c.Set(openAt.Add(-time.Hour))
			for i := 0; i < 5; i++ {
				res, err := submit(svc, baseline, perfect)
				So(err, ShouldBeNil)
				So(res.DryRun, ShouldBeFalse)
				So(res.Remaining, ShouldEqual, -1)
			}
			h, _ := store.History(ctx, baseline.UserID)
			So(h.Count, ShouldEqual, 5)
		})
	})
}

func TestIdempotencyKey(t *testing.T) {
	Convey("Given a running competition without a rate limit", t, func() {
		ctx := context.Background()
		c := &clock{t: openAt.Add(time.Hour)}
		store := repository.NewMemoryStore()
		svc := newService(c, store, WithAdmission(admission.WithMinInterval(0)))

		first, err := svc.AttemptSubmission(ctx, alice, "p.csv", strings.NewReader(perfect), "k1")
		So(err, ShouldBeNil)

		Convey("repeating the key reports the original submission", func() {
			_, err := svc.AttemptSubmission(ctx, alice, "p.csv", strings.NewReader(perfect), "k1")
			var dup *DuplicateError
			So(errors.As(err, &dup), ShouldBeTrue)
			So(dup.SubmissionID, ShouldEqual, first.SubmissionID)
			So(errors.Is(err, ErrDuplicateSubmission), ShouldBeTrue)

			h, _ := store.History(ctx, alice.UserID)
			So(h.Count, ShouldEqual, 1)
		})

		Convey("keys are scoped per participant", func() {
			_, err := svc.AttemptSubmission(ctx, bob, "p.csv", strings.NewReader(perfect), "k1")
			So(err, ShouldBeNil)
		})

		Convey("an administrator dry run does not consume its key", func() {
			for i := 0; i < 2; i++ {
				res, err := svc.AttemptSubmission(ctx, admin, "p.csv", strings.NewReader(perfect), "k3")
				So(err, ShouldBeNil)
				So(res.DryRun, ShouldBeTrue)
			}
		})

		Convey("a failed attempt releases its key", func() {
			_, err := svc.AttemptSubmission(ctx, alice, "p.csv", strings.NewReader(missingRecord), "k2")
			So(err, ShouldNotBeNil)
			_, err = svc.AttemptSubmission(ctx, alice, "p.csv", strings.NewReader(perfect), "k2")
			So(err, ShouldBeNil)
		})
	})
}

func TestArtifacts(t *testing.T) {
	Convey("Given a store whose history looks empty to the pre-check", t, func() {
		c := &clock{t: openAt.Add(time.Hour)}
		arts := &fakeArtifacts{}
		svc := newService(c, staleStore{repository.NewMemoryStore()},
			WithArtifacts(arts),
			WithAdmission(admission.WithMinInterval(time.Hour)),
		)

		_, err := submit(svc, alice, perfect)
		So(err, ShouldBeNil)
		So(arts.saved, ShouldHaveLength, 1)

		Convey("an upload refused at commit time has its artifact removed", func() {
			_, err := submit(svc, alice, perfect)
			So(errors.Is(err, admission.ErrRateLimited), ShouldBeTrue)
			So(arts.saved, ShouldHaveLength, 2)
			So(arts.removed, ShouldResemble, []string{arts.saved[1]})
		})
	})
}

func TestConcurrentSubmissions(t *testing.T) {
	Convey("Given many simultaneous uploads from one participant", t, func() {
		c := &clock{t: openAt.Add(time.Hour)}
		store := repository.NewMemoryStore()
		svc := newService(c, store, WithAdmission(admission.WithMinInterval(time.Minute)))

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			accepted int
		)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := submit(svc, alice, perfect); err == nil {
					mu.Lock()
					accepted++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		Convey("exactly one is admitted", func() {
			So(accepted, ShouldEqual, 1)
			h, _ := store.History(context.Background(), alice.UserID)
			So(h.Count, ShouldEqual, 1)
		})
	})
}

func TestLeaderboards(t *testing.T) {
	Convey("Given two participants and a baseline", t, func() {
		ctx := context.Background()
		c := &clock{t: openAt.Add(time.Hour)}
		store := repository.NewMemoryStore()
		svc := newService(c, store,
			WithAdmission(admission.WithMinInterval(time.Minute)),
			WithLeaderboard(leaderboard.WithBaseline(baseline.UserID)),
		)

		s1, err := submit(svc, alice, publicOnly)
		So(err, ShouldBeNil)
		c.Advance(10 * time.Minute)
		s2, err := submit(svc, alice, privateOnly)
		So(err, ShouldBeNil)
		s3, err := submit(svc, bob, perfect)
		So(err, ShouldBeNil)
		_, err = submit(svc, baseline, allWrong)
		So(err, ShouldBeNil)

		Convey("the live board is hidden from participants before opening", func() {
			c.Set(openAt.Add(-time.Minute))
			_, err := svc.LiveLeaderboard(ctx, &alice)
			So(err, ShouldEqual, ErrLeaderboardUnavailable)
			_, err = svc.LiveLeaderboard(ctx, nil)
			So(err, ShouldEqual, ErrLeaderboardUnavailable)

			board, err := svc.LiveLeaderboard(ctx, &admin)
			So(err, ShouldBeNil)
			So(board.Stage, ShouldEqual, "READY")
		})

		Convey("the live board ranks by best public score", func() {
			board, err := svc.LiveLeaderboard(ctx, nil)
			So(err, ShouldBeNil)
			So(board.Kind, ShouldEqual, "live")
			So(board.Stage, ShouldEqual, "OPEN")
			So(board.Entries, ShouldHaveLength, 3)

			So(board.Entries[0].UserID, ShouldEqual, "alice")
			So(board.Entries[0].SubmissionID, ShouldEqual, s1.SubmissionID)
			So(board.Entries[0].Rank, ShouldEqual, 1)
			So(board.Entries[1].UserID, ShouldEqual, "bob")
			So(board.Entries[1].Rank, ShouldEqual, 1)
			So(board.Entries[2].UserID, ShouldEqual, "baseline")
			So(board.Entries[2].Rank, ShouldEqual, 2)
			So(board.Entries[2].Baseline, ShouldBeTrue)
		})

		Convey("the final board is administrator only", func() {
			_, err := svc.FinalLeaderboard(ctx, alice)
			So(err, ShouldEqual, ErrForbidden)
		})

		Convey("without a selection the best public submission counts", func() {
			board, err := svc.FinalLeaderboard(ctx, admin)
			So(err, ShouldBeNil)
			So(board.Provisional, ShouldBeTrue)
			So(board.Entries[0].UserID, ShouldEqual, "bob")
			So(board.Entries[0].Score, ShouldEqual, 1.0)
			So(board.Entries[1].UserID, ShouldEqual, "alice")
			So(board.Entries[1].Score, ShouldEqual, 0.5)
			So(board.Entries[1].SubmissionID, ShouldEqual, s1.SubmissionID)
		})

		Convey("a selection decides the final score", func() {
			So(svc.SetFinalSelection(ctx, alice, []int64{s2.SubmissionID, s2.SubmissionID}), ShouldBeNil)

			board, err := svc.FinalLeaderboard(ctx, admin)
			So(err, ShouldBeNil)
			So(board.Entries[0].UserID, ShouldEqual, "alice")
			So(board.Entries[0].Rank, ShouldEqual, 1)
			So(board.Entries[0].SubmissionID, ShouldEqual, s2.SubmissionID)
			So(board.Entries[1].UserID, ShouldEqual, "bob")
			So(board.Entries[1].Rank, ShouldEqual, 1)

			listing, err := svc.Submissions(ctx, alice)
			So(err, ShouldBeNil)
			So(listing.Submissions[0].Selected, ShouldBeFalse)
			So(listing.Submissions[1].Selected, ShouldBeTrue)
		})

		Convey("submissions made after closing never reach the final board", func() {
			c.Set(closeAt.Add(time.Hour))
			late, err := submit(svc, bob, allWrong)
			So(err, ShouldBeNil)
			So(svc.SetFinalSelection(ctx, bob, []int64{late.SubmissionID}), ShouldBeNil)

			board, err := svc.FinalLeaderboard(ctx, admin)
			So(err, ShouldBeNil)
			So(board.Entries[0].UserID, ShouldEqual, "bob")
			So(board.Entries[0].SubmissionID, ShouldEqual, s3.SubmissionID)
		})

		Convey("the final board is settled after termination", func() {
			c.Set(terminateAt)
			board, err := svc.FinalLeaderboard(ctx, admin)
			So(err, ShouldBeNil)
			So(board.Provisional, ShouldBeFalse)
			So(board.Stage, ShouldEqual, "TERMINATED")

			live, err := svc.LiveLeaderboard(ctx, &alice)
			So(err, ShouldBeNil)
			So(live.Entries, ShouldHaveLength, 3)
		})

		Convey("selecting more than two submissions is refused", func() {
			err := svc.SetFinalSelection(ctx, alice, []int64{s1.SubmissionID, s2.SubmissionID, s3.SubmissionID})
			So(errors.Is(err, selection.ErrTooManySelections), ShouldBeTrue)
		})

		Convey("selecting another participant's submission is refused", func() {
			err := svc.SetFinalSelection(ctx, alice, []int64{s3.SubmissionID})
			So(errors.Is(err, repository.ErrSubmissionNotFound), ShouldBeTrue)
		})
	})
}

func TestStartSchedulesExports(t *testing.T) {
	Convey("Given a service shortly before the close time", t, func() {
		ctx := context.Background()
		c := &clock{t: closeAt.Add(-200 * time.Millisecond)}
		exp := &fakeExporter{stages: make(chan string, 2)}
		svc := newService(c, repository.NewMemoryStore(), WithExporter(exp))

		So(svc.Start(ctx), ShouldBeNil)
		So(svc.Start(ctx), ShouldBeNil)
		So(svc.GetStats(ctx)["pendingTasks"], ShouldEqual, 2)

		Convey("the close export runs when the time comes", func() {
			select {
			case st := <-exp.stages:
				So(st, ShouldEqual, "CLOSED")
			case <-time.After(3 * time.Second):
				So("close export did not run", ShouldBeEmpty)
			}
			So(svc.Stop(ctx), ShouldBeNil)
		})

		Reset(func() {
			_ = svc.Stop(ctx)
		})
	})
}

func TestStageInfo(t *testing.T) {
	Convey("Stage reports the clock", t, func() {
		c := &clock{t: closeAt}
		svc := newService(c, repository.NewMemoryStore())
		info := svc.Stage(context.Background())
		So(info.Stage, ShouldEqual, "CLOSED")
		So(info.CanSubmit, ShouldBeTrue)
		So(info.CloseTime, ShouldEqual, closeAt)
	})
}

func TestNonFinitePredictions(t *testing.T) {
	Convey("Given an rmse competition where lower is better", t, func() {
		ctx := context.Background()
		c := &clock{t: openAt.Add(time.Hour)}
		store := repository.NewMemoryStore()
		rmse, err := scoring.LookupMetric("rmse")
		So(err, ShouldBeNil)
		svc := newService(c, store,
			WithScorer(scoring.NewHoldoutScorer(scoring.WithMetric(rmse))),
			WithAdmission(admission.WithMinInterval(0)),
			WithLeaderboard(leaderboard.WithOrder(leaderboard.LowerIsBetter)),
		)

		for name, body := range map[string]string{
			"NaN":  "Id,Predicted\na,NaN\nb,0\nc,1\nd,0\n",
			"Inf":  "Id,Predicted\na,1\nb,Inf\nc,1\nd,0\n",
			"-Inf": "Id,Predicted\na,1\nb,0\nc,-Inf\nd,0\n",
		} {
			body := body
			Convey("a "+name+" prediction is refused and not counted", func() {
				_, err := submit(svc, alice, body)
				So(errors.Is(err, dataset.ErrInvalidSubmission), ShouldBeTrue)

				h, _ := store.History(ctx, alice.UserID)
				So(h.Count, ShouldEqual, 0)
			})
		}

		Convey("the live board stays rankable and serializable", func() {
			_, err := submit(svc, alice, "Id,Predicted\na,NaN\nb,0\nc,1\nd,0\n")
			So(err, ShouldNotBeNil)
			_, err = submit(svc, alice, perfect)
			So(err, ShouldBeNil)
			_, err = submit(svc, bob, allWrong)
			So(err, ShouldBeNil)

			board, err := svc.LiveLeaderboard(ctx, nil)
			So(err, ShouldBeNil)
			So(board.Entries, ShouldHaveLength, 2)
			So(board.Entries[0].UserID, ShouldEqual, "alice")
			So(board.Entries[0].Score, ShouldEqual, 0)
			So(board.Entries[1].UserID, ShouldEqual, "bob")
			So(board.Entries[1].Score, ShouldEqual, 1)

			_, err = json.Marshal(board)
			So(err, ShouldBeNil)
		})
	})
}
