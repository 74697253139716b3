package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	dedupe "github.com/okian/holdout/internal/domain/dedupe"
)

func TestInMemoryDeduper(t *testing.T) {
	ctx := context.Background()

	Convey("Given a new InMemoryDeduper", t, func() {
		d := dedupe.NewInMemoryDeduper()
		So(d.Size(), ShouldEqual, 0)

		Convey("A fresh key is claimed", func() {
			out, _ := d.Claim(ctx, "alice", "k1")
			So(out, ShouldEqual, dedupe.Claimed)
			So(d.Size(), ShouldEqual, 1)

			Convey("and a second claim sees it in flight", func() {
				out, _ := d.Claim(ctx, "alice", "k1")
				So(out, ShouldEqual, dedupe.InFlight)
			})

			Convey("and after completion the submission id is replayed", func() {
				d.Complete(ctx, "alice", "k1", 7)
				out, id := d.Claim(ctx, "alice", "k1")
				So(out, ShouldEqual, dedupe.Done)
				So(id, ShouldEqual, 7)
			})

			Convey("and a release makes it claimable again", func() {
				d.Release(ctx, "alice", "k1")
				So(d.Size(), ShouldEqual, 0)
				out, _ := d.Claim(ctx, "alice", "k1")
				So(out, ShouldEqual, dedupe.Claimed)
			})
		})

		Convey("Keys are scoped per participant", func() {
			d.Claim(ctx, "alice", "k1")
			out, _ := d.Claim(ctx, "bob", "k1")
			So(out, ShouldEqual, dedupe.Claimed)
		})

		Convey("Concurrent claims of one key have a single winner", func() {
			var (
				wg  sync.WaitGroup
				mu  sync.Mutex
				won int
			)
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if out, _ := d.Claim(ctx, "alice", "same"); out == dedupe.Claimed {
						mu.Lock()
						won++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			So(won, ShouldEqual, 1)
		})
	})

	Convey("Given a bounded deduper", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))

		Convey("the oldest completed key is evicted first", func() {
			d.Claim(ctx, "u", "running")
			for i := 0; i < 3; i++ {
				k := fmt.Sprintf("k%d", i)
				d.Claim(ctx, "u", k)
				d.Complete(ctx, "u", k, int64(i))
			}
			So(d.Size(), ShouldEqual, 3)

			out, _ := d.Claim(ctx, "u", "running")
			So(out, ShouldEqual, dedupe.InFlight)
			out, _ = d.Claim(ctx, "u", "k0")
			So(out, ShouldEqual, dedupe.Claimed)
		})
	})
}
