package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/fieldtrack/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	ctx := context.Background()

	Convey("Given a new deduper", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
		So(d.Size(), ShouldEqual, 0)

		Convey("a new key is recorded and a repeat is reported", func() {
			So(d.SeenAndRecord(ctx, "a"), ShouldBeFalse)
			So(d.SeenAndRecord(ctx, "a"), ShouldBeTrue)
			So(d.Size(), ShouldEqual, 1)
		})

		Convey("Unrecord allows a retry", func() {
			d.SeenAndRecord(ctx, "a")
			d.Unrecord(ctx, "a")
			So(d.Size(), ShouldEqual, 0)
			So(d.SeenAndRecord(ctx, "a"), ShouldBeFalse)
		})

		Convey("the oldest key is evicted when full", func() {
			for _, k := range []string{"a", "b", "c", "d"} {
				So(d.SeenAndRecord(ctx, k), ShouldBeFalse)
			}
			So(d.Size(), ShouldEqual, 3)
			So(d.SeenAndRecord(ctx, "d"), ShouldBeTrue)
			So(d.SeenAndRecord(ctx, "a"), ShouldBeFalse)
		})
	})

	Convey("Concurrent recorders agree on a single winner per key", t, func() {
		d := dedupe.NewInMemoryDeduper()
		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			fresh int
		)
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if !d.SeenAndRecord(ctx, fmt.Sprintf("k%d", i%5)) {
					mu.Lock()
					fresh++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		So(fresh, ShouldEqual, 5)
	})

	Convey("FixKey normalizes the timestamp zone", t, func() {
		ist := time.FixedZone("IST", 5*3600+1800)
		at := time.Date(2026, 3, 2, 14, 30, 0, 0, ist)
		So(dedupe.FixKey("alice", at), ShouldEqual, dedupe.FixKey("alice", at.UTC()))
		So(dedupe.FixKey("alice", at), ShouldEqual, "alice|2026-03-02T09:00:00Z")
	})
}
