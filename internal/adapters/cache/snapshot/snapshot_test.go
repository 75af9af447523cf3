package snapshot_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/fieldtrack/internal/adapters/cache/snapshot"
	. "github.com/smartystreets/goconvey/convey"
)

func TestFileStore(t *testing.T) {
	ctx := context.Background()

	Convey("Given a file store in a temp dir", t, func() {
		dir := filepath.Join(t.TempDir(), "cache")
		store, err := snapshot.NewFileStore(dir)
		So(err, ShouldBeNil)

		Convey("missing snapshots report ErrNotFound", func() {
			_, err := store.Load(ctx, "geo")
			So(err, ShouldEqual, snapshot.ErrNotFound)
		})

		Convey("a saved snapshot loads back and leaves no temp files", func() {
			So(store.Save(ctx, "geo", []byte(`[{"key":"1.0000,2.0000"}]`)), ShouldBeNil)
			So(store.Save(ctx, "geo", []byte(`[]`)), ShouldBeNil)

			data, err := store.Load(ctx, "geo")
			So(err, ShouldBeNil)
			So(string(data), ShouldEqual, `[]`)

			entries, err := os.ReadDir(dir)
			So(err, ShouldBeNil)
			So(len(entries), ShouldEqual, 1)
		})

		Convey("names with separators stay inside the dir", func() {
			So(store.Save(ctx, "trail:alice/../x", []byte(`{}`)), ShouldBeNil)
			entries, err := os.ReadDir(dir)
			So(err, ShouldBeNil)
			So(len(entries), ShouldEqual, 1)
		})
	})
}

func TestNop(t *testing.T) {
	Convey("Nop never returns data", t, func() {
		var s snapshot.Store = snapshot.Nop{}
		So(s.Save(context.Background(), "x", []byte("y")), ShouldBeNil)
		_, err := s.Load(context.Background(), "x")
		So(err, ShouldEqual, snapshot.ErrNotFound)
	})
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()

	Convey("Given a redis store without a reachable server", t, func() {
		client := redis.NewClient(&redis.Options{
			Addr:        "127.0.0.1:1",
			DialTimeout: 200 * time.Millisecond,
			MaxRetries:  -1,
		})
		defer client.Close()
		store := snapshot.NewRedisStore(client, "", time.Minute)

		Convey("load fails with a transport error, not a miss", func() {
			_, err := store.Load(ctx, "geocache")
			So(err, ShouldNotBeNil)
			So(errors.Is(err, snapshot.ErrNotFound), ShouldBeFalse)
		})

		Convey("save reports the failure", func() {
			So(store.Save(ctx, "geocache", []byte("{}")), ShouldNotBeNil)
		})

		Convey("dialing fails the ping", func() {
			_, err := snapshot.DialRedis(ctx, "127.0.0.1:1", "", 0)
			So(err, ShouldNotBeNil)
		})
	})
}
