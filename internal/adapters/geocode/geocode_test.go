package geocode_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/fieldtrack/internal/adapters/cache/geocache"
	"github.com/okian/fieldtrack/internal/adapters/cache/snapshot"
	"github.com/okian/fieldtrack/internal/adapters/geocode"
	"github.com/okian/fieldtrack/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func newCache(t *testing.T) *geocache.Cache {
	c, err := geocache.New(context.Background(), snapshot.Nop{})
	if err != nil {
		t.Fatalf("geocache: %v", err)
	}
	return c
}

func serve(body string, status int, seen *http.Header) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			*seen = r.Header.Clone()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

type fakeProvider struct {
	name  string
	place model.Place
	err   error
	calls atomic.Int32
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Reverse(context.Context, float64, float64) (model.Place, error) {
	f.calls.Add(1)
	return f.place, f.err
}

func TestProviders(t *testing.T) {
	ctx := context.Background()

	Convey("Photon", t, func() {
		var hdr http.Header
		srv := serve(`{"features":[{"properties":{"name":"Shaniwar Wada","county":"Pune","state":"Maharashtra"}}]}`, 200, &hdr)
		defer srv.Close()

		p, err := geocode.NewPhoton(srv.URL, "fieldtrack-test", nil).Reverse(ctx, 18.5195, 73.8553)
		So(err, ShouldBeNil)
		So(p.Place, ShouldEqual, "Shaniwar Wada")
		So(p.Area, ShouldEqual, "Maharashtra")
		So(hdr.Get("User-Agent"), ShouldEqual, "fieldtrack-test")
		So(hdr.Get("Accept-Language"), ShouldEqual, "en")
	})

	Convey("Photon with no features", t, func() {
		srv := serve(`{"features":[]}`, 200, nil)
		defer srv.Close()
		_, err := geocode.NewPhoton(srv.URL, "", nil).Reverse(ctx, 0, 0)
		So(errors.Is(err, geocode.ErrNoResult), ShouldBeTrue)
	})

	Convey("Nominatim address", t, func() {
		srv := serve(`{"address":{"village":"Wagholi","state":"Maharashtra"}}`, 200, nil)
		defer srv.Close()
		p, err := geocode.NewNominatim(srv.URL, "", nil).Reverse(ctx, 18.58, 73.98)
		So(err, ShouldBeNil)
		So(p, ShouldResemble, model.Place{Place: "Wagholi", Area: "Maharashtra"})
	})

	Convey("Nominatim falls back to display_name", t, func() {
		srv := serve(`{"address":{"road":"FC Road"},"display_name":"FC Road, Shivajinagar, Pune, Maharashtra, India"}`, 200, nil)
		defer srv.Close()
		p, err := geocode.NewNominatim(srv.URL, "", nil).Reverse(ctx, 18.52, 73.84)
		So(err, ShouldBeNil)
		So(p.Place, ShouldEqual, "FC Road")
		So(p.Area, ShouldEqual, "Maharashtra")
	})

	Convey("Nominatim error payloads are not results", t, func() {
		srv := serve(`{"error":"Unable to geocode"}`, 200, nil)
		defer srv.Close()
		_, err := geocode.NewNominatim(srv.URL, "", nil).Reverse(ctx, 0, 0)
		So(errors.Is(err, geocode.ErrNoResult), ShouldBeTrue)
	})

	Convey("Google", t, func() {
		srv := serve(`{"status":"OK","results":[{"address_components":[
			{"long_name":"Koregaon Park","types":["sublocality_level_1","sublocality"]},
			{"long_name":"Pune","types":["locality"]},
			{"long_name":"Maharashtra","types":["administrative_area_level_1"]}]}]}`, 200, nil)
		defer srv.Close()

		Convey("needs a key", func() {
			_, err := geocode.NewGoogle(srv.URL, "", "", nil).Reverse(ctx, 0, 0)
			So(err, ShouldEqual, geocode.ErrDisabled)
		})

		Convey("combines city and state into the area", func() {
			p, err := geocode.NewGoogle(srv.URL, "k", "", nil).Reverse(ctx, 18.53, 73.89)
			So(err, ShouldBeNil)
			So(p, ShouldResemble, model.Place{Place: "Koregaon Park", Area: "Pune, Maharashtra"})
		})
	})

	Convey("HTTP errors are failures", t, func() {
		srv := serve(`oops`, 503, nil)
		defer srv.Close()
		_, err := geocode.NewPhoton(srv.URL, "", nil).Reverse(ctx, 0, 0)
		So(err, ShouldNotBeNil)
	})
}

func TestResolver(t *testing.T) {
	ctx := context.Background()

	Convey("Given a chain whose first provider hangs", t, func() {
		hang := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
		}))
		defer hang.Close()
		nominatim := serve(`{"address":{"city":"Pune","state":"Maharashtra"}}`, 200, nil)
		defer nominatim.Close()

		cache := newCache(t)
		r := geocode.NewResolver(cache, []geocode.Provider{
			geocode.Native{},
			geocode.NewPhoton(hang.URL, "", nil),
			geocode.NewNominatim(nominatim.URL, "", nil),
		}, geocode.WithTimeout(50*time.Millisecond))

		Convey("the next provider answers and the result is cached", func() {
			p := r.Resolve(ctx, 18.5204, 73.8567)
			So(p, ShouldResemble, model.Place{Place: "Pune", Area: "Maharashtra"})

			e, ok := cache.Get(18.52041, 73.85669)
			So(ok, ShouldBeTrue)
			So(e.Place, ShouldEqual, "Pune")
		})
	})

	Convey("When every provider fails", t, func() {
		cache := newCache(t)
		bad := &fakeProvider{name: "bad", err: errors.New("boom")}
		r := geocode.NewResolver(cache, []geocode.Provider{bad})

		p := r.Resolve(ctx, 1, 2)
		So(p.Resolved(), ShouldBeFalse)
		So(p.Label(1, 2), ShouldEqual, "1.0000, 2.0000")
		So(cache.Len(), ShouldEqual, 0)

		Convey("nothing is cached so the next call tries again", func() {
			r.Resolve(ctx, 1, 2)
			So(bad.calls.Load(), ShouldEqual, 2)
		})
	})

	Convey("Cache hits skip the providers", t, func() {
		cache := newCache(t)
		cache.Put(1, 2, "Cached", "")
		prov := &fakeProvider{name: "p", place: model.Place{Place: "Net"}}
		r := geocode.NewResolver(cache, []geocode.Provider{prov})

		So(r.Resolve(ctx, 1, 2).Place, ShouldEqual, "Cached")
		So(prov.calls.Load(), ShouldEqual, 0)
	})

	Convey("ResolveBatch applies every coordinate once", t, func() {
		cache := newCache(t)
		cache.Put(0, 0, "Origin", "")
		prov := &fakeProvider{name: "p", place: model.Place{Place: "Somewhere"}}
		r := geocode.NewResolver(cache, []geocode.Provider{prov}, geocode.WithBatch(2, time.Millisecond))

		coords := []model.Coordinate{{Lat: 0, Lng: 0}, {Lat: 1, Lng: 1}, {Lat: 2, Lng: 2}, {Lat: 3, Lng: 3}}
		var mu sync.Mutex
		got := map[model.Coordinate]string{}
		err := r.ResolveBatch(ctx, coords, func(c model.Coordinate, p model.Place) {
			mu.Lock()
			got[c] = p.Place
			mu.Unlock()
		})
		So(err, ShouldBeNil)
		So(len(got), ShouldEqual, 4)
		So(got[model.Coordinate{}], ShouldEqual, "Origin")
		So(got[model.Coordinate{Lat: 3, Lng: 3}], ShouldEqual, "Somewhere")
		So(prov.calls.Load(), ShouldEqual, 3)
	})
}

type blockingProvider struct {
	release chan struct{}
}

func (blockingProvider) Name() string { return "block" }

func (b blockingProvider) Reverse(ctx context.Context, _, _ float64) (model.Place, error) {
	select {
	case <-b.release:
		return model.Place{Place: "late"}, nil
	case <-ctx.Done():
		return model.Place{}, ctx.Err()
	}
}

func TestPrefetcher(t *testing.T) {
	Convey("A newer generation supersedes the running one", t, func() {
		bp := blockingProvider{release: make(chan struct{})}
		r := geocode.NewResolver(newCache(t), []geocode.Provider{bp})
		p := geocode.NewPrefetcher(r)

		var applied atomic.Int32
		done := make(chan error, 1)
		go func() {
			done <- p.Run(context.Background(), []model.Coordinate{{Lat: 5, Lng: 5}}, func(model.Coordinate, model.Place) {
				applied.Add(1)
			})
		}()

		So(waitFor(func() bool { return p.Generation() == 1 }), ShouldBeTrue)
		So(p.Run(context.Background(), nil, func(model.Coordinate, model.Place) {}), ShouldBeNil)
		So(p.Generation(), ShouldEqual, 2)

		So(<-done, ShouldNotBeNil)
		So(applied.Load(), ShouldEqual, 0)
		close(bp.release)
	})
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}
