package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options on a private registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should use default namespace and refresh interval", func() {
				So(manager, ShouldNotBeNil)
				So(manager.namespace, ShouldEqual, "fieldtrack")
				So(manager.RefreshInterval(), ShouldEqual, defaultRefreshInterval)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("ns"),
				WithSubsystem("sub"),
				WithMetricPrefix("pre"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithRefreshInterval(5*time.Second),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)
			manager.checkIns.Inc()

			Convey("Then metric names carry namespace, subsystem and prefix", func() {
				families, err := registry.Gather()
				So(err, ShouldBeNil)

				found := false
				for _, f := range families {
					if f.GetName() == "ns_sub_pre_check_ins_total" {
						found = true
						So(f.GetMetric()[0].GetLabel()[0].GetName(), ShouldEqual, "env")
					}
				}
				So(found, ShouldBeTrue)
				So(manager.RefreshInterval(), ShouldEqual, 5*time.Second)
			})
		})

		Convey("When empty options are supplied", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace(""),
				WithSubsystem(""),
				WithHistogramBuckets(nil),
				WithRefreshInterval(0),
				WithPrometheusRegistry(registry),
			)

			Convey("Then defaults are kept", func() {
				So(manager.namespace, ShouldEqual, "fieldtrack")
				So(manager.subsystem, ShouldEqual, "presence")
				So(manager.histogramBuckets, ShouldResemble, prometheus.DefBuckets)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recorder outcomes are recorded", func() {
			before := testutil.ToFloat64(globalManager.fixesAccepted.WithLabelValues("distance"))
			RecordFixReceived()
			RecordFixAccepted("distance")
			RecordFixDiscarded("stationary")
			RecordGateDistance(42)
			RecordSamplePersistError()
			UpdateRecordersActive(2)

			Convey("Then counters and gauges move", func() {
				So(testutil.ToFloat64(globalManager.fixesAccepted.WithLabelValues("distance")), ShouldEqual, before+1)
				So(testutil.ToFloat64(globalManager.recordersActive), ShouldEqual, 2)
			})
		})

		Convey("When geocode and cache metrics are recorded", func() {
			So(func() {
				RecordGeocodeRequest("photon", "ok")
				RecordGeocodeLatency("photon", 120)
				RecordGeocodeUnresolved()
				RecordCacheHit("geo")
				RecordCacheMiss("geo")
				UpdateCacheEntries("geo", 10)
			}, ShouldNotPanic)
			So(testutil.ToFloat64(globalManager.cacheEntries.WithLabelValues("geo")), ShouldEqual, 10)
		})

		Convey("When dashboard, queue, http and system metrics are recorded", func() {
			So(func() {
				RecordCheckIn()
				RecordCheckOut()
				UpdatePresenceRecords("live", 3)
				RecordPresenceBuildLatency(4)
				RecordTrailBuild(5)
				RecordRepositoryWriteLatency(1)
				RecordRepositoryQueryLatency(1)
				UpdateQueueSize(1)
				UpdateQueueCapacity(64)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				RecordHTTPRequest("/v1/presence", "GET", "200")
				RecordHTTPRequestDuration("/v1/presence", "GET", "200", 3)
				RecordErrorByComponent("recorder", "persist")
				RecordErrorByEndpoint("/v1/fixes", "POST", "bad_request")
				UpdateSystemMemoryUsage(1024)
				UpdateSystemGoroutineCount(12)
				RecordSystemGCPauseTime(0.3)
			}, ShouldNotPanic)
		})

		Convey("Then the registry exposes fieldtrack metrics", func() {
			families, err := GetRegistry().Gather()
			So(err, ShouldBeNil)
			names := make([]string, 0, len(families))
			for _, f := range families {
				names = append(names, f.GetName())
			}
			So(strings.Join(names, ","), ShouldContainSubstring, "fieldtrack_presence_fixes_received_total")
		})
	})
}

func TestConfigure(t *testing.T) {
	Convey("Given the global manager is configured from settings", t, func() {
		m := Configure(
			WithNamespace("ft"),
			WithCustomLabels(map[string]string{"region": "west"}),
			WithRefreshInterval(time.Minute),
		)
		defer Configure()

		So(m.RefreshInterval(), ShouldEqual, time.Minute)
		RecordCheckIn()

		Convey("Then recorded series use the configured name and labels", func() {
			families, err := GetRegistry().Gather()
			So(err, ShouldBeNil)

			var found bool
			for _, f := range families {
				if f.GetName() != "ft_presence_check_ins_total" {
					continue
				}
				found = true
				So(f.GetMetric()[0].GetCounter().GetValue(), ShouldEqual, 1)
				So(f.GetMetric()[0].GetLabel()[0].GetName(), ShouldEqual, "region")
				So(f.GetMetric()[0].GetLabel()[0].GetValue(), ShouldEqual, "west")
			}
			So(found, ShouldBeTrue)
		})
	})
}
