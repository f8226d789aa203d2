// Package metrics registers the Prometheus collectors for the alarm loop
// and schedule generation. Observe helpers are no-ops until Init runs.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricPrefix = "postcal_"

const (
	EffectSound        = "sound"
	EffectNotification = "notification"
	EffectPanic        = "panic"
)

var (
	registerOnce sync.Once
	registry     *prometheus.Registry

	alarmFired        prometheus.Counter
	alarmEffectErrors *prometheus.CounterVec
	alarmOverdue      prometheus.Gauge
	snapshotSize      prometheus.Gauge
	snapshotReloads   *prometheus.CounterVec
	notifyDeliveries  *prometheus.CounterVec
	scheduleGenerated *prometheus.CounterVec
)

// Init creates and registers all collectors on a dedicated registry that
// also carries the Go runtime and process collectors.
func Init() {
	registerOnce.Do(func() {
		registry = prometheus.NewRegistry()

		alarmFired = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "alarm_fired_total",
			Help: "Alarms that entered the firing state",
		})
		alarmEffectErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarm_side_effect_errors_total",
				Help: "Failed alarm side effects by effect",
			},
			[]string{"effect"},
		)
		alarmOverdue = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "alarm_overdue",
			Help: "Active alarms whose firing window passed without firing, at the last tick",
		})
		snapshotSize = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "alarm_snapshot_size",
			Help: "Alarms in the currently loaded snapshot",
		})
		snapshotReloads = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarm_snapshot_reloads_total",
				Help: "Alarm snapshot reloads by result",
			},
			[]string{"result"},
		)
		notifyDeliveries = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notification_deliveries_total",
				Help: "Notification delivery attempts by result",
			},
			[]string{"result"},
		)
		scheduleGenerated = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "schedule_generated_total",
				Help: "Generated recurrence schedules by frequency",
			},
			[]string{"frequency"},
		)

		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			alarmFired,
			alarmEffectErrors,
			alarmOverdue,
			snapshotSize,
			snapshotReloads,
			notifyDeliveries,
			scheduleGenerated,
		)
	})
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func IncAlarmFired() {
	if alarmFired != nil {
		alarmFired.Inc()
	}
}

func IncAlarmEffectError(effect string) {
	if alarmEffectErrors != nil {
		alarmEffectErrors.WithLabelValues(effect).Inc()
	}
}

func SetAlarmOverdue(n int) {
	if alarmOverdue != nil {
		alarmOverdue.Set(float64(n))
	}
}

func ObserveSnapshotReload(size int, err error) {
	if snapshotReloads == nil {
		return
	}
	if err != nil {
		snapshotReloads.WithLabelValues("error").Inc()
		return
	}
	snapshotReloads.WithLabelValues("success").Inc()
	snapshotSize.Set(float64(size))
}

func ObserveNotification(err error) {
	if notifyDeliveries == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	notifyDeliveries.WithLabelValues(result).Inc()
}

func IncScheduleGenerated(frequency string) {
	if scheduleGenerated != nil {
		scheduleGenerated.WithLabelValues(frequency).Inc()
	}
}
