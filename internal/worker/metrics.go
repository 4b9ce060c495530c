package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry           *prometheus.Registry
	jobsTotal          *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
	activeJobs         prometheus.Gauge
	stageFailuresTotal *prometheus.CounterVec
	outputBytesTotal   prometheus.Counter
	outputPixelsTotal  prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resized_worker_jobs_total",
			Help: "Total worker jobs by source type and final status.",
		}, []string{"source_type", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "resized_worker_job_duration_seconds",
			Help:    "Total processing duration for each worker job.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source_type", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "resized_worker_active_jobs",
			Help: "Current number of pipelines running in the worker.",
		}),
		stageFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resized_worker_stage_failures_total",
			Help: "Failed pipeline runs by the stage blamed and the failure kind.",
		}, []string{"stage", "kind"}),
		outputBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "resized_worker_output_bytes_total",
			Help: "Total encoded bytes written by successful jobs.",
		}),
		outputPixelsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "resized_worker_output_pixels_total",
			Help: "Total pixels in the outputs of successful jobs.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.stageFailuresTotal,
		m.outputBytesTotal,
		m.outputPixelsTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
