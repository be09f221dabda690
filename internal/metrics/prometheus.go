//go:build !noprom

package metrics

import (
	"fmt"
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

type promRecorder struct {
	pipelineTotal   *prom.CounterVec
	pipelineSeconds *prom.HistogramVec
	toolTotal       *prom.CounterVec
	toolSeconds     *prom.HistogramVec
	cacheLookups    *prom.CounterVec
	queueDepth      prom.Gauge
}

func (p *promRecorder) IncPipelineTotal(stage string, success bool) {
	p.pipelineTotal.WithLabelValues(stage, fmt.Sprintf("%t", success)).Inc()
}

func (p *promRecorder) ObservePipelineSeconds(stage string, success bool, seconds float64) {
	p.pipelineSeconds.WithLabelValues(stage, fmt.Sprintf("%t", success)).Observe(seconds)
}

func (p *promRecorder) IncToolTotal(tool string, success bool) {
	p.toolTotal.WithLabelValues(tool, fmt.Sprintf("%t", success)).Inc()
}

func (p *promRecorder) ObserveToolSeconds(tool string, success bool, seconds float64) {
	p.toolSeconds.WithLabelValues(tool, fmt.Sprintf("%t", success)).Observe(seconds)
}

func (p *promRecorder) IncCacheLookup(hit bool) {
	p.cacheLookups.WithLabelValues(fmt.Sprintf("%t", hit)).Inc()
}

func (p *promRecorder) SetQueueDepth(depth int) {
	p.queueDepth.Set(float64(depth))
}

func enablePrometheus(addr string) error {
	registry := prom.NewRegistry()
	p := &promRecorder{
		pipelineTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "pipeline_stage_total",
			Help: "Total number of pipeline stage executions",
		}, []string{"stage", "success"}),
		pipelineSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Name:    "pipeline_stage_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: prom.DefBuckets,
		}, []string{"stage", "success"}),
		toolTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "tool_calls_total",
			Help: "Total number of tool handler calls",
		}, []string{"tool", "success"}),
		toolSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Name:    "tool_call_seconds",
			Help:    "Tool handler duration in seconds",
			Buckets: prom.DefBuckets,
		}, []string{"tool", "success"}),
		cacheLookups: prom.NewCounterVec(prom.CounterOpts{
			Name: "retrieval_cache_lookups_total",
			Help: "Retrieval cache lookups by hit/miss",
		}, []string{"hit"}),
		queueDepth: prom.NewGauge(prom.GaugeOpts{
			Name: "work_queue_depth",
			Help: "Unconsumed records in the durable work queue",
		}),
	}

	registry.MustRegister(p.pipelineTotal, p.pipelineSeconds, p.toolTotal, p.toolSeconds, p.cacheLookups, p.queueDepth)
	SetRecorder(p)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	go func() { _ = http.ListenAndServe(addr, mux) }()
	return nil
}
