package handlers

import (
	"bytes"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/valyala/fasthttp"
)

var (
	keysGenerated       *prometheus.CounterVec
	verifications       *prometheus.CounterVec
	activations         *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	metricsOnce sync.Once
)

// InitPrometheusMetrics registers the service metrics with the default
// registry. Safe to call more than once.
func InitPrometheusMetrics() {
	metricsOnce.Do(func() {
		keysGenerated = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "licenseserver",
				Name:      "keys_generated_total",
				Help:      "License keys issued, by key prefix and issuing path.",
			},
			[]string{"prefix", "public"},
		)
		verifications = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "licenseserver",
				Name:      "verifications_total",
				Help:      "License key verifications, by outcome.",
			},
			[]string{"reason"},
		)
		activations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "licenseserver",
				Name:      "activations_total",
				Help:      "License key activation attempts, by outcome.",
			},
			[]string{"outcome"},
		)
		HTTPRequestDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "licenseserver",
				Name:      "http_request_duration_seconds",
				Help:      "Histogram of HTTP request durations in seconds.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route", "status"},
		)
		prometheus.MustRegister(keysGenerated, verifications, activations, HTTPRequestDuration)
	})
}

// countGenerated labels by the key's prefix; key types are free text.
func countGenerated(key string, public bool) {
	if keysGenerated == nil {
		return
	}
	prefix, _, _ := strings.Cut(key, "-")
	p := "false"
	if public {
		p = "true"
	}
	keysGenerated.WithLabelValues(prefix, p).Inc()
}

func countVerification(reason string) {
	if verifications != nil {
		verifications.WithLabelValues(reason).Inc()
	}
}

func countActivation(outcome string) {
	if activations != nil {
		activations.WithLabelValues(outcome).Inc()
	}
}

// MetricsHandler serves the default registry in the Prometheus text format.
func MetricsHandler(gatherer prometheus.Gatherer) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		families, err := gatherer.Gather()
		if err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			ctx.SetBodyString("failed to gather metrics")
			return
		}

		var buf bytes.Buffer
		if err := encodeFamilies(&buf, families); err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			ctx.SetBodyString("failed to encode metrics")
			return
		}

		ctx.SetContentType(string(expfmt.NewFormat(expfmt.TypeTextPlain)))
		ctx.Response.Header.Set("Cache-Control", "no-store")
		ctx.SetBody(buf.Bytes())
	}
}

func encodeFamilies(buf *bytes.Buffer, families []*dto.MetricFamily) error {
	encoder := expfmt.NewEncoder(buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
