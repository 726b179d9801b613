package main

import (
	"errors"

	resteditor "github.com/codepad-dev/editor-gateway/cmd/editor-gateway/rest_editor"
	"github.com/codepad-dev/editor-gateway/forward"
	"github.com/codepad-dev/editor-gateway/language"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	ginprometheus "github.com/zsais/go-gin-prometheus"
)

const (
	metricsNamespace  = "editor_gateway"
	upstreamSubsystem = "upstream"
)

var (
	// 10ms -> 60s, piston runs and report synthesis are slow
	upstreamBuckets = []float64{
		0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60,
	}

	upstreamRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: upstreamSubsystem,
		Name:      "requests_total",
		Help:      "Number of upstream calls by outcome",
	}, []string{"service", "op", "outcome"})

	upstreamRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: upstreamSubsystem,
		Name:      "retries_total",
		Help:      "Number of extra upstream attempts",
	}, []string{"service", "op"})

	upstreamDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: upstreamSubsystem,
		Name:      "duration_seconds",
		Help:      "Histogram for the upstream call time including retries",
		Buckets:   upstreamBuckets,
	}, []string{"service", "op"})

	unsupportedLanguage = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "unsupported_language_total",
		Help:      "Number of execute requests rejected for an unknown language",
	})
)

func init() {
	prometheus.MustRegister(upstreamRequests, upstreamRetries, upstreamDuration)
	prometheus.MustRegister(unsupportedLanguage)
}

func upstreamObserve(o forward.Observation) {
	outcome := "success"
	if o.Err != nil {
		outcome = "error"
		var ue *forward.UpstreamError
		if errors.As(o.Err, &ue) && ue.StatusCode == 0 {
			outcome = "unreachable"
		}
	}
	upstreamRequests.WithLabelValues(o.Service, o.Op, outcome).Inc()
	if o.Attempts > 1 {
		upstreamRetries.WithLabelValues(o.Service, o.Op).Add(float64(o.Attempts - 1))
	}
	upstreamDuration.WithLabelValues(o.Service, o.Op).Observe(o.Duration.Seconds())
}

var _ resteditor.Resolver = &metricsResolver{}

type metricsResolver struct {
	resteditor.Resolver
}

func (r *metricsResolver) Resolve(label string) (string, error) {
	rt, err := r.Resolver.Resolve(label)
	if errors.Is(err, language.ErrUnsupported) {
		unsupportedLanguage.Inc()
	}
	return rt, err
}

func initGinMetrics(r *gin.Engine) {
	p := ginprometheus.NewWithConfig(ginprometheus.Config{
		Subsystem:          "gin",
		DisableBodyReading: true,
	})
	p.ReqCntURLLabelMappingFn = func(c *gin.Context) string {
		return c.FullPath()
	}
	r.Use(p.HandlerFunc())
}
