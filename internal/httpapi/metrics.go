package httpapi

import (
	"errors"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service counters.
type Metrics struct {
	requests    *prometheus.CounterVec
	appErrors   *prometheus.CounterVec
	generations *prometheus.CounterVec
}

// NewMetrics registers the counters with reg. Registering twice on the same
// registry reuses the existing collectors.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	requests, err := registerCounterVec(reg, prometheus.CounterOpts{
		Name: "singbox_portmap_http_requests_total",
		Help: "HTTP requests by route pattern and status.",
	}, "pattern", "status")
	if err != nil {
		return nil, err
	}
	appErrors, err := registerCounterVec(reg, prometheus.CounterOpts{
		Name: "singbox_portmap_app_errors_total",
		Help: "Application errors returned to clients.",
	}, "stage", "code")
	if err != nil {
		return nil, err
	}
	generations, err := registerCounterVec(reg, prometheus.CounterOpts{
		Name: "singbox_portmap_generations_total",
		Help: "config.json generations by result.",
	}, "result")
	if err != nil {
		return nil, err
	}
	return &Metrics{requests: requests, appErrors: appErrors, generations: generations}, nil
}

func registerCounterVec(reg prometheus.Registerer, opts prometheus.CounterOpts, labels ...string) (*prometheus.CounterVec, error) {
	c := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return c, nil
}

func (m *Metrics) incRequest(pattern string, status int) {
	if pattern == "" {
		pattern = "(unknown)"
	}
	m.requests.WithLabelValues(pattern, strconv.Itoa(status)).Inc()
}

func (m *Metrics) incAppError(stage, code string) {
	stage = strings.TrimSpace(stage)
	code = strings.TrimSpace(code)
	if stage == "" {
		stage = "(unknown)"
	}
	if code == "" {
		code = "(unknown)"
	}
	m.appErrors.WithLabelValues(stage, code).Inc()
}

func (m *Metrics) incGeneration(ok bool) {
	result := "error"
	if ok {
		result = "ok"
	}
	m.generations.WithLabelValues(result).Inc()
}
