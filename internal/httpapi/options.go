package httpapi

import (
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/John-Robertt/singbox-portmap/internal/document"
	"github.com/John-Robertt/singbox-portmap/internal/i18n"
	"github.com/John-Robertt/singbox-portmap/internal/synth"
)

// Options wires the loaded template and the process-wide services into the
// HTTP layer.
type Options struct {
	// Template is shared read-only by every request. When TemplateErr is set
	// generation answers 503 for the life of the process.
	Template    *document.Object
	TemplateErr error

	Locales *i18n.Bundle
	Synth   synth.Options

	// RequestTimeout bounds a single request, including fetching nodes_url.
	RequestTimeout time.Duration
	// FetchTimeout is the per-HTTP-request timeout for nodes_url.
	FetchTimeout time.Duration
	MaxBodyBytes int64

	Logger logrus.FieldLogger
	// Registry receives the HTTP metrics and is served on /metrics.
	Registry *prometheus.Registry
}

func (o Options) withDefaults() Options {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 15 * time.Second
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 5 * 1024 * 1024
	}
	if o.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		o.Logger = l
	}
	if o.Registry == nil {
		o.Registry = prometheus.NewRegistry()
	}
	return o
}
