// Package httpapi serves node extraction, port validation and config.json
// generation over HTTP.
package httpapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/John-Robertt/singbox-portmap/internal/i18n"
)

type api struct {
	opt     Options
	metrics *Metrics
}

// NewHandler returns the production handler: routes plus the access log and
// request metrics.
func NewHandler(opt Options) (http.Handler, error) {
	opt = opt.withDefaults()
	if opt.Locales == nil {
		b, err := i18n.New()
		if err != nil {
			return nil, fmt.Errorf("load locales: %w", err)
		}
		opt.Locales = b
	}
	m, err := NewMetrics(opt.Registry)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	a := &api{opt: opt, metrics: m}

	r := chi.NewRouter()
	r.Use(a.observe)
	r.Get("/healthz", handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opt.Registry, promhttp.HandlerOpts{}))
	r.Route("/api", func(r chi.Router) {
		r.Get("/locales/{lang}", a.handleLocale)
		r.Post("/nodes", a.handleNodes)
		r.Post("/ports/validate", a.handleValidatePorts)
		r.Post("/generate", a.handleGenerate)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		a.writeErrorFromErr(w, r, apiError(http.StatusNotFound, notFound(r), nil))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		a.writeErrorFromErr(w, r, apiError(http.StatusMethodNotAllowed, methodNotAllowed(r), nil))
	})
	return r, nil
}

func (a *api) catalog(r *http.Request) *i18n.Catalog {
	if lang := r.URL.Query().Get("lang"); lang != "" {
		return a.opt.Locales.Catalog(lang)
	}
	return a.opt.Locales.Catalog(r.Header.Get("Accept-Language"))
}
