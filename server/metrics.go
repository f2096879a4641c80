package server

import (
	"net/http"
	"time"

	gosundheit "github.com/AppsFlyer/go-sundheit"
	"github.com/AppsFlyer/go-sundheit/checks"
	gosundheithttp "github.com/AppsFlyer/go-sundheit/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openanchor/anchorsvc/storage"
)

// newMetricsHandler returns the Prometheus text-exposition handler
// backed by reg, served at /metrics.
func newMetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// newHealthHandler mirrors cmd/dex/serve.go's health-checker wiring: a
// go-sundheit Health registers the page-store round-trip probe and is
// exposed as JSON at /healthz.
func newHealthHandler(pages storage.PageStore, now func() time.Time) (http.Handler, error) {
	health := gosundheit.New()
	err := health.RegisterCheck(&gosundheit.Config{
		Check: &checks.CustomCheck{
			CheckName: "page-store",
			CheckFunc: storage.NewHealthCheckFunc(pages, now),
		},
		ExecutionPeriod:  30 * time.Second,
		InitiallyPassing: true,
	})
	if err != nil {
		return nil, err
	}
	return gosundheithttp.HandleHealthJSON(health), nil
}
