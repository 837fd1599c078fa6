// Package metrics holds the service's Prometheus collectors and helpers to update them.
//
// Collectors are queued by init() in each file and registered once by [MustRegister].
package metrics

import (
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once       sync.Once
	collectors []prometheus.Collector
)

// register is called by init() in each metrics file to enqueue collectors.
func register(cs ...prometheus.Collector) {
	collectors = append(collectors, cs...)
}

// MustRegister registers all enqueued collectors with the default registry exactly once.
func MustRegister() {
	once.Do(func() {
		if len(collectors) > 0 {
			prometheus.MustRegister(collectors...)
		}
	})
}

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	MustRegister()
	return promhttp.Handler()
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
