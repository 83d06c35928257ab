package prometheus

import (
	"net/http"

	"github.com/edelzer/authgate"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a private registry holding only the engine [Collector].
// Callers that already run a registry should register [NewCollector] there
// instead.
func NewRegistry(engine *authgate.Engine) *promclient.Registry {
	return newRegistry(engine)
}

func newRegistry(source metricsSource) *promclient.Registry {
	reg := promclient.NewRegistry()
	reg.MustRegister(NewCollectorFromSource(source))
	return reg
}

// Handler serves the engine metrics in the Prometheus exposition format.
func Handler(engine *authgate.Engine) http.Handler {
	return handlerFor(engine)
}

func handlerFor(source metricsSource) http.Handler {
	return promhttp.HandlerFor(newRegistry(source), promhttp.HandlerOpts{})
}
