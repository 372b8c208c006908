package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	verifyResults *prometheus.CounterVec
	keySetFetches *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		verifyResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_token_verifications_total",
			Help: "Session token verifications by result",
		}, []string{"result"}),
		keySetFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "key_set_fetches_total",
			Help: "Key set requests by status code and method",
		}, []string{"code", "method"}),
	}
	reg.MustRegister(m.verifyResults, m.keySetFetches)
	return m
}

func (m *metrics) instrument(next http.RoundTripper) http.RoundTripper {
	return promhttp.InstrumentRoundTripperCounter(m.keySetFetches, next)
}
