package nonce

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	issuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "veritas_nonces_issued_total",
		Help: "Total number of nonces issued",
	})
	consumeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veritas_nonce_consume_total",
		Help: "Nonce consumption attempts by result",
	}, []string{"result"})
)
