// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xgenc_bus_dropped_total",
		Help: "Total number of event bus deliveries dropped by bus and reason",
	}, []string{"bus", "reason"})

	BusSubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "xgenc_bus_subscribers",
		Help: "Current number of event bus subscribers",
	}, []string{"bus"})
)

// IncBusDropReason records a dropped bus delivery with a concrete reason.
func IncBusDropReason(bus, reason string) {
	if bus == "" {
		bus = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	BusDroppedTotal.WithLabelValues(bus, reason).Inc()
}
