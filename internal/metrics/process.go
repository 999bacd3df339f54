package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	procTerminateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xgenc_process_terminate_total",
		Help: "Signals sent to encoder process groups by signal and result",
	}, []string{"signal", "result"})

	procWaitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xgenc_process_wait_total",
		Help: "Encoder process exits observed during termination by outcome",
	}, []string{"outcome"})

	procSpawnTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xgenc_process_spawn_total",
		Help: "Encoder process spawn attempts by result",
	}, []string{"result"})
)

// IncProcTerminate records a termination signal.
func IncProcTerminate(signal, result string) {
	procTerminateTotal.WithLabelValues(signal, result).Inc()
}

// IncProcWait records how a terminated process exited.
func IncProcWait(outcome string) {
	procWaitTotal.WithLabelValues(outcome).Inc()
}

// IncProcSpawn records a spawn attempt ("ok" or "error").
func IncProcSpawn(result string) {
	procSpawnTotal.WithLabelValues(result).Inc()
}
