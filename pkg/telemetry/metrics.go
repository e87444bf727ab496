package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Result label values.
const (
	ResultAccepted = "accepted"
	ResultRejected = "rejected"
	ResultOK       = "ok"
	ResultFailed   = "failed"
)

// Metrics holds the Prometheus collectors of a study run. A Metrics built
// from a disabled config has no registry and every method is a no-op.
type Metrics struct {
	cfg      MetricsConfig
	registry *prometheus.Registry

	runs         *prometheus.CounterVec // study, status
	runSeconds   *prometheus.HistogramVec
	inFlightRuns prometheus.Gauge

	params        *prometheus.GaugeVec   // driver
	paramAdds     *prometheus.CounterVec // driver, result
	paramAssigns  *prometheus.CounterVec // driver, result
	cases         *prometheus.CounterVec // driver, result
	caseSeconds   *prometheus.HistogramVec
	components    *prometheus.CounterVec // component, result
	compSeconds   *prometheus.HistogramVec
	errs          *prometheus.CounterVec // kind, code
	policyFailure *prometheus.CounterVec // policy, severity

	srvMu  sync.Mutex
	server *http.Server
}

// NewMetrics registers the mdao collectors on a fresh registry.
func NewMetrics(cfg MetricsConfig) *Metrics {
	m := &Metrics{cfg: cfg}
	if !cfg.Enabled {
		return m
	}

	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	m.registry = prometheus.NewRegistry()
	f := promauto.With(m.registry)
	ns := cfg.Namespace

	m.runs = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "driver", Name: "runs_total",
		Help: "Finished study runs by final status.",
	}, []string{"study", "status"})
	m.runSeconds = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: "driver", Name: "run_duration_seconds",
		Help: "Wall time of finished study runs.", Buckets: buckets,
	}, []string{"status"})
	m.inFlightRuns = f.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: "driver", Name: "runs_in_flight",
		Help: "Study runs currently executing.",
	})

	m.params = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: "params", Name: "registered",
		Help: "Parameters registered on each driver.",
	}, []string{"driver"})
	m.paramAdds = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "params", Name: "additions_total",
		Help: "add_parameter calls by result.",
	}, []string{"driver", "result"})
	m.paramAssigns = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "params", Name: "assignments_total",
		Help: "Bulk set_parameters calls by result.",
	}, []string{"driver", "result"})

	m.cases = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "driver", Name: "cases_total",
		Help: "Cases executed by result.",
	}, []string{"driver", "result"})
	m.caseSeconds = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: "driver", Name: "case_duration_seconds",
		Help: "Wall time of a single case.", Buckets: buckets,
	}, []string{"driver"})

	m.components = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "model", Name: "executions_total",
		Help: "Model executions by component and result.",
	}, []string{"component", "result"})
	m.compSeconds = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: "model", Name: "execution_duration_seconds",
		Help: "Wall time of a model execution.", Buckets: buckets,
	}, []string{"component"})

	m.errs = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "errors_total",
		Help: "Case errors by error kind and code.",
	}, []string{"kind", "code"})
	m.policyFailure = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "policy", Name: "violations_total",
		Help: "Study policy violations.",
	}, []string{"policy", "severity"})

	return m
}

func (m *Metrics) enabled() bool { return m != nil && m.registry != nil }

func result(err error) string {
	if err != nil {
		return ResultFailed
	}
	return ResultOK
}

// RunStarted counts a run as in flight.
func (m *Metrics) RunStarted() {
	if !m.enabled() {
		return
	}
	m.inFlightRuns.Inc()
}

// RunFinished records the final status and wall time of a run.
func (m *Metrics) RunFinished(study, status string, elapsed time.Duration) {
	if !m.enabled() {
		return
	}
	m.inFlightRuns.Dec()
	m.runs.WithLabelValues(study, status).Inc()
	m.runSeconds.WithLabelValues(status).Observe(elapsed.Seconds())
}

// SetParametersRegistered sets the number of parameters a driver holds.
func (m *Metrics) SetParametersRegistered(driver string, count int) {
	if !m.enabled() {
		return
	}
	m.params.WithLabelValues(driver).Set(float64(count))
}

// RecordParameterAddition counts an add_parameter call.
func (m *Metrics) RecordParameterAddition(driver string, err error) {
	if !m.enabled() {
		return
	}
	res := ResultAccepted
	if err != nil {
		res = ResultRejected
	}
	m.paramAdds.WithLabelValues(driver, res).Inc()
}

// RecordParameterSet counts a set_parameters call.
func (m *Metrics) RecordParameterSet(driver string, err error) {
	if !m.enabled() {
		return
	}
	m.paramAssigns.WithLabelValues(driver, result(err)).Inc()
}

// CaseFinished records one executed case. Failed cases also count towards
// errors_total under the error's kind and code.
func (m *Metrics) CaseFinished(driver string, elapsed time.Duration, err error) {
	if !m.enabled() {
		return
	}
	m.cases.WithLabelValues(driver, result(err)).Inc()
	m.caseSeconds.WithLabelValues(driver).Observe(elapsed.Seconds())
	if err != nil {
		kind, code := classify(err)
		m.errs.WithLabelValues(kind, code).Inc()
	}
}

// ComponentFinished records one model execution.
func (m *Metrics) ComponentFinished(component string, elapsed time.Duration, err error) {
	if !m.enabled() {
		return
	}
	m.components.WithLabelValues(component, result(err)).Inc()
	m.compSeconds.WithLabelValues(component).Observe(elapsed.Seconds())
}

// RecordPolicyViolation counts a failed study policy check.
func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if !m.enabled() {
		return
	}
	m.policyFailure.WithLabelValues(policy, severity).Inc()
}

// Registry returns the registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the OpenMetrics format.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve binds the listen address and serves the metrics endpoint in the
// background until Close. Bind errors are returned; later serve errors are
// logged.
func (m *Metrics) Serve() error {
	if !m.enabled() {
		return nil
	}

	ln, err := net.Listen("tcp", m.cfg.ListenAddress)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(m.cfg.Path, m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	m.srvMu.Lock()
	m.server = srv
	m.srvMu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("address", m.cfg.ListenAddress).Msg("Metrics server stopped")
		}
	}()
	return nil
}

// Close stops the metrics server started by Serve.
func (m *Metrics) Close(ctx context.Context) error {
	m.srvMu.Lock()
	srv := m.server
	m.server = nil
	m.srvMu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
