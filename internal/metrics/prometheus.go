package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "epoch_vault"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()

	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(c)
		return c
	}

	deposits := counter("deposits_total", "Total number of accepted vault deposits.")
	withdrawals := counter("withdrawals_total", "Total number of accepted vault withdrawals.")
	phaseViolations := counter("phase_violations_total", "Total number of operations rejected for being outside their phase window.")
	collateralFailed := counter("collateral_call_failures_total", "Total number of failed lending protocol calls.")
	marginFailed := counter("margin_call_failures_total", "Total number of failed derivatives exchange calls.")
	marginRecalls := counter("margin_recalls_total", "Total number of completed full margin recalls.")
	rollovers := counter("rollovers_total", "Total number of epoch rollovers.")
	vaultsHalted := counter("vaults_halted_total", "Total number of times a vault entered the halted state.")
	invariantBreaches := counter("invariant_breaches_total", "Total number of conservation invariant violations.")

	m := &Metrics{
		Deposits:             promCounter{deposits},
		Withdrawals:          promCounter{withdrawals},
		PhaseViolations:      promCounter{phaseViolations},
		CollateralCallFailed: promCounter{collateralFailed},
		MarginCallFailed:     promCounter{marginFailed},
		MarginRecalls:        promCounter{marginRecalls},
		Rollovers:            promCounter{rollovers},
		VaultsHalted:         promCounter{vaultsHalted},
		InvariantBreaches:    promCounter{invariantBreaches},
	}

	return &Prometheus{Metrics: m, registry: registry}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
