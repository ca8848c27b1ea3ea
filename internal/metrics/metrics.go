package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	Deposits             Counter
	Withdrawals          Counter
	PhaseViolations      Counter
	CollateralCallFailed Counter
	MarginCallFailed     Counter
	MarginRecalls        Counter
	Rollovers            Counter
	VaultsHalted         Counter
	InvariantBreaches    Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		Deposits:             n,
		Withdrawals:          n,
		PhaseViolations:      n,
		CollateralCallFailed: n,
		MarginCallFailed:     n,
		MarginRecalls:        n,
		Rollovers:            n,
		VaultsHalted:         n,
		InvariantBreaches:    n,
	}
}
