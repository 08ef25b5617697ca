package metrics

import "time"

type noop struct{}

// Noop discards everything
func Noop() SettlementMetrics {
	return noop{}
}

func (noop) IncContractsRegistered(string)         {}
func (noop) IncRegistrationFailures(string)        {}
func (noop) IncTokensSold()                        {}
func (noop) AddRewardsPaid(uint64)                 {}
func (noop) IncContractsClosed()                   {}
func (noop) AddRefundsCredited(uint64)             {}
func (noop) AddDepositDistributed(uint64)          {}
func (noop) ObserveSaga(string, string, time.Time) {}
func (noop) SetPendingRegistrations(int)           {}
