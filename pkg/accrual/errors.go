package accrual

import (
	"fmt"
	"time"
)

// StaleEventError is returned when an event predates the open holding
// interval of its address. The event is dropped; retrying cannot help.
type StaleEventError struct {
	Address      string
	Timestamp    time.Time
	BalanceSince time.Time
}

func (e *StaleEventError) Error() string {
	return fmt.Sprintf("stale balance event for %s: %s is before %s",
		e.Address, e.Timestamp.Format(time.RFC3339Nano), e.BalanceSince.Format(time.RFC3339Nano))
}
