package reliability

import "sync"

// Budget caps one capability for one cycle: a maximum number of calls and,
// optionally, a maximum spend in provider units such as tokens. A cap of
// zero or less is disabled.
type Budget struct {
	mu       sync.Mutex
	name     string
	maxCalls int
	maxSpend int64
	calls    int
	spend    int64
}

func NewBudget(name string, maxCalls int, maxSpend int64) *Budget {
	return &Budget{name: name, maxCalls: maxCalls, maxSpend: maxSpend}
}

// Take reserves one call, or reports the budget exhausted once either cap is
// reached.
func (b *Budget) Take() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.maxCalls > 0 && b.calls >= b.maxCalls {
		return BudgetExhaustedError(b.name)
	}
	if b.maxSpend > 0 && b.spend >= b.maxSpend {
		return BudgetExhaustedError(b.name)
	}
	b.calls++
	return nil
}

// Spend records provider units consumed by a finished call. The overage, if
// any, surfaces on the next Take.
func (b *Budget) Spend(units int64) {
	b.mu.Lock()
	b.spend += units
	b.mu.Unlock()
}

// Used returns calls made and units spent so far this cycle.
func (b *Budget) Used() (calls int, spend int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls, b.spend
}
