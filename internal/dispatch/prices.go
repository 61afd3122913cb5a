package dispatch

import (
	"fmt"

	"caravan.ai/internal/protocol"
)

// PriceTable holds the silver cost of each event kind. It is read-only once
// built.
type PriceTable [protocol.EventKindCount]int

// NewPriceTable validates raw costs. Any negative entry makes the whole
// table invalid, in which case every event is free.
func NewPriceTable(raw [protocol.EventKindCount]int) (PriceTable, error) {
	for i, c := range raw {
		if c < 0 {
			return PriceTable{}, fmt.Errorf("price for %s is negative: %d", protocol.EventKind(i), c)
		}
	}
	return PriceTable(raw), nil
}

// PricesFromNames builds a table from per-kind costs keyed by event name.
func PricesFromNames(costs map[string]int) (PriceTable, error) {
	var raw [protocol.EventKindCount]int
	for name, c := range costs {
		k, ok := protocol.ParseEventKind(name)
		if !ok {
			return PriceTable{}, fmt.Errorf("unknown event kind %q", name)
		}
		raw[k] = c
	}
	return NewPriceTable(raw)
}

// Cost returns the price of kind; unknown kinds cost nothing.
func (t PriceTable) Cost(kind protocol.EventKind) int {
	if !kind.Valid() {
		return 0
	}
	return t[kind]
}
