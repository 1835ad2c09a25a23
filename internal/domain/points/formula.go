package points

import (
	"fmt"
	"sync"
)

// Formula computes a balance contribution from an event's raw value and the
// mapping weight. Custom attribute definitions reference formulas by name.
type Formula func(raw, weight Amount) (Amount, error)

var formulas = struct { //nolint:gochecknoglobals // process-wide formula registry
	sync.RWMutex
	m map[string]Formula
}{m: make(map[string]Formula)}

// RegisterFormula adds a named formula. Registering the same name twice is
// rejected so a ref can never silently change meaning.
func RegisterFormula(name string, f Formula) error {
	if name == "" || f == nil {
		return fmt.Errorf("%w: empty name or nil formula", ErrInvalidFormula)
	}
	formulas.Lock()
	defer formulas.Unlock()
	if _, exists := formulas.m[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateFormula, name)
	}
	formulas.m[name] = f
	return nil
}

// LookupFormula resolves a registered formula by name.
func LookupFormula(name string) (Formula, bool) {
	formulas.RLock()
	defer formulas.RUnlock()
	f, ok := formulas.m[name]
	return f, ok
}
