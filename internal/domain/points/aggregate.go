package points

import "fmt"

// Kind identifies an aggregation rule.
type Kind string

// Supported aggregation kinds.
const (
	KindSum         Kind = "sum"
	KindWeightedSum Kind = "weighted_sum"
	KindMax         Kind = "max"
	KindCustom      Kind = "custom"
)

// Aggregator turns event values into balance contributions and folds them
// into a running total. Implementations must be commutative in Fold so that
// derivation is independent of arrival order.
type Aggregator interface {
	Kind() Kind

	// Contribution converts an event's raw value and mapping weight into
	// the amount folded into the balance.
	Contribution(raw, weight Amount) (Amount, error)

	// Fold combines the running total with one contribution.
	Fold(total, contribution Amount) (Amount, error)
}

// ForKind resolves the aggregator for a kind. Custom kinds resolve their
// formula through the registry by ref.
func ForKind(kind Kind, formulaRef string) (Aggregator, error) {
	switch kind {
	case KindSum:
		return sumAggregator{}, nil
	case KindWeightedSum:
		return weightedSumAggregator{}, nil
	case KindMax:
		return maxAggregator{}, nil
	case KindCustom:
		f, ok := LookupFormula(formulaRef)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownFormula, formulaRef)
		}
		return customAggregator{ref: formulaRef, formula: f}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAggregation, kind)
	}
}

type sumAggregator struct{}

func (sumAggregator) Kind() Kind { return KindSum }

func (sumAggregator) Contribution(raw, _ Amount) (Amount, error) { return raw, nil }

func (sumAggregator) Fold(total, contribution Amount) (Amount, error) {
	return total.Add(contribution)
}

type weightedSumAggregator struct{}

func (weightedSumAggregator) Kind() Kind { return KindWeightedSum }

func (weightedSumAggregator) Contribution(raw, weight Amount) (Amount, error) {
	return raw.Mul(weight)
}

func (weightedSumAggregator) Fold(total, contribution Amount) (Amount, error) {
	return total.Add(contribution)
}

type maxAggregator struct{}

func (maxAggregator) Kind() Kind { return KindMax }

func (maxAggregator) Contribution(raw, weight Amount) (Amount, error) {
	return raw.Mul(weight)
}

func (maxAggregator) Fold(total, contribution Amount) (Amount, error) {
	if contribution.Cmp(total) > 0 {
		return contribution, nil
	}
	return total, nil
}

type customAggregator struct {
	ref     string
	formula Formula
}

func (customAggregator) Kind() Kind { return KindCustom }

func (c customAggregator) Contribution(raw, weight Amount) (Amount, error) {
	out, err := c.formula(raw, weight)
	if err != nil {
		return Amount{}, fmt.Errorf("formula %q: %w", c.ref, err)
	}
	return out, nil
}

func (customAggregator) Fold(total, contribution Amount) (Amount, error) {
	return total.Add(contribution)
}
