// Package catalog holds the versioned attribute definitions and dimension
// mappings that drive derivation.
//
// Configuration is state here: every change appends a new version with an
// effective-from timestamp and history is never rewritten, so a recompute
// over old events always sees the mapping that was active when each event
// occurred.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lsg-lab/pointward/internal/domain/points"
)

// AttributeVersion is one version of a scored attribute definition.
type AttributeVersion struct {
	AttributeID   string      `json:"attribute_id"`
	Name          string      `json:"name"`
	Aggregation   points.Kind `json:"aggregation_rule"`
	FormulaRef    string      `json:"formula_ref,omitempty"`
	Version       int         `json:"version"`
	EffectiveFrom time.Time   `json:"effective_from"`
}

// MappingVersion is one version of a dimension/mechanic -> attribute mapping.
// An empty MechanicID makes the mapping dimension-wide.
type MappingVersion struct {
	DimensionID   string        `json:"dimension_id"`
	MechanicID    string        `json:"mechanic_id,omitempty"`
	AttributeID   string        `json:"attribute_id"`
	Weight        points.Amount `json:"weight"`
	Version       int           `json:"version"`
	EffectiveFrom time.Time     `json:"effective_from"`
}

type mappingKey struct {
	dimensionID string
	mechanicID  string
}

// Catalog is an in-memory versioned catalog. Updates are serialized under
// one mutex so two versions can never claim the same effective window, and
// reads against a (dimension, mechanic) never straddle an in-flight update.
type Catalog struct {
	mu       sync.RWMutex
	attrs    map[string][]AttributeVersion   // ordered by EffectiveFrom asc
	mappings map[mappingKey][]MappingVersion // ordered by EffectiveFrom asc, per attribute
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{
		attrs:    make(map[string][]AttributeVersion),
		mappings: make(map[mappingKey][]MappingVersion),
	}
}

// DefineAttribute appends a new attribute definition version. The version's
// effective-from must be strictly after the latest existing version for the
// same attribute.
func (c *Catalog) DefineAttribute(_ context.Context, v AttributeVersion) (AttributeVersion, error) {
	if v.AttributeID == "" {
		return AttributeVersion{}, fmt.Errorf("%w: empty attribute_id", ErrInvalidCatalogVersion)
	}
	if v.EffectiveFrom.IsZero() {
		return AttributeVersion{}, fmt.Errorf("%w: missing effective_from", ErrInvalidCatalogVersion)
	}
	// Resolve the aggregator now so a broken kind or formula ref is caught
	// at definition time, not during derivation.
	if _, err := points.ForKind(v.Aggregation, v.FormulaRef); err != nil {
		return AttributeVersion{}, fmt.Errorf("%w: %v", ErrInvalidCatalogVersion, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	history := c.attrs[v.AttributeID]
	if n := len(history); n > 0 && !v.EffectiveFrom.After(history[n-1].EffectiveFrom) {
		return AttributeVersion{}, fmt.Errorf("%w: attribute %q effective_from %s not after %s",
			ErrInvalidCatalogVersion, v.AttributeID,
			v.EffectiveFrom.Format(time.RFC3339), history[n-1].EffectiveFrom.Format(time.RFC3339))
	}
	v.Version = len(history) + 1
	c.attrs[v.AttributeID] = append(history, v)
	return v, nil
}

// ActiveAttribute returns the attribute definition version effective at the
// given time.
func (c *Catalog) ActiveAttribute(_ context.Context, attributeID string, at time.Time) (AttributeVersion, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	history := c.attrs[attributeID]
	for i := len(history) - 1; i >= 0; i-- {
		if !history[i].EffectiveFrom.After(at) {
			return history[i], nil
		}
	}
	return AttributeVersion{}, fmt.Errorf("%w: attribute %q at %s",
		ErrNoAttributeDefined, attributeID, at.Format(time.RFC3339))
}

// UpdateMapping appends a new mapping version. The target attribute must be
// defined, and the effective-from must be strictly after the latest existing
// version for the same (dimension, mechanic, attribute).
func (c *Catalog) UpdateMapping(_ context.Context, v MappingVersion) (MappingVersion, error) {
	if v.DimensionID == "" || v.AttributeID == "" {
		return MappingVersion{}, fmt.Errorf("%w: empty dimension_id or attribute_id", ErrInvalidCatalogVersion)
	}
	if v.EffectiveFrom.IsZero() {
		return MappingVersion{}, fmt.Errorf("%w: missing effective_from", ErrInvalidCatalogVersion)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.attrs[v.AttributeID]) == 0 {
		return MappingVersion{}, fmt.Errorf("%w: attribute %q", ErrNoAttributeDefined, v.AttributeID)
	}

	key := mappingKey{dimensionID: v.DimensionID, mechanicID: v.MechanicID}
	history := c.mappings[key]
	version := 1
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].AttributeID != v.AttributeID {
			continue
		}
		if !v.EffectiveFrom.After(history[i].EffectiveFrom) {
			return MappingVersion{}, fmt.Errorf("%w: mapping %s/%s -> %s effective_from %s not after %s",
				ErrInvalidCatalogVersion, v.DimensionID, v.MechanicID, v.AttributeID,
				v.EffectiveFrom.Format(time.RFC3339), history[i].EffectiveFrom.Format(time.RFC3339))
		}
		version = history[i].Version + 1
		break
	}
	v.Version = version
	c.mappings[key] = append(history, v)
	return v, nil
}

// ActiveMappings returns the mapping versions effective at the given time
// for a (dimension, mechanic). A dimension may feed several attributes, so
// the result carries one mapping per target attribute, ordered by attribute
// id. When a mechanic-specific mapping set exists it shadows the
// dimension-wide one entirely. ErrNoMappingDefined when nothing is active.
func (c *Catalog) ActiveMappings(_ context.Context, dimensionID, mechanicID string, at time.Time) ([]MappingVersion, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	active := c.activeForKey(mappingKey{dimensionID: dimensionID, mechanicID: mechanicID}, at)
	if len(active) == 0 && mechanicID != "" {
		active = c.activeForKey(mappingKey{dimensionID: dimensionID}, at)
	}
	if len(active) == 0 {
		return nil, fmt.Errorf("%w: dimension %q mechanic %q at %s",
			ErrNoMappingDefined, dimensionID, mechanicID, at.Format(time.RFC3339))
	}
	sort.Slice(active, func(i, j int) bool { return active[i].AttributeID < active[j].AttributeID })
	return active, nil
}

// activeForKey picks, per attribute, the latest version effective at `at`.
// Callers must hold at least a read lock.
func (c *Catalog) activeForKey(key mappingKey, at time.Time) []MappingVersion {
	byAttr := make(map[string]MappingVersion)
	for _, v := range c.mappings[key] {
		if v.EffectiveFrom.After(at) {
			continue
		}
		if cur, ok := byAttr[v.AttributeID]; !ok || v.EffectiveFrom.After(cur.EffectiveFrom) {
			byAttr[v.AttributeID] = v
		}
	}
	out := make([]MappingVersion, 0, len(byAttr))
	for _, v := range byAttr {
		out = append(out, v)
	}
	return out
}

// Aggregator resolves the aggregator for the attribute version effective at
// the given time.
func (c *Catalog) Aggregator(ctx context.Context, attributeID string, at time.Time) (points.Aggregator, error) {
	attr, err := c.ActiveAttribute(ctx, attributeID, at)
	if err != nil {
		return nil, err
	}
	return points.ForKind(attr.Aggregation, attr.FormulaRef)
}

// ListAttributes returns the latest version of every attribute, ordered by
// attribute id.
func (c *Catalog) ListAttributes(_ context.Context) []AttributeVersion {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]AttributeVersion, 0, len(c.attrs))
	for _, history := range c.attrs {
		out = append(out, history[len(history)-1])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttributeID < out[j].AttributeID })
	return out
}

// ListMappings returns every mapping version ever recorded, ordered by
// (dimension_id, mechanic_id, attribute_id, version). Admin tooling uses the
// full history to audit how a mapping evolved.
func (c *Catalog) ListMappings(_ context.Context) []MappingVersion {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []MappingVersion
	for _, history := range c.mappings {
		out = append(out, history...)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.DimensionID != b.DimensionID {
			return a.DimensionID < b.DimensionID
		}
		if a.MechanicID != b.MechanicID {
			return a.MechanicID < b.MechanicID
		}
		if a.AttributeID != b.AttributeID {
			return a.AttributeID < b.AttributeID
		}
		return a.Version < b.Version
	})
	return out
}

// AttributeIDs returns the ids of every defined attribute, ordered.
func (c *Catalog) AttributeIDs(_ context.Context) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.attrs))
	for id := range c.attrs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
