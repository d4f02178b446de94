package limits

import (
	"fmt"
	"sort"
)

// TierName identifies a quota profile in the Catalog.
type TierName string

const (
	// TierFree is the lowest tier and the default for unassigned identities.
	TierFree TierName = "free"

	// TierStarter is the first paid tier.
	TierStarter TierName = "starter"

	// TierPro is the professional tier.
	TierPro TierName = "pro"

	// TierEnterprise is the highest built-in tier.
	TierEnterprise TierName = "enterprise"
)

// MinCatalogTiers is the minimum number of tiers a catalog must define.
const MinCatalogTiers = 4

// TierDefinition bundles the per-window request ceilings and monthly budget
// of one tier.
type TierDefinition struct {
	Name TierName `yaml:"name" json:"name"`

	// RequestsPerMinute is the minute window ceiling.
	RequestsPerMinute int64 `yaml:"requests_per_minute" json:"requests_per_minute"`

	// RequestsPerHour is the hour window ceiling.
	RequestsPerHour int64 `yaml:"requests_per_hour" json:"requests_per_hour"`

	// RequestsPerDay is the day window ceiling.
	RequestsPerDay int64 `yaml:"requests_per_day" json:"requests_per_day"`

	// MonthlyBudget is the monthly cost ceiling in USD.
	MonthlyBudget float64 `yaml:"monthly_budget" json:"monthly_budget"`
}

// Ceiling returns the request ceiling for a counting window.
func (t TierDefinition) Ceiling(w Window) int64 {
	switch w {
	case WindowMinute:
		return t.RequestsPerMinute
	case WindowHour:
		return t.RequestsPerHour
	case WindowDay:
		return t.RequestsPerDay
	default:
		return 0
	}
}

// DefaultTiers is the built-in catalog.
var DefaultTiers = []TierDefinition{
	{Name: TierFree, RequestsPerMinute: 10, RequestsPerHour: 100, RequestsPerDay: 500, MonthlyBudget: 5.00},
	{Name: TierStarter, RequestsPerMinute: 30, RequestsPerHour: 500, RequestsPerDay: 2500, MonthlyBudget: 25.00},
	{Name: TierPro, RequestsPerMinute: 60, RequestsPerHour: 1000, RequestsPerDay: 10000, MonthlyBudget: 100.00},
	{Name: TierEnterprise, RequestsPerMinute: 300, RequestsPerHour: 10000, RequestsPerDay: 100000, MonthlyBudget: 1000.00},
}

// Catalog is an immutable, ordered set of tiers. Tiers are sorted from the
// lowest to the highest ceilings; the first tier is the default.
type Catalog struct {
	tiers  []TierDefinition
	byName map[TierName]TierDefinition
}

// NewCatalog validates and builds a catalog. Every ceiling and the budget must
// be strictly increasing from one tier to the next once sorted by budget.
func NewCatalog(tiers []TierDefinition) (*Catalog, error) {
	if len(tiers) < MinCatalogTiers {
		return nil, &ConfigError{
			Field: "catalog",
			Value: fmt.Sprintf("%d tiers", len(tiers)),
			Err:   fmt.Errorf("%w: at least %d tiers required", ErrConfigInvalid, MinCatalogTiers),
		}
	}

	sorted := make([]TierDefinition, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MonthlyBudget < sorted[j].MonthlyBudget
	})

	byName := make(map[TierName]TierDefinition, len(sorted))
	for i, t := range sorted {
		if t.Name == "" {
			return nil, &ConfigError{Field: "catalog", Value: fmt.Sprintf("tier[%d]", i), Err: fmt.Errorf("%w: tier name is empty", ErrConfigInvalid)}
		}
		if _, dup := byName[t.Name]; dup {
			return nil, &ConfigError{Field: "catalog", Value: string(t.Name), Err: fmt.Errorf("%w: duplicate tier", ErrConfigInvalid)}
		}
		if t.RequestsPerMinute <= 0 || t.RequestsPerHour <= 0 || t.RequestsPerDay <= 0 || t.MonthlyBudget <= 0 {
			return nil, &ConfigError{Field: "catalog", Value: string(t.Name), Err: fmt.Errorf("%w: ceilings must be positive", ErrConfigInvalid)}
		}
		if i > 0 {
			prev := sorted[i-1]
			if t.RequestsPerMinute <= prev.RequestsPerMinute ||
				t.RequestsPerHour <= prev.RequestsPerHour ||
				t.RequestsPerDay <= prev.RequestsPerDay ||
				t.MonthlyBudget <= prev.MonthlyBudget {
				return nil, &ConfigError{
					Field: "catalog",
					Value: string(t.Name),
					Err:   fmt.Errorf("%w: ceilings must strictly increase over tier %q", ErrConfigInvalid, prev.Name),
				}
			}
		}
		byName[t.Name] = t
	}

	return &Catalog{tiers: sorted, byName: byName}, nil
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultTiers)
	if err != nil {
		panic(fmt.Sprintf("built-in tier catalog is invalid: %v", err))
	}
	return c
}

// Lookup returns the definition for name.
func (c *Catalog) Lookup(name TierName) (TierDefinition, error) {
	t, ok := c.byName[name]
	if !ok {
		return TierDefinition{}, &ConfigError{Field: "tier", Value: string(name), Err: ErrUnknownTier}
	}
	return t, nil
}

// Has reports whether name is in the catalog.
func (c *Catalog) Has(name TierName) bool {
	_, ok := c.byName[name]
	return ok
}

// Lowest returns the tier with the smallest ceilings.
func (c *Catalog) Lowest() TierDefinition {
	return c.tiers[0]
}

// Tiers returns the tiers from lowest to highest. The slice is a copy.
func (c *Catalog) Tiers() []TierDefinition {
	out := make([]TierDefinition, len(c.tiers))
	copy(out, c.tiers)
	return out
}
