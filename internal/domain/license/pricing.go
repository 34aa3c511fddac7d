package license

import (
	"fmt"
	"sort"
)

// Price is an amount in the smallest currency unit.
type Price struct {
	Amount   int64
	Currency string
}

func (p Price) String() string {
	return FormatPrice(p.Amount, p.Currency)
}

// Catalog prices license durations per resource. Tiers map a minimum number
// of units to a discount fraction applied to the whole term.
type Catalog struct {
	currency     string
	unitPrices   map[string]int64
	defaultPrice int64
	tiers        []tier
}

type tier struct {
	minUnits int
	discount float64
}

// NewCatalog builds a catalog. A zero defaultPrice makes unknown resources
// unpurchasable.
func NewCatalog(currency string, unitPrices map[string]int64, defaultPrice int64, tiers map[int]float64) *Catalog {
	c := &Catalog{
		currency:     currency,
		unitPrices:   make(map[string]int64, len(unitPrices)),
		defaultPrice: defaultPrice,
	}
	for k, v := range unitPrices {
		c.unitPrices[k] = v
	}
	for units, discount := range tiers {
		if units > 1 && discount > 0 && discount < 1 {
			c.tiers = append(c.tiers, tier{minUnits: units, discount: discount})
		}
	}
	sort.Slice(c.tiers, func(i, j int) bool { return c.tiers[i].minUnits > c.tiers[j].minUnits })
	return c
}

// UnitPrice returns the single-unit price of resourceID.
func (c *Catalog) UnitPrice(resourceID string) (Price, error) {
	p, ok := c.unitPrices[resourceID]
	if !ok {
		p = c.defaultPrice
	}
	if p <= 0 {
		return Price{}, fmt.Errorf("%w: %s", ErrUnknownResource, resourceID)
	}
	return Price{Amount: p, Currency: c.currency}, nil
}

// Price is a pure function of resource and duration.
func (c *Catalog) Price(resourceID string, durationUnits int) (Price, error) {
	if durationUnits <= 0 {
		return Price{}, ErrInvalidDuration
	}
	unit, err := c.UnitPrice(resourceID)
	if err != nil {
		return Price{}, err
	}
	total := unit.Amount * int64(durationUnits)
	for _, t := range c.tiers {
		if durationUnits >= t.minUnits {
			total = int64(float64(total) * (1 - t.discount))
			break
		}
	}
	return Price{Amount: total, Currency: c.currency}, nil
}

// SavingRate returns the discount of a multi-unit term as a percentage.
func SavingRate(unitPrice, totalPrice int64, units int) float32 {
	if units <= 0 || unitPrice <= 0 {
		return 0
	}
	expected := unitPrice * int64(units)
	rate := float32(expected-totalPrice) / float32(expected) * 100
	if rate < 0 {
		return 0
	}
	if rate > 100 {
		return 100
	}
	return rate
}

// FormatPrice formats an amount given in the smallest currency unit.
func FormatPrice(amount int64, currency string) string {
	formats := map[string]struct {
		symbol    string
		separator string
		before    bool
	}{
		"USD": {symbol: "$", separator: ".", before: true},
		"EUR": {symbol: "€", separator: ",", before: false},
		"GBP": {symbol: "£", separator: ".", before: true},
		"JPY": {symbol: "¥", separator: "", before: true},
	}

	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}

	f, ok := formats[currency]
	if !ok {
		return fmt.Sprintf("%s%s %.2f", sign, currency, float64(amount)/100)
	}
	var s string
	if f.separator == "" {
		s = fmt.Sprintf("%d", amount/100)
	} else {
		s = fmt.Sprintf("%d%s%02d", amount/100, f.separator, amount%100)
	}
	if f.before {
		return sign + f.symbol + s
	}
	return sign + s + f.symbol
}
