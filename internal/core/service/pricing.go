package service

import (
	"context"
	"sort"

	"github.com/rl1809/warehouse-orders/internal/core/domain"
	"github.com/rl1809/warehouse-orders/internal/port"
)

type PricedLine struct {
	ProductID int64
	Quantity  int
	UnitPrice domain.Money
	Subtotal  domain.Money
}

// Quote is the priced form of an order request, lines in request order.
type Quote struct {
	Lines []PricedLine
	Total domain.Money
}

type PricingResolver struct{}

func NewPricingResolver() *PricingResolver {
	return &PricingResolver{}
}

// PriceOrder resolves the current unit price of every line. All missing
// products are reported together before anything is reserved.
func (r *PricingResolver) PriceOrder(ctx context.Context, catalog port.ProductReader, lines []domain.OrderLine) (*Quote, error) {
	products, err := catalog.GetProducts(ctx, distinctProductIDs(lines))
	if err != nil {
		return nil, err
	}

	var missing []int64
	for _, id := range distinctProductIDs(lines) {
		if _, ok := products[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, &domain.ProductNotFoundError{ProductIDs: missing}
	}

	quote := &Quote{Lines: make([]PricedLine, 0, len(lines)), Total: domain.ZeroMoney()}
	for _, line := range lines {
		unit := products[line.ProductID].Price
		subtotal := domain.Subtotal(unit, line.Quantity)
		quote.Lines = append(quote.Lines, PricedLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: unit,
			Subtotal:  subtotal,
		})
		quote.Total = quote.Total.Add(subtotal)
	}
	return quote, nil
}

// distinctProductIDs returns the referenced product IDs in ascending order.
func distinctProductIDs(lines []domain.OrderLine) []int64 {
	seen := make(map[int64]struct{}, len(lines))
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
