package service

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/warehouse-orders/internal/core/domain"
	"github.com/rl1809/warehouse-orders/internal/port"
)

func TestPlanReservations(t *testing.T) {
	plan := PlanReservations([]domain.OrderLine{line(5, 1), line(2, 3), line(5, 4), line(1, 1)})

	assert.Equal(t, []Reservation{
		{ProductID: 1, Quantity: 1},
		{ProductID: 2, Quantity: 3},
		{ProductID: 5, Quantity: 5},
	}, plan)
}

func TestReserve(t *testing.T) {
	tests := []struct {
		name      string
		productID int64
		quantity  int
		wantErr   error
		wantStock int
	}{
		{name: "exact stock", productID: 1, quantity: 4, wantStock: 0},
		{name: "partial", productID: 1, quantity: 1, wantStock: 3},
		{name: "too many", productID: 1, quantity: 5, wantErr: domain.ErrInsufficientStock, wantStock: 4},
		{name: "no record", productID: 9, quantity: 1, wantErr: domain.ErrProductOrInventoryNotFound, wantStock: 4},
		{name: "zero quantity", productID: 1, quantity: 0, wantErr: domain.ErrValidation, wantStock: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.product(1, "1.00", 4)
			ledger := NewInventoryLedger(f.store)

			err := f.store.RunInTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
				return ledger.Reserve(ctx, tx, tt.productID, tt.quantity)
			})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantStock, f.stock(t, 1))
		})
	}
}

func TestAdjustInventory(t *testing.T) {
	f := newFixture(t)
	f.product(1, "1.00", 10)

	rec, err := f.svc.AdjustInventory(context.Background(), domain.AdjustInventoryRequest{ProductID: 1, Delta: 5, Reason: "restock"})
	require.NoError(t, err)
	assert.Equal(t, 15, rec.Quantity)

	rec, err = f.svc.AdjustInventory(context.Background(), domain.AdjustInventoryRequest{ProductID: 1, Delta: -15, Reason: "damaged"})
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Quantity)

	adjustments := f.store.Adjustments(1)
	require.Len(t, adjustments, 2)
	assert.Equal(t, 15, adjustments[0].QuantityAfter)
	assert.Equal(t, "damaged", adjustments[1].Reason)
	assert.Equal(t, 0, adjustments[1].QuantityAfter)

	assert.Equal(t, []domain.EventType{domain.EventInventoryAdjusted, domain.EventInventoryAdjusted}, f.events.Types())
}

func TestAdjustInventory_NeverNegative(t *testing.T) {
	f := newFixture(t)
	f.product(1, "1.00", 3)

	_, err := f.svc.AdjustInventory(context.Background(), domain.AdjustInventoryRequest{ProductID: 1, Delta: -4, Reason: "shrinkage"})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	var stockErr *domain.StockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, 3, stockErr.Available)
	assert.Equal(t, 3, f.stock(t, 1))
	assert.Empty(t, f.store.Adjustments(1))
}

func TestAdjustInventory_CreatesMissingRecord(t *testing.T) {
	f := newFixture(t)
	f.store.PutProduct(domain.Product{ID: 2, Price: domain.MustMoney("1.00")}, nil)
	location := "Aisle 7"

	_, err := f.svc.AdjustInventory(context.Background(), domain.AdjustInventoryRequest{ProductID: 2, Delta: -1, Reason: "x"})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	rec, err := f.svc.AdjustInventory(context.Background(), domain.AdjustInventoryRequest{ProductID: 2, Delta: 8, Reason: "first delivery", Location: &location})
	require.NoError(t, err)
	assert.Equal(t, 8, rec.Quantity)
	assert.Equal(t, "Aisle 7", rec.Location)

	got, err := f.svc.Inventory(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 8, got.Quantity)
}

func TestAdjustInventory_UnknownProduct(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AdjustInventory(context.Background(), domain.AdjustInventoryRequest{ProductID: 3, Delta: 1, Reason: "restock"})
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestAdjustInventory_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AdjustInventory(context.Background(), domain.AdjustInventoryRequest{ProductID: 0, Delta: 1, Reason: "  "})
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))

	var fields []string
	for _, fe := range verr.Fields {
		fields = append(fields, fe.Field)
	}
	assert.ElementsMatch(t, []string{"product_id", "reason"}, fields)
}

func TestAdjustInventory_StoreFailure(t *testing.T) {
	f := newFixture(t)
	f.product(1, "1.00", 3)
	f.store.FailOn("AppendAdjustment", errors.New("connection reset"))

	_, err := f.svc.AdjustInventory(context.Background(), domain.AdjustInventoryRequest{ProductID: 1, Delta: 2, Reason: "restock"})
	require.ErrorIs(t, err, domain.ErrTransactionFailure)
	assert.Equal(t, 3, f.stock(t, 1))
}

func TestInventory_Missing(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Inventory(context.Background(), 8)
	assert.ErrorIs(t, err, domain.ErrProductOrInventoryNotFound)
}

func TestPlanReservations_SaturatesAboveMaximum(t *testing.T) {
	plan := PlanReservations([]domain.OrderLine{line(1, math.MaxInt32), line(1, math.MaxInt32), line(1, 5)})

	require.Len(t, plan, 1)
	assert.Equal(t, domain.MaxStockQuantity+1, plan[0].Quantity)
}

func TestAdjustInventory_Overflow(t *testing.T) {
	tests := []struct {
		name  string
		delta int
	}{
		{name: "above column maximum", delta: domain.MaxStockQuantity},
		{name: "max int", delta: math.MaxInt},
		{name: "min int", delta: math.MinInt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.product(1, "1.00", 10)

			_, err := f.svc.AdjustInventory(context.Background(), domain.AdjustInventoryRequest{ProductID: 1, Delta: tt.delta, Reason: "recount"})
			var verr *domain.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			require.Len(t, verr.Fields, 1)
			assert.Equal(t, "delta", verr.Fields[0].Field)
			assert.Equal(t, 10, f.stock(t, 1))
			assert.Empty(t, f.store.Adjustments(1))
		})
	}
}

func TestAdjustInventory_RetriesConcurrentCreate(t *testing.T) {
	f := newFixture(t)
	f.store.PutProduct(domain.Product{ID: 4, Price: domain.MustMoney("1.00")}, nil)
	f.store.FailOnce("CreateInventory", port.ErrRowExists)

	rec, err := f.svc.AdjustInventory(context.Background(), domain.AdjustInventoryRequest{ProductID: 4, Delta: 6, Reason: "first delivery"})
	require.NoError(t, err)
	assert.Equal(t, 6, rec.Quantity)
	assert.Equal(t, 6, f.stock(t, 4))
	assert.Len(t, f.store.Adjustments(4), 1)
}

func TestUpdateInventorySettings(t *testing.T) {
	f := newFixture(t)
	f.product(1, "1.00", 10)
	maxQty, location := 40, "Aisle 3"

	rec, err := f.svc.UpdateInventorySettings(context.Background(), domain.InventorySettingsRequest{
		ProductID:   1,
		MinQuantity: 5,
		MaxQuantity: &maxQty,
		Location:    &location,
	})
	require.NoError(t, err)
	assert.Equal(t, 10, rec.Quantity)
	assert.Equal(t, 5, rec.MinQuantity)
	require.NotNil(t, rec.MaxQuantity)
	assert.Equal(t, 40, *rec.MaxQuantity)
	assert.Equal(t, "Aisle 3", rec.Location)

	rec, err = f.svc.AdjustInventory(context.Background(), domain.AdjustInventoryRequest{ProductID: 1, Delta: -2, Reason: "damaged"})
	require.NoError(t, err)
	assert.Equal(t, 5, rec.MinQuantity)
	require.NotNil(t, rec.MaxQuantity)

	rec, err = f.svc.UpdateInventorySettings(context.Background(), domain.InventorySettingsRequest{ProductID: 1, MinQuantity: 1})
	require.NoError(t, err)
	assert.Nil(t, rec.MaxQuantity)
	assert.Equal(t, "Aisle 3", rec.Location)
	assert.Len(t, f.store.Adjustments(1), 1)
}

func TestUpdateInventorySettings_Validation(t *testing.T) {
	negative, small := -1, 2

	tests := []struct {
		name   string
		req    domain.InventorySettingsRequest
		fields []string
	}{
		{name: "max below min", req: domain.InventorySettingsRequest{ProductID: 1, MinQuantity: 5, MaxQuantity: &small}, fields: []string{"max_quantity"}},
		{name: "negative values", req: domain.InventorySettingsRequest{ProductID: 1, MinQuantity: -3, MaxQuantity: &negative}, fields: []string{"min_quantity", "max_quantity"}},
		{name: "no product", req: domain.InventorySettingsRequest{}, fields: []string{"product_id"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.product(1, "1.00", 10)

			_, err := f.svc.UpdateInventorySettings(context.Background(), tt.req)
			var verr *domain.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)

			var fields []string
			for _, fe := range verr.Fields {
				fields = append(fields, fe.Field)
			}
			assert.ElementsMatch(t, tt.fields, fields)
		})
	}
}

func TestUpdateInventorySettings_MissingRecord(t *testing.T) {
	f := newFixture(t)
	f.store.PutProduct(domain.Product{ID: 2, Price: domain.MustMoney("1.00")}, nil)

	_, err := f.svc.UpdateInventorySettings(context.Background(), domain.InventorySettingsRequest{ProductID: 2})
	assert.ErrorIs(t, err, domain.ErrProductOrInventoryNotFound)
}

func TestListInventory(t *testing.T) {
	f := newFixture(t)
	f.product(1, "1.00", 10)
	f.product(2, "2.00", 20)
	f.product(3, "3.00", 30)

	_, err := f.svc.AdjustInventory(context.Background(), domain.AdjustInventoryRequest{ProductID: 2, Delta: 1, Reason: "recount"})
	require.NoError(t, err)
	_, err = f.svc.AdjustInventory(context.Background(), domain.AdjustInventoryRequest{ProductID: 1, Delta: 1, Reason: "recount"})
	require.NoError(t, err)

	levels, err := f.svc.ListInventory(context.Background(), domain.Page{Limit: 2})
	require.NoError(t, err)
	require.Len(t, levels, 2)
	assert.Equal(t, int64(1), levels[0].Record.ProductID)
	assert.Equal(t, 11, levels[0].Record.Quantity)
	assert.Equal(t, int64(2), levels[1].Record.ProductID)
	assert.Equal(t, "2.00", domain.FormatMoney(levels[1].Product.Price))

	rest, err := f.svc.ListInventory(context.Background(), domain.Page{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, int64(3), rest[0].Record.ProductID)

	_, err = f.svc.ListInventory(context.Background(), domain.Page{Limit: 201})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
