package handler

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/warehouse-orders/internal/core/domain"
)

func newTestClient(t *testing.T) *OrderServiceClient {
	t.Helper()
	svc, _ := newTestService(t)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(LoggingInterceptor(quietLogger())))
	RegisterOrderServiceServer(srv, NewGRPCHandler(svc))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewOrderServiceClient(conn)
}

func TestGRPC_OrderLifecycle(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	order, err := client.PlaceOrder(ctx, &domain.PlaceOrderRequest{
		CustomerName:    "Ada Lovelace",
		CustomerEmail:   "ada@example.com",
		ShippingAddress: "12 Analytical Row",
		Items:           []domain.OrderLine{{ProductID: 1, Quantity: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, "20.00", order.TotalPrice)

	shipped, err := client.ChangeStatus(ctx, &ChangeStatusRequest{OrderID: order.ID, Status: "Shipped"})
	require.NoError(t, err)
	assert.Equal(t, "Shipped", shipped.Status)

	got, err := client.GetOrder(ctx, &OrderIDRequest{OrderID: order.ID})
	require.NoError(t, err)
	assert.Equal(t, "Shipped", got.Status)

	history, err := client.History(ctx, &OrderIDRequest{OrderID: order.ID})
	require.NoError(t, err)
	assert.Len(t, history.Entries, 2)

	inv, err := client.AdjustInventory(ctx, &domain.AdjustInventoryRequest{ProductID: 1, Delta: 4, Reason: "restock"})
	require.NoError(t, err)
	assert.Equal(t, 7, inv.Quantity)
}

func TestGRPC_StatusCodes(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.PlaceOrder(ctx, &domain.PlaceOrderRequest{
		CustomerName:    "Ada",
		CustomerEmail:   "ada@example.com",
		ShippingAddress: "x",
		Items:           []domain.OrderLine{{ProductID: 1, Quantity: 6}},
	})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = client.GetOrder(ctx, &OrderIDRequest{OrderID: 12})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.ChangeStatus(ctx, &ChangeStatusRequest{OrderID: 1, Status: "Teleported"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPC_ValidationDetails(t *testing.T) {
	client := newTestClient(t)

	_, err := client.PlaceOrder(context.Background(), &domain.PlaceOrderRequest{})
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.InvalidArgument, st.Code())

	var fields []string
	for _, d := range st.Details() {
		if br, ok := d.(*errdetails.BadRequest); ok {
			for _, v := range br.GetFieldViolations() {
				fields = append(fields, v.GetField())
			}
		}
	}
	assert.ElementsMatch(t, []string{"customer_name", "customer_email", "shipping_address", "items"}, fields)
}

func TestGRPC_ListingAndSettings(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.PlaceOrder(ctx, &domain.PlaceOrderRequest{
		CustomerName:    "Ada Lovelace",
		CustomerEmail:   "ada@example.com",
		ShippingAddress: "12 Analytical Row",
		Items:           []domain.OrderLine{{ProductID: 1, Quantity: 1}},
	})
	require.NoError(t, err)

	orders, err := client.ListOrders(ctx, &ListRequest{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 10, orders.Limit)
	assert.Len(t, orders.Orders, 1)

	maxQty := 20
	inv, err := client.UpdateInventorySettings(ctx, &domain.InventorySettingsRequest{ProductID: 1, MinQuantity: 1, MaxQuantity: &maxQty})
	require.NoError(t, err)
	assert.Equal(t, 4, inv.Quantity)
	assert.Equal(t, 1, inv.MinQuantity)

	levels, err := client.ListInventory(ctx, &ListRequest{})
	require.NoError(t, err)
	require.Len(t, levels.Items, 1)
	require.NotNil(t, levels.Items[0].MaxQuantity)
	assert.Equal(t, 20, *levels.Items[0].MaxQuantity)

	_, err = client.ListOrders(ctx, &ListRequest{Offset: -1})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
