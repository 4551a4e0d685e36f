package handler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/warehouse-orders/internal/core/domain"
	"github.com/rl1809/warehouse-orders/internal/core/service"
)

const (
	serviceName = "warehouse.v1.OrderService"

	// CodecName is the content-subtype of the JSON message codec.
	CodecName = "json"
)

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type OrderServiceServer interface {
	PlaceOrder(context.Context, *domain.PlaceOrderRequest) (*OrderResponse, error)
	ChangeStatus(context.Context, *ChangeStatusRequest) (*OrderResponse, error)
	GetOrder(context.Context, *OrderIDRequest) (*OrderResponse, error)
	History(context.Context, *OrderIDRequest) (*HistoryResponse, error)
	AdjustInventory(context.Context, *domain.AdjustInventoryRequest) (*InventoryResponse, error)
	UpdateInventorySettings(context.Context, *domain.InventorySettingsRequest) (*InventoryResponse, error)
	ListInventory(context.Context, *ListRequest) (*InventoryListResponse, error)
	ListOrders(context.Context, *ListRequest) (*OrderListResponse, error)
}

type GRPCHandler struct {
	orderService *service.OrderService
}

func NewGRPCHandler(orderService *service.OrderService) *GRPCHandler {
	return &GRPCHandler{orderService: orderService}
}

func (h *GRPCHandler) PlaceOrder(ctx context.Context, req *domain.PlaceOrderRequest) (*OrderResponse, error) {
	order, err := h.orderService.PlaceOrder(ctx, *req)
	if err != nil {
		return nil, grpcError(err)
	}
	resp := toOrderResponse(order)
	return &resp, nil
}

func (h *GRPCHandler) ChangeStatus(ctx context.Context, req *ChangeStatusRequest) (*OrderResponse, error) {
	next, err := parseStatus(req.Status)
	if err != nil {
		return nil, grpcError(err)
	}
	order, err := h.orderService.ChangeStatus(ctx, req.OrderID, next, req.Note)
	if err != nil {
		return nil, grpcError(err)
	}
	resp := toOrderResponse(order)
	return &resp, nil
}

func (h *GRPCHandler) GetOrder(ctx context.Context, req *OrderIDRequest) (*OrderResponse, error) {
	order, err := h.orderService.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, grpcError(err)
	}
	resp := toOrderResponse(order)
	return &resp, nil
}

func (h *GRPCHandler) History(ctx context.Context, req *OrderIDRequest) (*HistoryResponse, error) {
	entries, err := h.orderService.History(ctx, req.OrderID)
	if err != nil {
		return nil, grpcError(err)
	}
	resp := toHistoryResponse(req.OrderID, entries)
	return &resp, nil
}

func (h *GRPCHandler) AdjustInventory(ctx context.Context, req *domain.AdjustInventoryRequest) (*InventoryResponse, error) {
	record, err := h.orderService.AdjustInventory(ctx, *req)
	if err != nil {
		return nil, grpcError(err)
	}
	resp := toInventoryResponse(record)
	return &resp, nil
}

func (h *GRPCHandler) UpdateInventorySettings(ctx context.Context, req *domain.InventorySettingsRequest) (*InventoryResponse, error) {
	record, err := h.orderService.UpdateInventorySettings(ctx, *req)
	if err != nil {
		return nil, grpcError(err)
	}
	resp := toInventoryResponse(record)
	return &resp, nil
}

func (h *GRPCHandler) ListInventory(ctx context.Context, req *ListRequest) (*InventoryListResponse, error) {
	page := domain.Page{Limit: req.Limit, Offset: req.Offset}
	levels, err := h.orderService.ListInventory(ctx, page)
	if err != nil {
		return nil, grpcError(err)
	}
	resp := toInventoryListResponse(levels, page)
	return &resp, nil
}

func (h *GRPCHandler) ListOrders(ctx context.Context, req *ListRequest) (*OrderListResponse, error) {
	page := domain.Page{Limit: req.Limit, Offset: req.Offset}
	orders, err := h.orderService.ListOrders(ctx, page)
	if err != nil {
		return nil, grpcError(err)
	}
	resp := toOrderListResponse(orders, page)
	return &resp, nil
}

func RegisterOrderServiceServer(s grpc.ServiceRegistrar, srv OrderServiceServer) {
	s.RegisterService(&OrderServiceDesc, srv)
}

var OrderServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PlaceOrder", Handler: unary("PlaceOrder", OrderServiceServer.PlaceOrder)},
		{MethodName: "ChangeStatus", Handler: unary("ChangeStatus", OrderServiceServer.ChangeStatus)},
		{MethodName: "GetOrder", Handler: unary("GetOrder", OrderServiceServer.GetOrder)},
		{MethodName: "History", Handler: unary("History", OrderServiceServer.History)},
		{MethodName: "AdjustInventory", Handler: unary("AdjustInventory", OrderServiceServer.AdjustInventory)},
		{MethodName: "UpdateInventorySettings", Handler: unary("UpdateInventorySettings", OrderServiceServer.UpdateInventorySettings)},
		{MethodName: "ListInventory", Handler: unary("ListInventory", OrderServiceServer.ListInventory)},
		{MethodName: "ListOrders", Handler: unary("ListOrders", OrderServiceServer.ListOrders)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "warehouse/v1/order_service.json",
}

func unary[Req, Resp any](method string, call func(OrderServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(OrderServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(OrderServiceServer), ctx, req.(*Req))
		})
	}
}

// LoggingInterceptor logs each call with its request ID, taken from the
// x-request-id metadata or generated.
func LoggingInterceptor(log logrus.FieldLogger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		requestID := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if ids := md.Get("x-request-id"); len(ids) > 0 {
				requestID = ids[0]
			}
		}
		if requestID == "" {
			requestID = uuid.NewString()
		}

		start := time.Now()
		resp, err := handler(ctx, req)
		log.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     info.FullMethod,
			"code":       status.Code(err).String(),
			"duration":   time.Since(start).String(),
		}).Info("handled rpc")
		return resp, err
	}
}

// OrderServiceClient calls OrderService with the JSON codec.
type OrderServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewOrderServiceClient(cc grpc.ClientConnInterface) *OrderServiceClient {
	return &OrderServiceClient{cc: cc}
}

func (c *OrderServiceClient) invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...)
}

func (c *OrderServiceClient) PlaceOrder(ctx context.Context, in *domain.PlaceOrderRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	out := new(OrderResponse)
	if err := c.invoke(ctx, "PlaceOrder", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) ChangeStatus(ctx context.Context, in *ChangeStatusRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	out := new(OrderResponse)
	if err := c.invoke(ctx, "ChangeStatus", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) GetOrder(ctx context.Context, in *OrderIDRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	out := new(OrderResponse)
	if err := c.invoke(ctx, "GetOrder", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) History(ctx context.Context, in *OrderIDRequest, opts ...grpc.CallOption) (*HistoryResponse, error) {
	out := new(HistoryResponse)
	if err := c.invoke(ctx, "History", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) AdjustInventory(ctx context.Context, in *domain.AdjustInventoryRequest, opts ...grpc.CallOption) (*InventoryResponse, error) {
	out := new(InventoryResponse)
	if err := c.invoke(ctx, "AdjustInventory", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) UpdateInventorySettings(ctx context.Context, in *domain.InventorySettingsRequest, opts ...grpc.CallOption) (*InventoryResponse, error) {
	out := new(InventoryResponse)
	if err := c.invoke(ctx, "UpdateInventorySettings", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) ListInventory(ctx context.Context, in *ListRequest, opts ...grpc.CallOption) (*InventoryListResponse, error) {
	out := new(InventoryListResponse)
	if err := c.invoke(ctx, "ListInventory", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) ListOrders(ctx context.Context, in *ListRequest, opts ...grpc.CallOption) (*OrderListResponse, error) {
	out := new(OrderListResponse)
	if err := c.invoke(ctx, "ListOrders", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
