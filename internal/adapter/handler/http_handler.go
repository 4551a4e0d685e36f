package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/warehouse-orders/internal/core/domain"
	"github.com/rl1809/warehouse-orders/internal/core/service"
)

const (
	requestIDHeader   = "X-Request-ID"
	idempotencyHeader = "Idempotency-Key"
)

type HTTPHandler struct {
	orderService *service.OrderService
	log          logrus.FieldLogger
}

func NewHTTPHandler(orderService *service.OrderService, log logrus.FieldLogger) *HTTPHandler {
	return &HTTPHandler{orderService: orderService, log: log}
}

func (h *HTTPHandler) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/orders", h.PlaceOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders", h.ListOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id:[0-9]+}", h.GetOrder).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id:[0-9]+}/status", h.ChangeStatus).Methods(http.MethodPut)
	api.HandleFunc("/orders/{id:[0-9]+}/history", h.History).Methods(http.MethodGet)
	api.HandleFunc("/inventory", h.ListInventory).Methods(http.MethodGet)
	api.HandleFunc("/inventory/adjust", h.AdjustInventory).Methods(http.MethodPost)
	api.HandleFunc("/inventory/settings/{productId:[0-9]+}", h.UpdateInventorySettings).Methods(http.MethodPut)
	api.HandleFunc("/inventory/{productId:[0-9]+}", h.Inventory).Methods(http.MethodGet)

	r.Use(h.requestMiddleware)
	return r
}

func (h *HTTPHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "invalid_body"})
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get(idempotencyHeader)
	}

	order, err := h.orderService.PlaceOrder(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	order, err := h.orderService.GetOrder(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *HTTPHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	var req ChangeStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "invalid_body"})
		return
	}
	status, err := parseStatus(req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	order, err := h.orderService.ChangeStatus(r.Context(), id, status, req.Note)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *HTTPHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	entries, err := h.orderService.History(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toHistoryResponse(id, entries))
}

func (h *HTTPHandler) AdjustInventory(w http.ResponseWriter, r *http.Request) {
	var req domain.AdjustInventoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "invalid_body"})
		return
	}

	record, err := h.orderService.AdjustInventory(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInventoryResponse(record))
}

func (h *HTTPHandler) Inventory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "productId")
	if !ok {
		return
	}
	record, err := h.orderService.Inventory(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInventoryResponse(record))
}

func (h *HTTPHandler) UpdateInventorySettings(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "productId")
	if !ok {
		return
	}

	var req domain.InventorySettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "invalid_body"})
		return
	}
	req.ProductID = id

	record, err := h.orderService.UpdateInventorySettings(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInventoryResponse(record))
}

func (h *HTTPHandler) ListInventory(w http.ResponseWriter, r *http.Request) {
	page, err := pageQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	levels, err := h.orderService.ListInventory(r.Context(), page)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInventoryListResponse(levels, page))
}

func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	page, err := pageQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	orders, err := h.orderService.ListOrders(r.Context(), page)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderListResponse(orders, page))
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		verr := &domain.ValidationError{}
		verr.Add(name, "must be a positive integer")
		h.writeError(w, r, verr)
		return 0, false
	}
	return id, true
}

// pageQuery reads the limit and offset query parameters.
func pageQuery(r *http.Request) (domain.Page, error) {
	var page domain.Page
	verr := &domain.ValidationError{}
	params := []struct {
		name string
		dst  *int
	}{{"limit", &page.Limit}, {"offset", &page.Offset}}
	for _, p := range params {
		name, dst := p.name, p.dst
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			verr.Add(name, "must be an integer")
			continue
		}
		*dst = v
	}
	return page, verr.OrNil()
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorBody(err)
	if status == http.StatusInternalServerError {
		h.log.WithError(err).WithField("request_id", r.Header.Get(requestIDHeader)).Error("unhandled error")
	}
	writeJSON(w, status, body)
}

// requestMiddleware assigns a request ID when the caller sent none and logs
// every request once it completes.
func (h *HTTPHandler) requestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
			r.Header.Set(requestIDHeader, requestID)
		}
		w.Header().Set(requestIDHeader, requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		h.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     r.Method,
			"url":        r.URL.Path,
			"status":     rec.status,
			"duration":   time.Since(start).String(),
		}).Info("handled request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
