package handler

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/warehouse-orders/internal/core/domain"
)

// errorBody maps a core error to its HTTP status and response body.
func errorBody(err error) (int, ErrorResponse) {
	body := ErrorResponse{Error: err.Error()}

	var (
		verr     *domain.ValidationError
		notFound *domain.ProductNotFoundError
		stockErr *domain.StockError
		trErr    *domain.TransitionError
	)
	switch {
	case errors.As(err, &verr):
		body.Code = "validation_failed"
		body.Fields = verr.Fields
		return http.StatusBadRequest, body
	case errors.As(err, &notFound):
		body.Code = "product_not_found"
		body.ProductIDs = notFound.ProductIDs
		return http.StatusNotFound, body
	case errors.As(err, &stockErr):
		body.ProductID = stockErr.ProductID
		if errors.Is(err, domain.ErrProductOrInventoryNotFound) {
			body.Code = "product_or_inventory_not_found"
			return http.StatusNotFound, body
		}
		body.Code = "insufficient_stock"
		body.Requested = &stockErr.Requested
		body.Available = &stockErr.Available
		return http.StatusConflict, body
	case errors.Is(err, domain.ErrOrderNotFound):
		body.Code = "order_not_found"
		return http.StatusNotFound, body
	case errors.As(err, &trErr):
		body.Code = "invalid_transition"
		body.From = string(trErr.From)
		body.To = string(trErr.To)
		return http.StatusConflict, body
	case errors.Is(err, domain.ErrDuplicateRequest):
		body.Code = "duplicate_request"
		return http.StatusConflict, body
	case errors.Is(err, domain.ErrTransactionFailure):
		body.Code = "transaction_failed"
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout, body
		}
		return http.StatusServiceUnavailable, body
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: "internal"}
	}
}

// grpcError maps a core error to a gRPC status. Validation failures carry a
// BadRequest detail listing every field.
func grpcError(err error) error {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		st := status.New(codes.InvalidArgument, err.Error())
		br := &errdetails.BadRequest{}
		for _, f := range verr.Fields {
			br.FieldViolations = append(br.FieldViolations, &errdetails.BadRequest_FieldViolation{
				Field:       f.Field,
				Description: f.Message,
			})
		}
		if withDetails, detailErr := st.WithDetails(br); detailErr == nil {
			st = withDetails
		}
		return st.Err()
	}

	switch {
	case errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrProductOrInventoryNotFound),
		errors.Is(err, domain.ErrOrderNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrInvalidTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrDuplicateRequest):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, domain.ErrTransactionFailure):
		if errors.Is(err, context.DeadlineExceeded) {
			return status.Error(codes.DeadlineExceeded, err.Error())
		}
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
