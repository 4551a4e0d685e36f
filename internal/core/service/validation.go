package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/rl1809/warehouse-orders/internal/core/domain"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// validateRequest checks v against its struct tags and reports every failing
// field, named by JSON path (e.g. "items[1].quantity").
func validateRequest(v any) error {
	err := requestValidator().Struct(v)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	verr := &domain.ValidationError{}
	for _, fe := range fieldErrs {
		verr.Add(fieldPath(fe.Namespace()), fieldMessage(fe))
	}
	return verr
}

// fieldPath drops the leading struct type name from a validator namespace.
func fieldPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must contain at least %s entry", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	default:
		return "is invalid"
	}
}

func normalizePlaceOrder(req domain.PlaceOrderRequest) domain.PlaceOrderRequest {
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.CustomerEmail = strings.TrimSpace(req.CustomerEmail)
	req.ShippingAddress = strings.TrimSpace(req.ShippingAddress)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	req.Items = append([]domain.OrderLine(nil), req.Items...)
	return req
}

// validatePlaceOrder adds to the tag checks a bound on the total quantity
// requested per product, reported on the line that crosses it.
func validatePlaceOrder(req domain.PlaceOrderRequest) error {
	verr, err := collect(validateRequest(req))
	if err != nil {
		return err
	}

	totals := make(map[int64]int64, len(req.Items))
	for i, line := range req.Items {
		before := totals[line.ProductID]
		totals[line.ProductID] += int64(line.Quantity)
		if before <= domain.MaxStockQuantity && totals[line.ProductID] > domain.MaxStockQuantity {
			verr.Add(fmt.Sprintf("items[%d].quantity", i),
				fmt.Sprintf("total for product %d exceeds %d", line.ProductID, domain.MaxStockQuantity))
		}
	}
	return verr.OrNil()
}

func validateSettings(req domain.InventorySettingsRequest) error {
	verr, err := collect(validateRequest(req))
	if err != nil {
		return err
	}
	if req.MaxQuantity != nil && *req.MaxQuantity >= 0 && *req.MaxQuantity < req.MinQuantity {
		verr.Add("max_quantity", "must not be less than min_quantity")
	}
	return verr.OrNil()
}

// normalizePage validates page and applies the default limit.
func normalizePage(page domain.Page) (domain.Page, error) {
	if err := validateRequest(page); err != nil {
		return page, err
	}
	if page.Limit == 0 {
		page.Limit = domain.DefaultPageLimit
	}
	return page, nil
}

// collect returns the ValidationError inside err, or an empty one when err is
// nil. Any other error is returned as is.
func collect(err error) (*domain.ValidationError, error) {
	verr := &domain.ValidationError{}
	if err == nil || errors.As(err, &verr) {
		return verr, nil
	}
	return nil, err
}
