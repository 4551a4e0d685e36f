package service

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/warehouse-orders/internal/core/domain"
)

// classify passes business errors through and turns everything else into a
// TransactionError. The store has already rolled back by the time it runs.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsBusinessError(err) {
		return err
	}
	var txErr *domain.TransactionError
	if errors.As(err, &txErr) {
		return err
	}
	return &domain.TransactionError{Op: op, Err: err}
}

func logFailure(log logrus.FieldLogger, msg string, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		log.WithError(errors.Unwrap(err)).Warn(msg + ": aborted")
	case errors.Is(err, domain.ErrTransactionFailure):
		log.WithError(errors.Unwrap(err)).Error(msg)
	default:
		log.WithError(err).Info(msg + ": rejected")
	}
}
