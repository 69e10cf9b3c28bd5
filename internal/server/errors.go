package server

import (
	"context"
	"errors"

	"PoolLedger/internal/auth"
	"PoolLedger/internal/core"
	"PoolLedger/internal/errs"
	"PoolLedger/internal/ingestion"
	"PoolLedger/internal/market"
	"PoolLedger/internal/order"
	"PoolLedger/internal/query"

	"google.golang.org/grpc/codes"
)

// errorCode maps a failure to a gRPC code; the HTTP status follows from it.
// Named failures win over their class.
func errorCode(err error) codes.Code {
	switch {
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, auth.ErrUnauthorized):
		return codes.PermissionDenied
	case errors.Is(err, market.ErrMarketNotFound),
		errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, ingestion.ErrUnknownEventType):
		return codes.NotFound
	case errors.Is(err, core.ErrHalted),
		errors.Is(err, query.ErrHistoryUnavailable):
		return codes.Unavailable
	}

	switch errs.ClassOf(err) {
	case errs.ErrValidation:
		return codes.InvalidArgument
	case errs.ErrInsufficientLiquidity,
		errs.ErrInsufficientOutput,
		errs.ErrSolvency,
		errs.ErrHealthCheck,
		errs.ErrUnacceptablePrice,
		errs.ErrStalePrice:
		return codes.FailedPrecondition
	}
	return codes.Internal
}

// errorClass names the failure class for clients, empty when unclassified.
func errorClass(err error) string {
	if class := errs.ClassOf(err); class != nil {
		return class.Error()
	}
	return ""
}

// ErrBadRequest covers malformed HTTP input.
var ErrBadRequest = errs.New(errs.ErrValidation, "bad request")

func badRequest(format string, args ...any) error {
	return errs.Wrap(ErrBadRequest, format, args...)
}
