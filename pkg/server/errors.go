package server

import (
	"context"
	"errors"

	"github.com/pixperk/printmesh/pkg/types"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// converts domain errors to gRPC status errors
func toGRPCError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())

	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	case errors.Is(err, types.ErrRequestInFlight),
		errors.Is(err, types.ErrNotWanted),
		errors.Is(err, types.ErrNotHeld):
		return status.Error(codes.FailedPrecondition, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
