package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/chatvault/internal/common"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps service errors to gRPC statuses. Rejections carry the
// service message; anything unrecognised is logged and reported as Internal
// without detail.
func (s *GRPCServer) toStatus(ctx context.Context, procedure string, err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, common.ErrTokenExpired):
		return status.Error(codes.Unauthenticated, common.ErrTokenExpired.Error())
	case errors.Is(err, common.ErrorUnauthorized), errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrRefreshTokenExpired):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, common.ErrDeviceRevoked), errors.Is(err, common.ErrPasskeyInvalid):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, common.ErrorNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, common.ErrorAlreadyExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, common.ErrorValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrVersionConflict), errors.Is(err, common.ErrLastCredential):
		return status.Error(codes.FailedPrecondition, err.Error())
	}

	s.logger.Error(ctx, "procedure failed", "procedure", procedure, "error", err)
	return status.Error(codes.Internal, common.ErrorInternal.Error())
}
