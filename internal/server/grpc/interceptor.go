package grpc

import (
	"context"
	"time"

	"github.com/dmitrijs2005/chatvault/internal/common"
	"github.com/dmitrijs2005/chatvault/internal/rpc"
	"github.com/dmitrijs2005/chatvault/internal/server/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey string

const (
	userIDKey   ctxKey = "userID"
	deviceIDKey ctxKey = "deviceID"
)

func userIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}

func deviceIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(deviceIDKey).(string)
	return v
}

func accessTokenFrom(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(common.AccessTokenHeaderName)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// accessTokenInterceptor authenticates every non-public procedure and puts
// the caller's user and device ids in the context. Tokens of a revoked
// device are refused even before they expire.
func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	frame, err := decodeFrame(req)
	if err != nil {
		return nil, err
	}
	if rpc.Public(frame.Procedure) {
		return handler(ctx, req)
	}

	accessToken := accessTokenFrom(ctx)
	if len(accessToken) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	claims, err := auth.ParseToken(accessToken, s.jwtSecret)
	if err != nil {
		return nil, s.toStatus(ctx, frame.Procedure, err)
	}

	if claims.DeviceID != "" && s.svc.Devices != nil {
		revoked, err := s.svc.Devices.IsRevoked(ctx, claims.UserID, claims.DeviceID)
		if err != nil {
			return nil, s.toStatus(ctx, frame.Procedure, err)
		}
		if revoked {
			return nil, status.Error(codes.PermissionDenied, common.ErrDeviceRevoked.Error())
		}
	}

	ctx = context.WithValue(ctx, userIDKey, claims.UserID)
	ctx = context.WithValue(ctx, deviceIDKey, claims.DeviceID)

	return handler(ctx, req)
}

// observeInterceptor logs and counts every call with its procedure, result
// code and duration.
func (s *GRPCServer) observeInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	elapsed := time.Since(start)

	procedure := "unknown"
	if frame, ferr := decodeFrame(req); ferr == nil && frame.Procedure != "" {
		procedure = frame.Procedure
	}
	code := status.Code(err)

	if s.recorder != nil {
		s.recorder.ObserveRPC(procedure, code.String(), elapsed)
	}

	args := []any{"method", info.FullMethod, "procedure", procedure, "code", code.String(), "duration", elapsed}
	if code == codes.Internal || code == codes.Unknown {
		s.logger.Warn(ctx, "rpc", args...)
	} else {
		s.logger.Debug(ctx, "rpc", args...)
	}
	return resp, err
}
