package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/chatvault/internal/common"
	"github.com/dmitrijs2005/chatvault/internal/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type GRPCClient struct {
	endpointURL string
	conn        *grpc.ClientConn
	tokens      TokenSource
	refreshMu   sync.Mutex
}

// NewGRPCClient dials endpointURL lazily. Extra dial options are appended
// after the defaults (tests pass a bufconn dialer here).
func NewGRPCClient(endpointURL string, tokens TokenSource, opts ...grpc.DialOption) (*GRPCClient, error) {
	c := &GRPCClient{endpointURL: endpointURL, tokens: tokens}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(c.accessTokenInterceptor),
	}, opts...)

	conn, err := grpc.NewClient(endpointURL, dialOpts...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return c, nil
}

func (s *GRPCClient) Close() error {
	return s.conn.Close()
}

func (s *GRPCClient) Query(ctx context.Context, procedure string, payload, out any) error {
	return s.call(ctx, rpc.QueryMethod, procedure, payload, out)
}

func (s *GRPCClient) Mutate(ctx context.Context, procedure string, payload, out any) error {
	return s.call(ctx, rpc.MutateMethod, procedure, payload, out)
}

// Ping reports whether the server answers at all.
func (s *GRPCClient) Ping(ctx context.Context) error {
	var resp rpc.PingResponse
	if err := s.Query(ctx, rpc.Ping, rpc.Empty{}, &resp); err != nil {
		return err
	}
	if resp.Status != "OK" {
		return ErrUnavailable
	}
	return nil
}

func (s *GRPCClient) call(ctx context.Context, method, procedure string, payload, out any) error {
	req, err := encodeRequest(procedure, payload)
	if err != nil {
		return err
	}

	reply := &wrapperspb.BytesValue{}
	if err := s.conn.Invoke(ctx, method, req, reply); err != nil {
		return mapError(err)
	}

	if out == nil || len(reply.GetValue()) == 0 {
		return nil
	}
	if err := json.Unmarshal(reply.GetValue(), out); err != nil {
		return fmt.Errorf("decode %s reply: %w", procedure, err)
	}
	return nil
}

func encodeRequest(procedure string, payload any) (*wrapperspb.BytesValue, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", procedure, err)
		}
		raw = b
	}
	frame, err := json.Marshal(rpc.Request{Procedure: procedure, Payload: raw})
	if err != nil {
		return nil, err
	}
	return wrapperspb.Bytes(frame), nil
}

// procedureOf peeks at the procedure name carried by an outbound frame.
func procedureOf(req any) string {
	bv, ok := req.(*wrapperspb.BytesValue)
	if !ok {
		return ""
	}
	var r rpc.Request
	if err := json.Unmarshal(bv.GetValue(), &r); err != nil {
		return ""
	}
	return r.Procedure
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.AccessTokenHeaderName, token)

	return metadata.NewOutgoingContext(ctx, md)
}

func (s *GRPCClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {

	if rpc.Public(procedureOf(req)) || s.tokens == nil {
		return invoker(ctx, method, req, reply, cc, opts...)
	}

	token, err := s.tokens.Token(ctx)
	if err != nil {
		return status.Error(codes.Unauthenticated, err.Error())
	}

	err = invoker(withAccessToken(ctx, token), method, req, reply, cc, opts...)
	if !isTokenExpired(err) {
		return err
	}

	token, rerr := s.refresh(ctx, token, cc, invoker, opts...)
	if rerr != nil {
		return err
	}

	// tokens refreshed, retry once with the new access token
	return invoker(withAccessToken(ctx, token), method, req, reply, cc, opts...)
}

func isTokenExpired(err error) bool {
	st, ok := status.FromError(err)
	if !ok || err == nil {
		return false
	}
	return st.Code() == codes.Unauthenticated && st.Message() == common.ErrTokenExpired.Error()
}

// refresh renews the token pair once per expiry: concurrent callers that
// failed with the same stale token wait for the first refresh and reuse it.
func (s *GRPCClient) refresh(ctx context.Context, stale string, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) (string, error) {
	r, ok := s.tokens.(refresher)
	if !ok {
		return "", errors.New("token source cannot refresh")
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	if current, err := s.tokens.Token(ctx); err == nil && current != stale {
		return current, nil
	}

	refreshToken := r.RefreshToken()
	if refreshToken == "" {
		return "", ErrNotSignedIn
	}

	req, err := encodeRequest(rpc.AuthRefresh, rpc.RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return "", err
	}
	reply := &wrapperspb.BytesValue{}
	if err := invoker(ctx, rpc.MutateMethod, req, reply, cc, opts...); err != nil {
		return "", err
	}

	var tokens rpc.Tokens
	if err := json.Unmarshal(reply.GetValue(), &tokens); err != nil {
		return "", err
	}
	r.Set(tokens)
	return tokens.AccessToken, nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("rpc error: %w", err)
	}
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %s", ErrUnauthorized, st.Message())
	case codes.Unavailable:
		return ErrUnavailable
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %w", ErrUnavailable, context.DeadlineExceeded)
	case codes.Canceled:
		return fmt.Errorf("rpc cancelled: %w", context.Canceled)
	case codes.InvalidArgument, codes.NotFound, codes.AlreadyExists,
		codes.FailedPrecondition, codes.Aborted, codes.OutOfRange:
		return &RejectedError{Code: st.Code(), Message: st.Message()}
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}
