// Package grpc serves the chatvault.v1.Vault service. The service has two
// unary methods, Query and Mutate, whose frames are protobuf BytesValue
// messages carrying a JSON rpc.Request; procedures are dispatched by name.
package grpc

import (
	"context"
	"net"
	"time"

	"github.com/dmitrijs2005/chatvault/internal/cryptox"
	"github.com/dmitrijs2005/chatvault/internal/logging"
	"github.com/dmitrijs2005/chatvault/internal/rpc"
	"github.com/dmitrijs2005/chatvault/internal/server/models"
	"github.com/dmitrijs2005/chatvault/internal/server/services"
	"google.golang.org/grpc"
)

type UserService interface {
	Register(ctx context.Context, username string, salt, verifier []byte) (*models.User, error)
	GetSalt(ctx context.Context, username string) ([]byte, error)
	Login(ctx context.Context, username string, verifier []byte, deviceID string) (*services.TokenPair, error)
	RefreshToken(ctx context.Context, refreshToken string) (*services.TokenPair, error)
}

type RecordService interface {
	List(ctx context.Context, userID, kind string) ([]rpc.Record, error)
	Get(ctx context.Context, userID, kind, id string) (*rpc.Record, error)
	Create(ctx context.Context, userID, kind string, rec rpc.Record) (*rpc.Record, error)
	Update(ctx context.Context, userID, kind string, rec rpc.Record) (*rpc.Record, error)
	Delete(ctx context.Context, userID, kind, id string) error
}

type CredentialService interface {
	List(ctx context.Context, userID string) ([]rpc.Credential, error)
	Delete(ctx context.Context, userID, id string) error
	GetKDF(ctx context.Context, userID, method string) (*rpc.Credential, error)
	SetKDF(ctx context.Context, userID, method string, req rpc.SetKDFCredential) (*rpc.Credential, error)
	PasskeyCreationOptions(ctx context.Context, userID string) (*rpc.PasskeyCreation, error)
	RegisterPasskey(ctx context.Context, userID string, req rpc.PasskeyRegistration) (*rpc.Credential, error)
	PasskeyRequestOptions(ctx context.Context, userID string) (*rpc.PasskeyRequest, error)
	VerifyPasskey(ctx context.Context, userID string, a rpc.Assertion) (*rpc.PasskeyVerified, error)
	RenamePasskey(ctx context.Context, userID string, req rpc.PasskeyRenaming) error
}

type DeviceService interface {
	Register(ctx context.Context, userID, deviceID string, label cryptox.Envelope) error
	List(ctx context.Context, userID string) ([]rpc.Device, error)
	Revoke(ctx context.Context, userID, deviceID string) error
	IsRevoked(ctx context.Context, userID, deviceID string) (bool, error)
}

// Recorder receives one observation per handled procedure.
type Recorder interface {
	ObserveRPC(procedure, code string, d time.Duration)
}

// Services groups everything the handlers call.
type Services struct {
	Users       UserService
	Records     RecordService
	Credentials CredentialService
	Devices     DeviceService
}

type GRPCServer struct {
	address    string
	svc        Services
	logger     logging.Logger
	recorder   Recorder
	jwtSecret  []byte
	procedures map[string]procedure
}

func NewGRPCServer(a string, l logging.Logger, svc Services, recorder Recorder, secretKey string) *GRPCServer {
	s := &GRPCServer{
		address:   a,
		logger:    logging.OrNop(l).With("module", "grpc_server"),
		svc:       svc,
		recorder:  recorder,
		jwtSecret: []byte(secretKey),
	}
	s.procedures = s.dispatchTable()
	return s
}

// NewServer builds a *grpc.Server with the interceptors and the service
// registered, ready to Serve on any listener.
func (s *GRPCServer) NewServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.observeInterceptor, s.accessTokenInterceptor))
	srv.RegisterService(&serviceDesc, s)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {
	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is cancelled, then stops
// gracefully.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.NewServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(lis); err != nil {
		return err
	}

	return nil
}
