package grpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/chatvault/internal/common"
	"github.com/dmitrijs2005/chatvault/internal/rpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type handlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

type procedure struct {
	mutate bool
	handle handlerFunc
}

// decode wraps a typed handler. A missing payload leaves req zero.
func decode[Req any](fn func(ctx context.Context, req Req) (any, error)) handlerFunc {
	return func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req Req
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, fmt.Errorf("%w: malformed payload: %v", common.ErrorValidation, err)
			}
		}
		return fn(ctx, req)
	}
}

func query(h handlerFunc) procedure  { return procedure{handle: h} }
func mutate(h handlerFunc) procedure { return procedure{mutate: true, handle: h} }

func decodeFrame(req any) (rpc.Request, error) {
	var r rpc.Request
	bv, ok := req.(*wrapperspb.BytesValue)
	if !ok {
		return r, status.Error(codes.InvalidArgument, "unexpected frame type")
	}
	if err := json.Unmarshal(bv.GetValue(), &r); err != nil {
		return r, status.Error(codes.InvalidArgument, "malformed frame")
	}
	return r, nil
}

func (s *GRPCServer) Query(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return s.dispatch(ctx, false, req)
}

func (s *GRPCServer) Mutate(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return s.dispatch(ctx, true, req)
}

func (s *GRPCServer) dispatch(ctx context.Context, mutating bool, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	frame, err := decodeFrame(req)
	if err != nil {
		return nil, err
	}

	p, ok := s.procedures[frame.Procedure]
	if !ok {
		return nil, status.Errorf(codes.Unimplemented, "unknown procedure %q", frame.Procedure)
	}
	if p.mutate != mutating {
		return nil, status.Errorf(codes.InvalidArgument, "procedure %q sent to the wrong method", frame.Procedure)
	}

	result, err := p.handle(ctx, frame.Payload)
	if err != nil {
		return nil, s.toStatus(ctx, frame.Procedure, err)
	}
	if result == nil {
		return &wrapperspb.BytesValue{}, nil
	}

	out, err := json.Marshal(result)
	if err != nil {
		return nil, s.toStatus(ctx, frame.Procedure, err)
	}
	return wrapperspb.Bytes(out), nil
}

func (s *GRPCServer) dispatchTable() map[string]procedure {
	t := map[string]procedure{
		rpc.Ping: query(func(context.Context, json.RawMessage) (any, error) {
			return rpc.PingResponse{Status: "OK"}, nil
		}),

		rpc.AuthRegister: mutate(decode(s.register)),
		rpc.AuthSalt:     query(decode(s.salt)),
		rpc.AuthLogin:    mutate(decode(s.login)),
		rpc.AuthRefresh:  mutate(decode(s.refresh)),

		rpc.CredentialsList:        query(decode(s.listCredentials)),
		rpc.CredentialsDelete:      mutate(decode(s.deleteCredential)),
		rpc.PasswordGet:            query(decode(s.getKDF(rpc.MethodPassword))),
		rpc.PasswordSet:            mutate(decode(s.setKDF(rpc.MethodPassword))),
		rpc.RecoveryGet:            query(decode(s.getKDF(rpc.MethodRecoveryPhrase))),
		rpc.RecoverySet:            mutate(decode(s.setKDF(rpc.MethodRecoveryPhrase))),
		rpc.PasskeyCreationOptions: query(decode(s.passkeyCreationOptions)),
		rpc.PasskeyRegister:        mutate(decode(s.registerPasskey)),
		rpc.PasskeyRequestOptions:  query(decode(s.passkeyRequestOptions)),
		rpc.PasskeyVerify:          mutate(decode(s.verifyPasskey)),
		rpc.PasskeyRename:          mutate(decode(s.renamePasskey)),

		rpc.DevicesRegister: mutate(decode(s.registerDevice)),
		rpc.DevicesList:     query(decode(s.listDevices)),
		rpc.DevicesRevoke:   mutate(decode(s.revokeDevice)),
	}

	for _, kind := range []string{rpc.KindChats, rpc.KindFolders, rpc.KindNotes} {
		t[kind+".list"] = query(decode(s.listRecords(kind)))
		t[kind+".create"] = mutate(decode(s.createRecord(kind)))
		t[kind+".update"] = mutate(decode(s.updateRecord(kind)))
		t[kind+".delete"] = mutate(decode(s.deleteRecord(kind)))
		if kind != rpc.KindFolders {
			t[kind+".get"] = query(decode(s.getRecord(kind)))
		}
	}
	return t
}

// --- account ---

func (s *GRPCServer) register(ctx context.Context, req rpc.RegisterRequest) (any, error) {
	user, err := s.svc.Users.Register(ctx, req.Username, req.Salt, req.Verifier)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "Registered", "username", req.Username, "user_id", user.ID)
	return rpc.Empty{}, nil
}

func (s *GRPCServer) salt(ctx context.Context, req rpc.SaltRequest) (any, error) {
	salt, err := s.svc.Users.GetSalt(ctx, req.Username)
	if err != nil {
		return nil, err
	}
	return rpc.SaltResponse{Salt: salt}, nil
}

func (s *GRPCServer) login(ctx context.Context, req rpc.LoginRequest) (any, error) {
	tokens, err := s.svc.Users.Login(ctx, req.Username, req.Verifier, req.DeviceID)
	if err != nil {
		return nil, err
	}
	return rpc.Tokens{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken}, nil
}

func (s *GRPCServer) refresh(ctx context.Context, req rpc.RefreshRequest) (any, error) {
	tokens, err := s.svc.Users.RefreshToken(ctx, req.RefreshToken)
	if err != nil {
		return nil, err
	}
	return rpc.Tokens{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken}, nil
}

// --- records ---

func (s *GRPCServer) listRecords(kind string) func(context.Context, rpc.Empty) (any, error) {
	return func(ctx context.Context, _ rpc.Empty) (any, error) {
		list, err := s.svc.Records.List(ctx, userIDFrom(ctx), kind)
		if err != nil {
			return nil, err
		}
		return rpc.RecordList{Records: list}, nil
	}
}

func (s *GRPCServer) getRecord(kind string) func(context.Context, rpc.ByID) (any, error) {
	return func(ctx context.Context, req rpc.ByID) (any, error) {
		return s.svc.Records.Get(ctx, userIDFrom(ctx), kind, req.ID)
	}
}

func (s *GRPCServer) createRecord(kind string) func(context.Context, rpc.Record) (any, error) {
	return func(ctx context.Context, req rpc.Record) (any, error) {
		rec, err := s.svc.Records.Create(ctx, userIDFrom(ctx), kind, req)
		if err != nil {
			return nil, err
		}
		return rec.Summary(), nil
	}
}

func (s *GRPCServer) updateRecord(kind string) func(context.Context, rpc.Record) (any, error) {
	return func(ctx context.Context, req rpc.Record) (any, error) {
		rec, err := s.svc.Records.Update(ctx, userIDFrom(ctx), kind, req)
		if err != nil {
			return nil, err
		}
		return rec.Summary(), nil
	}
}

func (s *GRPCServer) deleteRecord(kind string) func(context.Context, rpc.ByID) (any, error) {
	return func(ctx context.Context, req rpc.ByID) (any, error) {
		return nil, s.svc.Records.Delete(ctx, userIDFrom(ctx), kind, req.ID)
	}
}

// --- credentials ---

func (s *GRPCServer) listCredentials(ctx context.Context, _ rpc.Empty) (any, error) {
	list, err := s.svc.Credentials.List(ctx, userIDFrom(ctx))
	if err != nil {
		return nil, err
	}
	return rpc.CredentialList{Credentials: list}, nil
}

func (s *GRPCServer) deleteCredential(ctx context.Context, req rpc.ByID) (any, error) {
	return nil, s.svc.Credentials.Delete(ctx, userIDFrom(ctx), req.ID)
}

func (s *GRPCServer) getKDF(method string) func(context.Context, rpc.Empty) (any, error) {
	return func(ctx context.Context, _ rpc.Empty) (any, error) {
		return s.svc.Credentials.GetKDF(ctx, userIDFrom(ctx), method)
	}
}

func (s *GRPCServer) setKDF(method string) func(context.Context, rpc.SetKDFCredential) (any, error) {
	return func(ctx context.Context, req rpc.SetKDFCredential) (any, error) {
		c, err := s.svc.Credentials.SetKDF(ctx, userIDFrom(ctx), method, req)
		if err != nil {
			return nil, err
		}
		return rpc.ByID{ID: c.ID}, nil
	}
}

func (s *GRPCServer) passkeyCreationOptions(ctx context.Context, _ rpc.Empty) (any, error) {
	return s.svc.Credentials.PasskeyCreationOptions(ctx, userIDFrom(ctx))
}

func (s *GRPCServer) registerPasskey(ctx context.Context, req rpc.PasskeyRegistration) (any, error) {
	return s.svc.Credentials.RegisterPasskey(ctx, userIDFrom(ctx), req)
}

func (s *GRPCServer) passkeyRequestOptions(ctx context.Context, _ rpc.Empty) (any, error) {
	return s.svc.Credentials.PasskeyRequestOptions(ctx, userIDFrom(ctx))
}

func (s *GRPCServer) verifyPasskey(ctx context.Context, req rpc.Assertion) (any, error) {
	return s.svc.Credentials.VerifyPasskey(ctx, userIDFrom(ctx), req)
}

func (s *GRPCServer) renamePasskey(ctx context.Context, req rpc.PasskeyRenaming) (any, error) {
	return nil, s.svc.Credentials.RenamePasskey(ctx, userIDFrom(ctx), req)
}

// --- devices ---

func (s *GRPCServer) registerDevice(ctx context.Context, req rpc.DeviceRegistration) (any, error) {
	return nil, s.svc.Devices.Register(ctx, userIDFrom(ctx), deviceIDFrom(ctx), req.EncryptedLabel)
}

func (s *GRPCServer) listDevices(ctx context.Context, _ rpc.Empty) (any, error) {
	list, err := s.svc.Devices.List(ctx, userIDFrom(ctx))
	if err != nil {
		return nil, err
	}
	return rpc.DeviceList{Devices: list}, nil
}

func (s *GRPCServer) revokeDevice(ctx context.Context, req rpc.ByID) (any, error) {
	if err := s.svc.Devices.Revoke(ctx, userIDFrom(ctx), req.ID); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "Device revoked", "user_id", userIDFrom(ctx), "device_id", req.ID)
	return nil, nil
}
