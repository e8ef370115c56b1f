package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/chatvault/internal/client/client"
	"github.com/dmitrijs2005/chatvault/internal/client/repositories/records"
	"github.com/dmitrijs2005/chatvault/internal/cryptox"
	"github.com/dmitrijs2005/chatvault/internal/rpc"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

// ---- fake server ----

// fakeServer is an in-memory stand-in for the vault server. Payloads and
// replies go through JSON, as they would on the wire.
type fakeServer struct {
	mu      sync.Mutex
	records map[string]map[string]rpc.Record
	devices []rpc.Device
	creds   []rpc.Credential
	users   map[string]rpc.RegisterRequest
	seq     int
	now     time.Time

	// fail injects an error for a procedure.
	fail  map[string]error
	calls []string
	last  map[string]json.RawMessage
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		records: map[string]map[string]rpc.Record{},
		users:   map[string]rpc.RegisterRequest{},
		fail:    map[string]error{},
		last:    map[string]json.RawMessage{},
		now:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

var _ client.Client = (*fakeServer)(nil)

func rejected(code codes.Code, msg string) error {
	return &client.RejectedError{Code: code, Message: msg}
}

func transcode(in, out any) error {
	if out == nil {
		return nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func (f *fakeServer) Query(ctx context.Context, procedure string, payload, out any) error {
	return f.handle(ctx, procedure, payload, out)
}

func (f *fakeServer) Mutate(ctx context.Context, procedure string, payload, out any) error {
	return f.handle(ctx, procedure, payload, out)
}

func (f *fakeServer) Close() error { return nil }

func (f *fakeServer) callCount(procedure string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == procedure {
			n++
		}
	}
	return n
}

func (f *fakeServer) stored(kind, id string) rpc.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[kind][id]
}

func (f *fakeServer) put(kind string, rec rpc.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.records[kind] == nil {
		f.records[kind] = map[string]rpc.Record{}
	}
	f.records[kind][rec.ID] = rec
}

func (f *fakeServer) handle(ctx context.Context, procedure string, payload, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, procedure)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rpc cancelled: %w", err)
	}
	if err := f.fail[procedure]; err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	f.last[procedure] = raw

	if kind := rpc.Kind(procedure); kind != "" {
		return f.handleRecord(kind, strings.TrimPrefix(procedure, kind+"."), raw, out)
	}

	switch procedure {
	case rpc.Ping:
		return transcode(rpc.PingResponse{Status: "OK"}, out)
	case rpc.AuthRegister:
		var req rpc.RegisterRequest
		_ = json.Unmarshal(raw, &req)
		if _, ok := f.users[req.Username]; ok {
			return rejected(codes.AlreadyExists, "user exists")
		}
		f.users[req.Username] = req
		return nil
	case rpc.AuthSalt:
		var req rpc.SaltRequest
		_ = json.Unmarshal(raw, &req)
		return transcode(rpc.SaltResponse{Salt: f.users[req.Username].Salt}, out)
	case rpc.AuthLogin:
		var req rpc.LoginRequest
		_ = json.Unmarshal(raw, &req)
		u, ok := f.users[req.Username]
		if !ok || string(u.Verifier) != string(req.Verifier) {
			return fmt.Errorf("%w: bad credentials", client.ErrUnauthorized)
		}
		return transcode(rpc.Tokens{AccessToken: "access-" + req.DeviceID, RefreshToken: "refresh"}, out)

	case rpc.DevicesList:
		return transcode(rpc.DeviceList{Devices: f.devices}, out)
	case rpc.DevicesRegister:
		return nil
	case rpc.DevicesRevoke:
		var req rpc.ByID
		_ = json.Unmarshal(raw, &req)
		for i := range f.devices {
			if f.devices[i].ID == req.ID {
				f.devices[i].Revoked = true
				return nil
			}
		}
		return rejected(codes.NotFound, "device not found")

	case rpc.CredentialsList:
		list := rpc.CredentialList{Credentials: []rpc.Credential{}}
		for _, c := range f.creds {
			c.EncryptedMasterKey = cryptox.Envelope{}
			list.Credentials = append(list.Credentials, c)
		}
		return transcode(list, out)
	case rpc.PasswordSet, rpc.RecoverySet:
		var req rpc.SetKDFCredential
		_ = json.Unmarshal(raw, &req)
		method := rpc.MethodPassword
		if procedure == rpc.RecoverySet {
			method = rpc.MethodRecoveryPhrase
		}
		c := rpc.Credential{ID: f.nextID("cred"), Method: method, EncryptedMasterKey: req.EncryptedMasterKey,
			Salt: req.Salt, Argon2: req.Argon2, Scrypt: req.Scrypt, CreatedAt: f.now}
		f.removeMethod(method)
		f.creds = append(f.creds, c)
		return transcode(rpc.ByID{ID: c.ID}, out)
	case rpc.PasswordGet, rpc.RecoveryGet:
		method := rpc.MethodPassword
		if procedure == rpc.RecoveryGet {
			method = rpc.MethodRecoveryPhrase
		}
		for _, c := range f.creds {
			if c.Method == method {
				return transcode(c, out)
			}
		}
		return rejected(codes.NotFound, "credential not found")
	case rpc.PasskeyRename:
		var req rpc.PasskeyRenaming
		_ = json.Unmarshal(raw, &req)
		for i := range f.creds {
			if f.creds[i].ID == req.ID && f.creds[i].Passkey != nil {
				f.creds[i].Passkey.EncryptedName = req.EncryptedName
				return nil
			}
		}
		return rejected(codes.NotFound, "credential not found")
	case rpc.CredentialsDelete:
		var req rpc.ByID
		_ = json.Unmarshal(raw, &req)
		if len(f.creds) <= 1 {
			return rejected(codes.FailedPrecondition, "last unlock credential")
		}
		for i, c := range f.creds {
			if c.ID == req.ID {
				f.creds = append(f.creds[:i], f.creds[i+1:]...)
				return nil
			}
		}
		return rejected(codes.NotFound, "credential not found")
	}
	return fmt.Errorf("unexpected procedure %s", procedure)
}

func (f *fakeServer) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeServer) removeMethod(method string) {
	kept := f.creds[:0]
	for _, c := range f.creds {
		if c.Method != method {
			kept = append(kept, c)
		}
	}
	f.creds = kept
}

func (f *fakeServer) handleRecord(kind, op string, raw []byte, out any) error {
	if f.records[kind] == nil {
		f.records[kind] = map[string]rpc.Record{}
	}
	table := f.records[kind]

	switch op {
	case "list":
		list := rpc.RecordList{Records: []rpc.Record{}}
		for _, rec := range table {
			list.Records = append(list.Records, rec.Summary())
		}
		sort.Slice(list.Records, func(i, j int) bool { return list.Records[i].ID < list.Records[j].ID })
		return transcode(list, out)
	case "get":
		var req rpc.ByID
		_ = json.Unmarshal(raw, &req)
		rec, ok := table[req.ID]
		if !ok {
			return rejected(codes.NotFound, kind+" not found")
		}
		return transcode(rec, out)
	case "create":
		var rec rpc.Record
		_ = json.Unmarshal(raw, &rec)
		rec.ID = f.nextID(kind)
		rec.Version = 1
		rec.CreatedAt, rec.UpdatedAt = f.now, f.now
		table[rec.ID] = rec
		return transcode(rec.Summary(), out)
	case "update":
		var rec rpc.Record
		_ = json.Unmarshal(raw, &rec)
		cur, ok := table[rec.ID]
		if !ok {
			return rejected(codes.NotFound, kind+" not found")
		}
		if cur.Version != rec.Version {
			return rejected(codes.FailedPrecondition, "version conflict")
		}
		rec.Key = cur.Key
		if rec.Body == nil {
			rec.Body = cur.Body
		}
		rec.Version = cur.Version + 1
		rec.CreatedAt = cur.CreatedAt
		f.now = f.now.Add(time.Second)
		rec.UpdatedAt = f.now
		table[rec.ID] = rec
		return transcode(rec.Summary(), out)
	case "delete":
		var req rpc.ByID
		_ = json.Unmarshal(raw, &req)
		if _, ok := table[req.ID]; !ok {
			return rejected(codes.NotFound, kind+" not found")
		}
		delete(table, req.ID)
		switch kind {
		case rpc.KindFolders:
			f.detach(rpc.KindChats, func(r *rpc.Record) *string { return &r.FolderID }, req.ID)
			f.detach(rpc.KindNotes, func(r *rpc.Record) *string { return &r.FolderID }, req.ID)
		case rpc.KindNotes:
			f.detach(rpc.KindNotes, func(r *rpc.Record) *string { return &r.ParentID }, req.ID)
		}
		return nil
	}
	return fmt.Errorf("unexpected record op %s.%s", kind, op)
}

// detach clears the field picked by ref wherever it holds id and bumps the
// version, like the real record service does.
func (f *fakeServer) detach(kind string, ref func(*rpc.Record) *string, id string) {
	for key, rec := range f.records[kind] {
		if field := ref(&rec); *field == id {
			*field = ""
			rec.Version++
			f.records[kind][key] = rec
		}
	}
}

// ---- fake metadata store ----

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: map[string][]byte{}}
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memStore) Retain(_ context.Context, keep ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := map[string][]byte{}
	for _, k := range keep {
		if v, ok := m.data[k]; ok {
			kept[k] = v
		}
	}
	m.data = kept
	return nil
}

// ---- helpers ----

var (
	testArgon2 = cryptox.Argon2Params{Time: 1, Memory: 8 * 1024, Threads: 1}
	testScrypt = cryptox.ScryptParams{N: 1 << 10, R: 8, P: 1}
)

type env struct {
	server *fakeServer
	store  *memStore
	mk     []byte
	*Vault
}

// newEnv returns an unlocked vault talking to a fresh fake server.
func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvWith(t, newFakeServer(), nil)
}

func newEnvWith(t *testing.T, srv *fakeServer, mirror records.Store) *env {
	t.Helper()
	store := newMemStore()
	v, err := NewVault(context.Background(), srv, client.NewTokenStore(), store, mirror, nil)
	require.NoError(t, err)
	v.Account.Argon2 = testArgon2
	v.Credentials.Argon2 = testArgon2
	v.Credentials.Scrypt = testScrypt

	mk, err := cryptox.GenerateKey()
	require.NoError(t, err)
	require.NoError(t, v.Session.Unlock(mk))
	return &env{server: srv, store: store, mk: mk, Vault: v}
}

// latest drains ch and returns the most recent snapshot.
func latest[T any](t *testing.T, ch <-chan []T) []T {
	t.Helper()
	select {
	case snap := <-ch:
		return snap
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
		return nil
	}
}
