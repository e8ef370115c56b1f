package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dmitrijs2005/chatvault/internal/client/client"
	"github.com/dmitrijs2005/chatvault/internal/client/repositories/records"
	"github.com/dmitrijs2005/chatvault/internal/client/session"
	"github.com/dmitrijs2005/chatvault/internal/logging"
	"github.com/dmitrijs2005/chatvault/internal/rpc"
)

// DecryptFailure is one record a refresh could not open.
type DecryptFailure struct {
	ID  string
	Err error
}

// PartialDecryptError lists the records skipped by a refresh. The rest of
// the set was still applied.
type PartialDecryptError struct {
	Kind     string
	Failures []DecryptFailure
}

func (e *PartialDecryptError) Error() string {
	ids := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		ids[i] = f.ID
	}
	return fmt.Sprintf("%d %s could not be decrypted: %s", len(e.Failures), e.Kind, strings.Join(ids, ", "))
}

func (e *PartialDecryptError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// RefreshReport is the outcome of a successful refresh.
type RefreshReport struct {
	Kind    string
	Loaded  int
	Skipped []DecryptFailure
}

// Err returns a *PartialDecryptError when some records were skipped.
func (r RefreshReport) Err() error {
	if len(r.Skipped) == 0 {
		return nil
	}
	return &PartialDecryptError{Kind: r.Kind, Failures: r.Skipped}
}

// repository holds what chat, folder and note repositories share: the
// collection, the per-id serialization and the server-first apply step.
//
// Mutations hold gate for reading and the id lock; Refresh holds gate for
// writing, so a refresh never interleaves with a mutation.
type repository[T any] struct {
	kind    string
	client  client.Client
	session *session.Session
	mirror  records.Store
	logger  logging.Logger

	items  *collection[T]
	locks  keyedMutex
	gate   sync.RWMutex
	decode func(rpc.Record) (T, error)
}

func newRepository[T any](kind string, c client.Client, s *session.Session, mirror records.Store, l logging.Logger,
	id func(T) string, clone func(T) T) *repository[T] {
	r := &repository[T]{
		kind:    kind,
		client:  c,
		session: s,
		mirror:  mirror,
		logger:  logging.OrNop(l).With("module", kind),
		items:   newCollection(id, clone),
	}
	// Decrypted state is only meaningful relative to the master key.
	s.OnLock(r.items.clear)
	return r
}

func (r *repository[T]) procedure(op string) string {
	return r.kind + "." + op
}

// Observe streams the current collection, first immediately and then after
// every change. The channel is closed when ctx is done.
func (r *repository[T]) Observe(ctx context.Context) <-chan []T {
	return r.items.observe(ctx)
}

// Items returns the current collection.
func (r *repository[T]) Items() []T {
	return r.items.snapshot()
}

// Find looks an entity up in the local collection only.
func (r *repository[T]) Find(id string) (T, bool) {
	return r.items.get(id)
}

// exclusive runs fn with id locked against other operations on it.
func (r *repository[T]) exclusive(id string, fn func() error) error {
	r.gate.RLock()
	defer r.gate.RUnlock()
	if id != "" {
		unlock := r.locks.lock(id)
		defer unlock()
	}
	return fn()
}

// apply changes local state after the server confirmed a mutation. It runs
// under the session read lock so a concurrent Lock either happens before
// (and the change is dropped) or after (and clears it).
func (r *repository[T]) apply(fn func()) error {
	err := r.session.WithMasterKey(func([]byte) error {
		fn()
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: server accepted the change but the session locked: %w", r.kind, err)
	}
	return nil
}

func (r *repository[T]) mirrorPut(ctx context.Context, rec rpc.Record) {
	if r.mirror == nil {
		return
	}
	if err := r.mirror.Put(ctx, r.kind, rec); err != nil {
		r.logger.Warn(ctx, "mirror write failed", "id", rec.ID, "error", err)
	}
}

func (r *repository[T]) mirrorDelete(ctx context.Context, id string) {
	if r.mirror == nil {
		return
	}
	if err := r.mirror.Delete(ctx, r.kind, id); err != nil {
		r.logger.Warn(ctx, "mirror delete failed", "id", id, "error", err)
	}
}

// create sends rec and returns the server's summary of the new entity. No
// local state changes here.
func (r *repository[T]) create(ctx context.Context, rec rpc.Record) (rpc.Record, error) {
	var reply rpc.Record
	if err := r.client.Mutate(ctx, r.procedure("create"), rec, &reply); err != nil {
		return rpc.Record{}, fmt.Errorf("create %s: %w", r.kind, err)
	}
	if reply.ID == "" {
		return rpc.Record{}, fmt.Errorf("create %s: server returned no id", r.kind)
	}
	return reply, nil
}

func (r *repository[T]) update(ctx context.Context, rec rpc.Record) (rpc.Record, error) {
	var reply rpc.Record
	if err := r.client.Mutate(ctx, r.procedure("update"), rec, &reply); err != nil {
		return rpc.Record{}, fmt.Errorf("update %s %s: %w", r.kind, rec.ID, err)
	}
	return reply, nil
}

// remove deletes id on the server and then locally. forget runs as part of
// the local step.
func (r *repository[T]) remove(ctx context.Context, id string, forget func()) error {
	return r.exclusive(id, func() error {
		if err := r.client.Mutate(ctx, r.procedure("delete"), rpc.ByID{ID: id}, nil); err != nil {
			return fmt.Errorf("delete %s %s: %w", r.kind, id, err)
		}
		r.items.remove(id)
		if forget != nil {
			forget()
		}
		r.mirrorDelete(ctx, id)
		return nil
	})
}

// fetch loads the full record of id.
func (r *repository[T]) fetch(ctx context.Context, id string) (rpc.Record, error) {
	var rec rpc.Record
	if err := r.client.Query(ctx, r.procedure("get"), rpc.ByID{ID: id}, &rec); err != nil {
		return rpc.Record{}, fmt.Errorf("get %s %s: %w", r.kind, id, err)
	}
	return rec, nil
}

func (r *repository[T]) decodeAll(ctx context.Context, recs []rpc.Record) ([]T, RefreshReport, error) {
	report := RefreshReport{Kind: r.kind}
	items := make([]T, 0, len(recs))
	for _, rec := range recs {
		v, err := r.decode(rec)
		if errors.Is(err, session.ErrLocked) {
			return nil, report, err
		}
		if err != nil {
			r.logger.Warn(ctx, "skipping undecryptable record", "id", rec.ID, "error", err)
			report.Skipped = append(report.Skipped, DecryptFailure{ID: rec.ID, Err: err})
			continue
		}
		items = append(items, v)
	}
	report.Loaded = len(items)
	return items, report, nil
}

// Refresh replaces the collection with the server's list. Records that fail
// to decrypt are skipped and reported; everything else becomes visible.
func (r *repository[T]) Refresh(ctx context.Context) (RefreshReport, error) {
	r.gate.Lock()
	defer r.gate.Unlock()

	if !r.session.IsUnlocked() {
		return RefreshReport{Kind: r.kind}, session.ErrLocked
	}

	var list rpc.RecordList
	if err := r.client.Query(ctx, r.procedure("list"), rpc.Empty{}, &list); err != nil {
		return RefreshReport{Kind: r.kind}, fmt.Errorf("list %s: %w", r.kind, err)
	}

	items, report, err := r.decodeAll(ctx, list.Records)
	if err != nil {
		return report, err
	}
	if err := r.apply(func() { r.items.replace(items) }); err != nil {
		return report, err
	}

	if r.mirror != nil {
		if err := r.mirror.ReplaceKind(ctx, r.kind, list.Records); err != nil {
			r.logger.Warn(ctx, "mirror refresh failed", "error", err)
		}
	}
	r.logger.Debug(ctx, "refreshed", "loaded", report.Loaded, "skipped", len(report.Skipped))
	return report, nil
}

// LoadCached fills the collection from the local mirror, showing the last
// confirmed state while the server is unreachable.
func (r *repository[T]) LoadCached(ctx context.Context) (RefreshReport, error) {
	if r.mirror == nil {
		return RefreshReport{Kind: r.kind}, nil
	}
	r.gate.Lock()
	defer r.gate.Unlock()

	recs, err := r.mirror.List(ctx, r.kind)
	if err != nil {
		return RefreshReport{Kind: r.kind}, fmt.Errorf("load cached %s: %w", r.kind, err)
	}
	items, report, err := r.decodeAll(ctx, recs)
	if err != nil {
		return report, err
	}
	if err := r.apply(func() { r.items.replace(items) }); err != nil {
		return report, err
	}
	return report, nil
}
