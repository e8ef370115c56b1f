package credentials

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/chatvault/internal/common"
	"github.com/dmitrijs2005/chatvault/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestCreateAndGet(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	c := &models.Credential{ID: "k1", UserID: "u1", Method: "password", Doc: []byte("{}"), CreatedAt: now}

	mock.ExpectExec(`(?s)INSERT\s+INTO\s+credentials`).
		WithArgs("k1", "u1", "password", []byte("{}"), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`(?s)SELECT\s+method,\s*doc,\s*created_at\s+FROM\s+credentials`).
		WithArgs("u1", "k1").
		WillReturnRows(sqlmock.NewRows([]string{"method", "doc", "created_at"}).AddRow("password", []byte("{}"), now))
	mock.ExpectQuery(`(?s)SELECT\s+method,\s*doc,\s*created_at\s+FROM\s+credentials`).
		WithArgs("u1", "k2").
		WillReturnError(sql.ErrNoRows)

	if err := repo.Create(context.Background(), c); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	got, err := repo.Get(context.Background(), "u1", "k1")
	if err != nil || got.Method != "password" {
		t.Fatalf("Get: %+v %v", got, err)
	}
	if _, err := repo.Get(context.Background(), "u1", "k2"); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want ErrorNotFound, got %v", err)
	}
}

func TestList(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "method", "doc", "created_at"}).
		AddRow("k1", "password", []byte("{}"), now).
		AddRow("k2", "passkey", []byte("{}"), now)
	mock.ExpectQuery(`(?s)SELECT\s+id,\s*method.*ORDER\s+BY\s+created_at`).
		WithArgs("u1").
		WillReturnRows(rows)

	list, err := repo.List(context.Background(), "u1")
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(list) != 2 || list[1].Method != "passkey" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestUpdateDeleteCount(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)UPDATE\s+credentials\s+SET\s+doc`).
		WithArgs("u1", "k1", []byte(`{"a":1}`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`(?s)DELETE\s+FROM\s+credentials`).
		WithArgs("u1", "k1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT\s+COUNT\(\*\)\s+FROM\s+credentials`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	err := repo.Update(context.Background(), &models.Credential{ID: "k1", UserID: "u1", Doc: []byte(`{"a":1}`)})
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want ErrorNotFound, got %v", err)
	}
	if err := repo.Delete(context.Background(), "u1", "k1"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	n, err := repo.Count(context.Background(), "u1")
	if err != nil || n != 2 {
		t.Fatalf("Count: %d %v", n, err)
	}
}

func TestMemoryRepository(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	now := time.Now()

	for i, id := range []string{"k1", "k2"} {
		c := &models.Credential{ID: id, UserID: "u1", Method: "password", CreatedAt: now.Add(time.Duration(i) * time.Second)}
		if err := r.Create(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Create(ctx, &models.Credential{ID: "k3", UserID: "u2"}); err != nil {
		t.Fatal(err)
	}

	if _, err := r.Get(ctx, "u2", "k1"); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("other users' credentials must be invisible, got %v", err)
	}
	if err := r.Update(ctx, &models.Credential{ID: "k1", UserID: "u1", Doc: []byte("x")}); err != nil {
		t.Fatal(err)
	}
	list, _ := r.List(ctx, "u1")
	if len(list) != 2 || list[0].ID != "k1" || string(list[0].Doc) != "x" {
		t.Fatalf("unexpected list: %+v", list)
	}

	if n, _ := r.Count(ctx, "u1"); n != 2 {
		t.Fatalf("Count = %d", n)
	}
	if err := r.Delete(ctx, "u1", "k3"); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want ErrorNotFound, got %v", err)
	}
	if err := r.Delete(ctx, "u1", "k1"); err != nil {
		t.Fatal(err)
	}
	if n, _ := r.Count(ctx, "u1"); n != 1 {
		t.Fatalf("Count = %d", n)
	}
}
