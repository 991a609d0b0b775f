package migrate

import (
	"context"
	"errors"
	"io/fs"
	"regexp"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
)

func testFiles() fstest.MapFS {
	return fstest.MapFS{
		"0001_a.up.sql":   {Data: []byte("create table a (id text);\ncreate table b (id text);\n")},
		"0001_a.down.sql": {Data: []byte("drop table b; drop table a;")},
		"0002_b.up.sql":   {Data: []byte("-- note; not a statement\ninsert into a values ('x;y');")},
		"README.md":       {Data: []byte("ignored")},
	}
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("insert into a values ('x;y')")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_b.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mgr := NewManager(db, WithFiles(testFiles()))
	applied, err := mgr.Up(context.Background())
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if len(applied) != 1 || applied[0] != "0002_b.up.sql" {
		t.Fatalf("unexpected applied list %v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownRollsBackLatest(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("drop table b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("drop table a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("delete from schema_migrations").WithArgs("0001_a.up.sql").WillReturnResult(sqlmock.NewResult(0, 1))

	mgr := NewManager(db, WithFiles(testFiles()))
	name, err := mgr.Down(context.Background())
	if err != nil {
		t.Fatalf("Down: %v", err)
	}
	if name != "0001_a.up.sql" {
		t.Fatalf("unexpected rollback %q", name)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownWithNothingApplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	mock.ExpectExec("create table if not exists").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from").WillReturnRows(sqlmock.NewRows([]string{"name"}))

	if _, err := NewManager(db, WithFiles(testFiles())).Down(context.Background()); !errors.Is(err, ErrNothingApplied) {
		t.Fatalf("expected ErrNothingApplied, got %v", err)
	}
}

func TestEmbeddedMigrationsDeclareIdentityConstraints(t *testing.T) {
	names, err := collectSQL(Files(), ".up.sql")
	if err != nil {
		t.Fatalf("collectSQL: %v", err)
	}
	if len(names) == 0 {
		t.Fatal("expected embedded migrations")
	}
	var all strings.Builder
	for _, n := range names {
		b, err := fs.ReadFile(Files(), n)
		if err != nil {
			t.Fatalf("read %s: %v", n, err)
		}
		all.Write(b)
	}
	for _, c := range []string{
		"organizations_external_workspace_id_key unique (external_workspace_id)",
		"accounts_org_external_user_key unique (organization_id, external_user_id)",
		"tickets_org_source_ref_key unique (organization_id, source_ref)",
		"nonce text primary key",
	} {
		if !strings.Contains(all.String(), c) {
			t.Fatalf("schema missing %q", c)
		}
	}
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("a;\n-- x; y\nb 'c;d';\n  ")
	if len(got) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(got), got)
	}
}
