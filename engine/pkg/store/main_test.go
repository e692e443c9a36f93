package store_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/particlerush/tokenengine/engine/pkg/store"
	enginetesting "github.com/particlerush/tokenengine/utils/pkg/testing"
)

var (
	testDB  *enginetesting.DB
	testLog *slog.Logger
)

func TestMain(m *testing.M) {
	testLog = enginetesting.NewLogger()

	ctx := context.Background()
	db, err := enginetesting.NewDB(ctx, testLog, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}
	testDB = db

	if err := store.RunMigrations(testLog, db.ConnStr()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		db.Close()
		os.Exit(1)
	}

	code := m.Run()
	db.Close()
	os.Exit(code)
}

func newTestStore(t *testing.T) (*store.Store, *pgxpool.Pool) {
	t.Helper()
	pool := enginetesting.NewPool(t, testDB)
	return store.NewWithPool(testLog, pool), pool
}

func truncate(t *testing.T, pool *pgxpool.Pool, tables ...string) {
	t.Helper()
	for _, table := range tables {
		_, err := pool.Exec(t.Context(), "TRUNCATE "+table+" CASCADE")
		require.NoError(t, err)
	}
}
