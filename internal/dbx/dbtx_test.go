package dbx

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// openCodesDB opens a private in-memory database holding one pending code.
func openCodesDB(t *testing.T) *sql.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := sql.Open("sqlite", "file:"+name+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE codes (user_id TEXT PRIMARY KEY, code TEXT NOT NULL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO codes (user_id, code) VALUES ('u1', '123456')`)
	require.NoError(t, err)
	return db
}

func pending(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM codes`).Scan(&n))
	return n
}

func consume(ctx context.Context, tx DBTX) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM codes WHERE user_id = 'u1' AND code = '123456'`)
	return err
}

func TestWithTx_ConsumeCommitted(t *testing.T) {
	db := openCodesDB(t)

	require.NoError(t, WithTx(context.Background(), db, nil, consume))
	require.Equal(t, 0, pending(t, db))
}

func TestWithTx_LaterStepFailsKeepsCode(t *testing.T) {
	db := openCodesDB(t)
	errHash := errors.New("hash failed")

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		require.NoError(t, consume(ctx, tx))
		return errHash
	})
	require.ErrorIs(t, err, errHash)
	require.Equal(t, 1, pending(t, db), "code must survive a failed flow")
}

func TestWithTx_PanicRollsBackAndPropagates(t *testing.T) {
	db := openCodesDB(t)

	require.PanicsWithValue(t, "kaput", func() {
		_ = WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
			require.NoError(t, consume(ctx, tx))
			panic("kaput")
		})
	})
	require.Equal(t, 1, pending(t, db))
}

func TestWithTx_BeginFailsOnClosedDB(t *testing.T) {
	db := openCodesDB(t)
	require.NoError(t, db.Close())

	called := false
	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		called = true
		return nil
	})
	require.Error(t, err)
	require.False(t, called)
}

func TestWithTx_ReadOnlyOptions(t *testing.T) {
	db := openCodesDB(t)

	var code string
	err := WithTx(context.Background(), db, &sql.TxOptions{ReadOnly: true}, func(ctx context.Context, tx DBTX) error {
		return tx.QueryRowContext(ctx, `SELECT code FROM codes WHERE user_id = 'u1'`).Scan(&code)
	})
	require.NoError(t, err)
	require.Equal(t, "123456", code)
}

func TestReadOnlySnapshot(t *testing.T) {
	opts := ReadOnlySnapshot()
	require.True(t, opts.ReadOnly)
	require.Equal(t, sql.LevelRepeatableRead, opts.Isolation)

	opts.ReadOnly = false
	require.True(t, ReadOnlySnapshot().ReadOnly, "each call returns fresh options")
}
