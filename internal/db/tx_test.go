package db

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithinTx(t *testing.T) {
	ctx := context.Background()

	t.Run("Commit", func(t *testing.T) {
		conn, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer conn.Close()

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE products").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err = NewTxRunner(conn).WithinTx(ctx, func(ctx context.Context, tx DBTX) error {
			_, err := tx.ExecContext(ctx, "UPDATE products SET quantity = quantity + 1")
			return err
		})

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("RollbackOnError", func(t *testing.T) {
		conn, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer conn.Close()

		mock.ExpectBegin()
		mock.ExpectRollback()

		boom := errors.New("wallet credit failed")
		err = NewTxRunner(conn).WithinTx(ctx, func(ctx context.Context, tx DBTX) error {
			return boom
		})

		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("BeginError", func(t *testing.T) {
		conn, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer conn.Close()

		mock.ExpectBegin().WillReturnError(errors.New("conn refused"))

		called := false
		err = NewTxRunner(conn).WithinTx(ctx, func(ctx context.Context, tx DBTX) error {
			called = true
			return nil
		})

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "begin tx")
		assert.False(t, called)
	})

	t.Run("CommitError", func(t *testing.T) {
		conn, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer conn.Close()

		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

		err = NewTxRunner(conn).WithinTx(ctx, func(ctx context.Context, tx DBTX) error {
			return nil
		})

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "commit tx")
	})
}
