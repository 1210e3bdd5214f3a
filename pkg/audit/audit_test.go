package audit

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterRecordInsertsRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	w := &Writer{db: db}

	mock.ExpectExec(`INSERT INTO flowctl_route_audit`).
		WithArgs("orders", "starting", "running", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = w.Record(context.Background(), "orders", "starting", "running", "")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriterRecordPropagatesError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	w := &Writer{db: db}

	mock.ExpectExec(`INSERT INTO flowctl_route_audit`).
		WillReturnError(assert.AnError)

	err = w.Record(context.Background(), "orders", "running", "failed", "source error")
	assert.Error(t, err)
}

func TestNilWriterRecordIsNoop(t *testing.T) {
	var w *Writer
	err := w.Record(context.Background(), "orders", "running", "stopped", "")
	assert.NoError(t, err)
	assert.NoError(t, w.Close())
}

func TestOpenWithEmptyDSNReturnsNilWriter(t *testing.T) {
	w, err := Open("")
	require.NoError(t, err)
	assert.Nil(t, w)
}

func TestWriterCloseClosesPool(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectClose()

	w := &Writer{db: db}
	require.NoError(t, w.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
