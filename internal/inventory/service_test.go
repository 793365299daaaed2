package inventory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type memoryStockRepo struct {
	records map[int64]Record
	refs    map[string]bool
}

func newMemoryStockRepo() *memoryStockRepo {
	return &memoryStockRepo{records: make(map[int64]Record), refs: make(map[string]bool)}
}

func (r *memoryStockRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memoryStockRepo) GetRecord(ctx context.Context, productID int64) (Record, error) {
	record, ok := r.records[productID]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return record, nil
}

func (r *memoryStockRepo) ListBelowMinimum(ctx context.Context) ([]Record, error) {
	var below []Record
	for _, record := range r.records {
		if record.MinLevel > 0 && record.Qty < record.MinLevel {
			below = append(below, record)
		}
	}
	return below, nil
}

func (r *memoryStockRepo) InsertReceiptRef(ctx context.Context, ref string) error {
	if r.refs[ref] {
		return ErrDuplicateReceipt
	}
	r.refs[ref] = true
	return nil
}

func (r *memoryStockRepo) GetRecordForUpdate(ctx context.Context, productID int64) (Record, error) {
	return r.GetRecord(ctx, productID)
}

func (r *memoryStockRepo) UpsertRecord(ctx context.Context, record Record) error {
	r.records[record.ProductID] = record
	return nil
}

func TestReceiveCreatesRecordWithDefaultLocation(t *testing.T) {
	repo := newMemoryStockRepo()
	svc := NewService(repo, nil, ServiceConfig{DefaultLocation: "DEPOSITO"})

	updated, err := svc.Receive(context.Background(), "GR-1", []ReceiptItem{{ProductID: 1, Qty: 5}})
	require.NoError(t, err)
	require.Len(t, updated, 1)
	require.Equal(t, int64(5), updated[0].Qty)
	require.Equal(t, "DEPOSITO", updated[0].Location)
}

func TestReceiveIncrementsExistingRecord(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.records[1] = Record{ProductID: 1, Qty: 10, Location: "MAIN", MinLevel: 3}
	svc := NewService(repo, nil, ServiceConfig{})

	updated, err := svc.Receive(context.Background(), "GR-2", []ReceiptItem{{ProductID: 1, Qty: 7}})
	require.NoError(t, err)
	require.Equal(t, int64(17), updated[0].Qty)
	require.Equal(t, "MAIN", updated[0].Location)
	require.Equal(t, int64(3), updated[0].MinLevel)
}

func TestReceiveDedupesByRef(t *testing.T) {
	repo := newMemoryStockRepo()
	svc := NewService(repo, nil, ServiceConfig{})
	ctx := context.Background()

	first, err := svc.Receive(ctx, "GR-3", []ReceiptItem{{ProductID: 1, Qty: 5}})
	require.NoError(t, err)
	require.Equal(t, int64(5), first[0].Qty)

	// Replaying the same ref must not increment again but still report
	// the current balances.
	second, err := svc.Receive(ctx, "GR-3", []ReceiptItem{{ProductID: 1, Qty: 5}})
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.Equal(t, int64(5), second[0].Qty)

	record, err := repo.GetRecord(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(5), record.Qty)
}

func TestReceiveRequiresRef(t *testing.T) {
	svc := NewService(newMemoryStockRepo(), nil, ServiceConfig{})
	_, err := svc.Receive(context.Background(), "", []ReceiptItem{{ProductID: 1, Qty: 5}})
	require.Error(t, err)
}

func TestReceiveRejectsBadItems(t *testing.T) {
	svc := NewService(newMemoryStockRepo(), nil, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Receive(ctx, "GR-4", []ReceiptItem{{ProductID: 1, Qty: 0}})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.Receive(ctx, "GR-4", []ReceiptItem{{ProductID: 0, Qty: 5}})
	require.Error(t, err)
}

func TestReceiveEmptyIsNoop(t *testing.T) {
	svc := NewService(newMemoryStockRepo(), nil, ServiceConfig{})
	updated, err := svc.Receive(context.Background(), "GR-5", nil)
	require.NoError(t, err)
	require.Empty(t, updated)
}

func TestListBelowMinimum(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.records[1] = Record{ProductID: 1, Qty: 2, MinLevel: 10}
	repo.records[2] = Record{ProductID: 2, Qty: 50, MinLevel: 10}
	repo.records[3] = Record{ProductID: 3, Qty: 0, MinLevel: 0}
	svc := NewService(repo, nil, ServiceConfig{})

	below, err := svc.ListBelowMinimum(context.Background())
	require.NoError(t, err)
	require.Len(t, below, 1)
	require.Equal(t, int64(1), below[0].ProductID)
}
