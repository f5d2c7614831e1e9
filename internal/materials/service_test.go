package materials

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lokatex/lokatex/internal/shared"
)

type fakeLedger struct {
	mu     sync.Mutex
	nextID int64
	mats   map[int64]Material
	txs    []StockTransaction
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{mats: map[int64]Material{}}
}

func (f *fakeLedger) add(id int64, code, stock string) {
	f.mats[id] = Material{
		ID: id, Code: code, Name: code, Unit: "meter",
		CurrentStock: decimal.RequireFromString(stock),
		MinimumStock: decimal.NewFromInt(10),
	}
}

func (f *fakeLedger) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(ctx, &fakeLedgerTx{f})
}

func (f *fakeLedger) GetMaterial(_ context.Context, id int64) (Material, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.mats[id]
	if !ok {
		return Material{}, fmt.Errorf("%w: material %d", shared.ErrNotFound, id)
	}
	return m, nil
}

func (f *fakeLedger) GetMaterials(_ context.Context, ids []int64) ([]Material, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []Material{}
	for _, id := range ids {
		if m, ok := f.mats[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeLedger) ListMaterials(_ context.Context) ([]Material, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []Material{}
	for _, m := range f.mats {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeLedger) ListLowStock(_ context.Context) ([]Material, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []Material{}
	for _, m := range f.mats {
		if m.CurrentStock.LessThan(m.MinimumStock) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeLedger) ListTransactions(_ context.Context, materialID int64, _ int) ([]StockTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []StockTransaction{}
	for _, tx := range f.txs {
		if tx.MaterialID == materialID {
			out = append(out, tx)
		}
	}
	return out, nil
}

type fakeLedgerTx struct {
	f *fakeLedger
}

func (t *fakeLedgerTx) GetMaterialsForUpdate(_ context.Context, ids []int64) ([]Material, error) {
	out := []Material{}
	for _, id := range ids {
		if m, ok := t.f.mats[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (t *fakeLedgerTx) DecrementStock(_ context.Context, materialID int64, qty decimal.Decimal) (bool, error) {
	m, ok := t.f.mats[materialID]
	if !ok || m.CurrentStock.LessThan(qty) {
		return false, nil
	}
	m.CurrentStock = m.CurrentStock.Sub(qty)
	t.f.mats[materialID] = m
	return true, nil
}

func (t *fakeLedgerTx) UpdateStock(_ context.Context, materialID int64, newStock decimal.Decimal) error {
	m, ok := t.f.mats[materialID]
	if !ok {
		return fmt.Errorf("%w: material %d", shared.ErrNotFound, materialID)
	}
	m.CurrentStock = newStock
	t.f.mats[materialID] = m
	return nil
}

func (t *fakeLedgerTx) InsertTransaction(_ context.Context, tx StockTransaction) (int64, error) {
	t.f.nextID++
	tx.ID = t.f.nextID
	t.f.txs = append(t.f.txs, tx)
	return tx.ID, nil
}

func qty(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCheckAvailability(t *testing.T) {
	ledger := newFakeLedger()
	ledger.add(1, "FAB-COT-WHT", "100")
	ledger.add(2, "THR-POL-WHT", "5")
	svc := NewService(ledger, nil, nil)
	ctx := context.Background()

	result, err := svc.CheckAvailability(ctx, []AllocationRequest{
		{MaterialID: 1, RequestedQty: qty("60")},
		{MaterialID: 2, RequestedQty: qty("4")},
	})
	require.NoError(t, err)
	require.True(t, result.Sufficient)
	require.Empty(t, result.Shortfalls)

	result, err = svc.CheckAvailability(ctx, []AllocationRequest{
		{MaterialID: 1, RequestedQty: qty("120")},
		{MaterialID: 2, RequestedQty: qty("8")},
	})
	require.NoError(t, err)
	require.False(t, result.Sufficient)
	require.Len(t, result.Shortfalls, 2)
	require.True(t, result.Shortfalls[0].Shortfall.Equal(qty("20")))
	require.True(t, result.Shortfalls[1].Shortfall.Equal(qty("3")))

	// Read-only: nothing changed.
	require.True(t, ledger.mats[1].CurrentStock.Equal(qty("100")))
	require.Empty(t, ledger.txs)

	_, err = svc.CheckAvailability(ctx, nil)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CheckAvailability(ctx, []AllocationRequest{{MaterialID: 99, RequestedQty: qty("1")}})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.CheckAvailability(ctx, []AllocationRequest{
		{MaterialID: 1, RequestedQty: qty("1")},
		{MaterialID: 1, RequestedQty: qty("2")},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRecordTransactionIn(t *testing.T) {
	ledger := newFakeLedger()
	ledger.add(1, "FAB-COT-WHT", "100")
	svc := NewService(ledger, nil, nil)

	record, err := svc.RecordTransaction(context.Background(), TransactionInput{
		MaterialID: 1, Type: TransactionTypeIn, Quantity: qty("25.5"), ActorID: 1, Note: "restock",
	})
	require.NoError(t, err)
	require.NotZero(t, record.ID)
	require.True(t, ledger.mats[1].CurrentStock.Equal(qty("125.5")))
	require.Len(t, ledger.txs, 1)
	require.Equal(t, TransactionTypeIn, ledger.txs[0].Type)
}

func TestRecordTransactionOutRejectsOverdraw(t *testing.T) {
	ledger := newFakeLedger()
	ledger.add(1, "FAB-COT-WHT", "10")
	svc := NewService(ledger, nil, nil)
	ctx := context.Background()

	_, err := svc.RecordTransaction(ctx, TransactionInput{
		MaterialID: 1, Type: TransactionTypeOut, Quantity: qty("12"), ActorID: 1,
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.True(t, insufficient.Shortfalls[0].Shortfall.Equal(qty("2")))
	// Rejected, not clamped.
	require.True(t, ledger.mats[1].CurrentStock.Equal(qty("10")))
	require.Empty(t, ledger.txs)

	record, err := svc.RecordTransaction(ctx, TransactionInput{
		MaterialID: 1, Type: TransactionTypeOut, Quantity: qty("10"), ActorID: 1,
	})
	require.NoError(t, err)
	require.True(t, ledger.mats[1].CurrentStock.IsZero())
	require.Equal(t, TransactionTypeOut, record.Type)
}

func TestRecordTransactionAdjustment(t *testing.T) {
	ledger := newFakeLedger()
	ledger.add(1, "FAB-COT-WHT", "10")
	svc := NewService(ledger, nil, nil)
	ctx := context.Background()

	_, err := svc.RecordTransaction(ctx, TransactionInput{
		MaterialID: 1, Type: TransactionTypeAdjustment, Quantity: qty("-3"), ActorID: 1, Note: "stock opname",
	})
	require.NoError(t, err)
	require.True(t, ledger.mats[1].CurrentStock.Equal(qty("7")))

	_, err = svc.RecordTransaction(ctx, TransactionInput{
		MaterialID: 1, Type: TransactionTypeAdjustment, Quantity: qty("-8"), ActorID: 1,
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RecordTransaction(ctx, TransactionInput{
		MaterialID: 1, Type: TransactionTypeAdjustment, Quantity: decimal.Zero, ActorID: 1,
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRecordTransactionValidation(t *testing.T) {
	ledger := newFakeLedger()
	ledger.add(1, "FAB-COT-WHT", "10")
	svc := NewService(ledger, nil, nil)
	ctx := context.Background()

	_, err := svc.RecordTransaction(ctx, TransactionInput{MaterialID: 1, Type: "TRANSFER", Quantity: qty("1"), ActorID: 1})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RecordTransaction(ctx, TransactionInput{MaterialID: 1, Type: TransactionTypeIn, Quantity: qty("-1"), ActorID: 1})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RecordTransaction(ctx, TransactionInput{MaterialID: 99, Type: TransactionTypeIn, Quantity: qty("1"), ActorID: 1})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAllocateAllDeductsEverything(t *testing.T) {
	ledger := newFakeLedger()
	ledger.add(1, "FAB-COT-WHT", "100")
	ledger.add(2, "THR-POL-WHT", "20")
	ctx := context.Background()

	err := ledger.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		records, err := AllocateAll(ctx, tx, 7, 1, []AllocationRequest{
			{MaterialID: 1, RequestedQty: qty("60")},
			{MaterialID: 2, RequestedQty: qty("2.5")},
		})
		require.NoError(t, err)
		require.Len(t, records, 2)
		return nil
	})
	require.NoError(t, err)

	require.True(t, ledger.mats[1].CurrentStock.Equal(qty("40")))
	require.True(t, ledger.mats[2].CurrentStock.Equal(qty("17.5")))
	require.Len(t, ledger.txs, 2)
	for _, tx := range ledger.txs {
		require.Equal(t, TransactionTypeOut, tx.Type)
		require.NotNil(t, tx.BatchID)
		require.EqualValues(t, 7, *tx.BatchID)
	}
}

func TestAllocateAllIsAllOrNothing(t *testing.T) {
	ledger := newFakeLedger()
	ledger.add(1, "FAB-COT-WHT", "100")
	ledger.add(2, "THR-POL-WHT", "1")
	ctx := context.Background()

	err := ledger.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := AllocateAll(ctx, tx, 7, 1, []AllocationRequest{
			{MaterialID: 1, RequestedQty: qty("60")},
			{MaterialID: 2, RequestedQty: qty("2.5")},
		})
		return err
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Len(t, insufficient.Shortfalls, 1)
	require.Equal(t, "THR-POL-WHT", insufficient.Shortfalls[0].Code)

	// The coverable material was not touched either.
	require.True(t, ledger.mats[1].CurrentStock.Equal(qty("100")))
	require.Empty(t, ledger.txs)
}

func TestAllocateAllConcurrentTakesStockOnce(t *testing.T) {
	ledger := newFakeLedger()
	ledger.add(1, "FAB-COT-WHT", "10")
	ctx := context.Background()

	// Two batches race for 8 of 10 on hand.
	results := make(chan error, 2)
	for batchID := int64(1); batchID <= 2; batchID++ {
		go func() {
			results <- ledger.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
				_, err := AllocateAll(ctx, tx, batchID, 1, []AllocationRequest{
					{MaterialID: 1, RequestedQty: qty("8")},
				})
				return err
			})
		}()
	}

	var succeeded, failed int
	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			require.ErrorIs(t, err, shared.ErrInsufficientStock)
			failed++
		} else {
			succeeded++
		}
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, failed)

	// Exactly one deduction landed; stock never went negative.
	require.True(t, ledger.mats[1].CurrentStock.Equal(qty("2")))
	require.Len(t, ledger.txs, 1)
}

// contestedTx passes the shortfall check but loses every conditional
// decrement, as if a concurrent writer drained the stock in between.
type contestedTx struct {
	*fakeLedgerTx
}

func (t *contestedTx) DecrementStock(context.Context, int64, decimal.Decimal) (bool, error) {
	return false, nil
}

func TestAllocateAllAbortsWhenDecrementLosesRace(t *testing.T) {
	ledger := newFakeLedger()
	ledger.add(1, "FAB-COT-WHT", "10")

	_, err := AllocateAll(context.Background(), &contestedTx{&fakeLedgerTx{ledger}}, 1, 1, []AllocationRequest{
		{MaterialID: 1, RequestedQty: qty("8")},
	})
	require.ErrorIs(t, err, shared.ErrStateConflict)
	require.Empty(t, ledger.txs)
	require.True(t, ledger.mats[1].CurrentStock.Equal(qty("10")))
}

func TestListLowStock(t *testing.T) {
	ledger := newFakeLedger()
	ledger.add(1, "FAB-COT-WHT", "100")
	ledger.add(2, "THR-POL-WHT", "4")
	svc := NewService(ledger, nil, nil)

	low, err := svc.ListLowStock(context.Background())
	require.NoError(t, err)
	require.Len(t, low, 1)
	require.Equal(t, "THR-POL-WHT", low[0].Code)
}
