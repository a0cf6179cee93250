package costing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/keppel-erp/keppel/internal/money"
)

type memoryRepo struct {
	balances  map[string]Balance
	movements []Movement
	nextID    int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{balances: make(map[string]Balance)}
}

func balanceKey(tenantID, itemID int64) string {
	return fmt.Sprintf("%d:%d", tenantID, itemID)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetBalance(ctx context.Context, tenantID, itemID int64) (Balance, error) {
	if bal, ok := r.balances[balanceKey(tenantID, itemID)]; ok {
		return bal, nil
	}
	return Balance{}, ErrBalanceNotFound
}

func (r *memoryRepo) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	result := make([]Movement, 0, len(r.movements))
	for _, m := range r.movements {
		if m.TenantID == filter.TenantID && m.ItemID == filter.ItemID {
			result = append(result, m)
		}
	}
	return result, nil
}

func (tx *memoryTx) GetBalanceForUpdate(ctx context.Context, tenantID, itemID int64) (Balance, error) {
	if bal, ok := tx.repo.balances[balanceKey(tenantID, itemID)]; ok {
		return bal, nil
	}
	return Balance{TenantID: tenantID, ItemID: itemID}, ErrBalanceNotFound
}

func (tx *memoryTx) UpsertBalance(ctx context.Context, balance Balance) error {
	tx.repo.balances[balanceKey(balance.TenantID, balance.ItemID)] = balance
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, movement Movement) (int64, error) {
	tx.repo.nextID++
	movement.ID = tx.repo.nextID
	tx.repo.movements = append(tx.repo.movements, movement)
	return movement.ID, nil
}

func TestWeightedAverageCost(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, ServiceConfig{AllowNegativeStock: true})
	ctx := context.Background()

	// 10 units @ R100, then 10 units @ R120 -> average R110
	first, err := svc.Receive(ctx, ReceiveInput{TenantID: 1, ItemID: 1, Qty: 10, UnitCost: money.FromMinor(10000)})
	require.NoError(t, err)
	require.Equal(t, int64(100000), first.Amount.Minor())
	require.InDelta(t, 10000, first.AvgCost, 0.001)

	second, err := svc.Receive(ctx, ReceiveInput{TenantID: 1, ItemID: 1, Qty: 10, UnitCost: money.FromMinor(12000)})
	require.NoError(t, err)
	require.InDelta(t, 11000, second.AvgCost, 0.001)

	avg, err := svc.AverageCost(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, int64(11000), avg.Minor())
}

func TestIssueDoesNotMoveAverage(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, ServiceConfig{AllowNegativeStock: true})
	ctx := context.Background()

	_, err := svc.Receive(ctx, ReceiveInput{TenantID: 1, ItemID: 1, Qty: 10, UnitCost: money.FromMinor(10000)})
	require.NoError(t, err)
	_, err = svc.Receive(ctx, ReceiveInput{TenantID: 1, ItemID: 1, Qty: 10, UnitCost: money.FromMinor(12000)})
	require.NoError(t, err)

	issued, err := svc.Issue(ctx, IssueInput{TenantID: 1, ItemID: 1, Qty: 7})
	require.NoError(t, err)
	require.InDelta(t, 11000, issued.UnitCost, 0.001)
	require.Equal(t, int64(77000), issued.Amount.Minor())
	require.InDelta(t, 13, issued.BalanceQty, 0.0001)

	avg, err := svc.AverageCost(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, int64(11000), avg.Minor())
}

func TestReceiveValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Receive(ctx, ReceiveInput{TenantID: 1, ItemID: 1, Qty: 0, UnitCost: money.FromMinor(100)})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.Receive(ctx, ReceiveInput{TenantID: 1, ItemID: 1, Qty: 5, UnitCost: money.FromMinor(-100)})
	require.ErrorIs(t, err, ErrInvalidUnitCost)

	_, err = svc.Receive(ctx, ReceiveInput{ItemID: 1, Qty: 5, UnitCost: money.FromMinor(100)})
	require.Error(t, err)
}

func TestIssueBeyondStockPermittedByDefaultGuardOff(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, ServiceConfig{AllowNegativeStock: true})
	ctx := context.Background()

	_, err := svc.Receive(ctx, ReceiveInput{TenantID: 1, ItemID: 1, Qty: 2, UnitCost: money.FromMinor(5000)})
	require.NoError(t, err)

	issued, err := svc.Issue(ctx, IssueInput{TenantID: 1, ItemID: 1, Qty: 5})
	require.NoError(t, err)
	require.InDelta(t, -3, issued.BalanceQty, 0.0001)
}

func TestIssueBeyondStockRejectedWithGuard(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, ServiceConfig{AllowNegativeStock: false})
	ctx := context.Background()

	_, err := svc.Issue(ctx, IssueInput{TenantID: 1, ItemID: 1, Qty: 1})
	require.ErrorIs(t, err, ErrNegativeStock)
	require.Empty(t, repo.movements)
}

func TestAverageCostUnknownItem(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, ServiceConfig{})

	avg, err := svc.AverageCost(context.Background(), 1, 99)
	require.NoError(t, err)
	require.Equal(t, int64(0), avg.Minor())
}

func TestReturnCostedLikeReceipt(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, ServiceConfig{AllowNegativeStock: true})
	ctx := context.Background()

	_, err := svc.Receive(ctx, ReceiveInput{TenantID: 1, ItemID: 1, Qty: 4, UnitCost: money.FromMinor(10000)})
	require.NoError(t, err)

	ret, err := svc.Receive(ctx, ReceiveInput{TenantID: 1, ItemID: 1, Qty: 2, UnitCost: money.FromMinor(13000), Return: true, Date: time.Now()})
	require.NoError(t, err)
	require.Equal(t, int64(26000), ret.Amount.Minor())
	require.InDelta(t, 11000, ret.AvgCost, 0.001)
	require.Equal(t, MovementReturn, repo.movements[len(repo.movements)-1].Type)
}
