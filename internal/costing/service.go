package costing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/keppel-erp/keppel/internal/audit"
	"github.com/keppel-erp/keppel/internal/money"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBalance(ctx context.Context, tenantID, itemID int64) (Balance, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	GetBalanceForUpdate(ctx context.Context, tenantID, itemID int64) (Balance, error)
	UpsertBalance(ctx context.Context, balance Balance) error
	InsertMovement(ctx context.Context, movement Movement) (int64, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log audit.Log) error
}

// MovementFilter narrows stock card listings.
type MovementFilter struct {
	TenantID int64
	ItemID   int64
	From     time.Time
	To       time.Time
	Limit    int
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock bool
}

// Service maintains weighted-average unit cost per stock item and emits the
// monetary amount for each movement.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	allowNeg bool
	now      func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, auditor AuditPort, cfg ServiceConfig) *Service {
	return &Service{repo: repo, audit: auditor, allowNeg: cfg.AllowNegativeStock, now: time.Now}
}

// ReceiveInput describes an inbound movement.
type ReceiveInput struct {
	TenantID int64
	ItemID   int64
	Qty      float64
	UnitCost money.Amount
	Date     time.Time
	RefType  string
	RefID    uuid.UUID
	Return   bool
}

// IssueInput describes an outbound movement. Qty is the positive quantity
// to issue; the movement is recorded with a negative sign.
type IssueInput struct {
	TenantID int64
	ItemID   int64
	Qty      float64
	Date     time.Time
	RefType  string
	RefID    uuid.UUID
}

// Receive records a positive movement, folds its cost into the running
// weighted average, and returns qty*unitCost for the journal poster.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) (MovementResult, error) {
	if input.TenantID == 0 || input.ItemID == 0 {
		return MovementResult{}, errors.New("costing: tenant and item required")
	}
	if input.Qty <= 0 {
		return MovementResult{}, ErrInvalidQuantity
	}
	if input.UnitCost < 0 {
		return MovementResult{}, ErrInvalidUnitCost
	}
	movementType := MovementReceipt
	if input.Return {
		movementType = MovementReturn
	}
	var result MovementResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		balance, err := lockOrInitBalance(ctx, tx, input.TenantID, input.ItemID)
		if err != nil {
			return err
		}
		unitCost := float64(input.UnitCost.Minor())
		newQty := balance.Qty + input.Qty
		totalCost := balance.Qty*balance.AvgCost + input.Qty*unitCost
		newAvg := balance.AvgCost
		if newQty != 0 {
			newAvg = totalCost / newQty
		}
		amount := input.UnitCost.MulQty(input.Qty)
		movement := Movement{
			TenantID: input.TenantID,
			ItemID:   input.ItemID,
			Type:     movementType,
			Date:     defaultTime(input.Date, s.now),
			Qty:      input.Qty,
			UnitCost: unitCost,
			Amount:   amount,
			RefType:  input.RefType,
			RefID:    input.RefID,
		}
		movementID, err := tx.InsertMovement(ctx, movement)
		if err != nil {
			return err
		}
		balance.Qty = newQty
		balance.AvgCost = newAvg
		if err := tx.UpsertBalance(ctx, balance); err != nil {
			return err
		}
		result = MovementResult{
			MovementID: movementID,
			Qty:        input.Qty,
			UnitCost:   unitCost,
			Amount:     amount,
			BalanceQty: newQty,
			AvgCost:    newAvg,
		}
		return nil
	})
	if err != nil {
		return MovementResult{}, err
	}
	s.recordAudit(ctx, input.TenantID, string(movementType), input.ItemID, result)
	return result, nil
}

// Issue records a negative movement valued at the current average cost.
// The stored average is not touched; only receipts move it. Overdrawing
// stock is permitted unless the negative-stock guard is enabled.
func (s *Service) Issue(ctx context.Context, input IssueInput) (MovementResult, error) {
	if input.TenantID == 0 || input.ItemID == 0 {
		return MovementResult{}, errors.New("costing: tenant and item required")
	}
	if input.Qty <= 0 {
		return MovementResult{}, ErrInvalidQuantity
	}
	var result MovementResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		balance, err := lockOrInitBalance(ctx, tx, input.TenantID, input.ItemID)
		if err != nil {
			return err
		}
		newQty := balance.Qty - input.Qty
		if math.Abs(newQty) < 1e-9 {
			newQty = 0
		}
		if !s.allowNeg && newQty < 0 {
			return ErrNegativeStock
		}
		amount := money.FromMinor(int64(math.Round(balance.AvgCost * input.Qty)))
		movement := Movement{
			TenantID: input.TenantID,
			ItemID:   input.ItemID,
			Type:     MovementIssue,
			Date:     defaultTime(input.Date, s.now),
			Qty:      -input.Qty,
			UnitCost: balance.AvgCost,
			Amount:   amount,
			RefType:  input.RefType,
			RefID:    input.RefID,
		}
		movementID, err := tx.InsertMovement(ctx, movement)
		if err != nil {
			return err
		}
		balance.Qty = newQty
		if err := tx.UpsertBalance(ctx, balance); err != nil {
			return err
		}
		result = MovementResult{
			MovementID: movementID,
			Qty:        -input.Qty,
			UnitCost:   balance.AvgCost,
			Amount:     amount,
			BalanceQty: newQty,
			AvgCost:    balance.AvgCost,
		}
		return nil
	})
	if err != nil {
		return MovementResult{}, err
	}
	s.recordAudit(ctx, input.TenantID, string(MovementIssue), input.ItemID, result)
	return result, nil
}

// AverageCost returns the most recently computed weighted-average unit cost
// in minor units, rounded to the nearest cent. Items with no receipt history
// return 0, which callers must treat as unknown rather than free.
func (s *Service) AverageCost(ctx context.Context, tenantID, itemID int64) (money.Amount, error) {
	balance, err := s.repo.GetBalance(ctx, tenantID, itemID)
	if err != nil {
		if errors.Is(err, ErrBalanceNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return money.FromMinor(int64(math.Round(balance.AvgCost))), nil
}

// StockCard lists movements for an item in posting order.
func (s *Service) StockCard(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.TenantID == 0 || filter.ItemID == 0 {
		return nil, errors.New("costing: tenant and item required")
	}
	return s.repo.ListMovements(ctx, filter)
}

func lockOrInitBalance(ctx context.Context, tx TxRepository, tenantID, itemID int64) (Balance, error) {
	balance, err := tx.GetBalanceForUpdate(ctx, tenantID, itemID)
	if err != nil {
		if errors.Is(err, ErrBalanceNotFound) {
			return Balance{TenantID: tenantID, ItemID: itemID}, nil
		}
		return Balance{}, err
	}
	return balance, nil
}

func (s *Service) recordAudit(ctx context.Context, tenantID int64, action string, itemID int64, result MovementResult) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, audit.Log{
		TenantID: tenantID,
		Action:   fmt.Sprintf("costing:%s", action),
		Entity:   "inventory_movement",
		EntityID: fmt.Sprintf("%d", result.MovementID),
		Meta: map[string]any{
			"item_id": itemID,
			"qty":     result.Qty,
			"amount":  result.Amount.String(),
		},
		At: s.now(),
	})
}

func defaultTime(value time.Time, now func() time.Time) time.Time {
	if value.IsZero() {
		return now()
	}
	return value
}
