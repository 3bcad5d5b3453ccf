package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jdtask/backend/internal/models"
)

// ErrInsufficientBalance is returned when a debit would drive the user's
// jingdou balance negative.
var ErrInsufficientBalance = errors.New("insufficient jingdou balance")

// BalanceStore is the minimal balance interface the service needs.
type BalanceStore interface {
	ApplyDelta(ctx context.Context, tx pgx.Tx, userID uuid.UUID, delta int) (int, error)
}

// RecordStore is the minimal append interface the service needs.
type RecordStore interface {
	Append(ctx context.Context, tx pgx.Tx, rec *models.LedgerRecord) error
}

// TxBeginner opens transactions for the operations that own their own.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Checker reads the consistency snapshot for one user.
type Checker interface {
	Check(ctx context.Context, userID uuid.UUID) (*UserCheck, error)
}

// Service is the only writer of jingdou balances. Every movement updates the
// cached balance and appends a ledger record in the same transaction; no code
// path touches one without the other.
type Service struct {
	Balances BalanceStore
	Records  RecordStore
	DB       TxBeginner
	Checks   Checker
}

func NewService(repo *Repository) *Service {
	return &Service{Balances: repo, Records: repo, DB: repo, Checks: repo}
}

// Apply moves userID's balance by delta and appends the matching record, both
// inside the caller's transaction. The sign of delta must match kind: consume
// debits, recharge and refund credit, admin_adjust may do either but not
// nothing.
func (s *Service) Apply(ctx context.Context, tx pgx.Tx, userID uuid.UUID, delta int, kind string, taskID *uuid.UUID, remark string) (int, *models.LedgerRecord, error) {
	if !models.ValidLedgerKind(kind) {
		return 0, nil, fmt.Errorf("unknown ledger kind %q", kind)
	}
	switch kind {
	case models.LedgerKindConsume:
		if delta >= 0 {
			return 0, nil, fmt.Errorf("consume delta must be negative, got %d", delta)
		}
	case models.LedgerKindRecharge, models.LedgerKindRefund:
		if delta <= 0 {
			return 0, nil, fmt.Errorf("%s delta must be positive, got %d", kind, delta)
		}
	case models.LedgerKindAdminAdjust:
		if delta == 0 {
			return 0, nil, errors.New("admin_adjust delta must be non-zero")
		}
	}

	newBalance, err := s.Balances.ApplyDelta(ctx, tx, userID, delta)
	if err != nil {
		return 0, nil, err
	}
	rec := &models.LedgerRecord{
		ID:           uuid.New(),
		UserID:       userID,
		TaskID:       taskID,
		Kind:         kind,
		Amount:       delta,
		BalanceAfter: newBalance,
		Remark:       remark,
	}
	if err := s.Records.Append(ctx, tx, rec); err != nil {
		return 0, nil, err
	}
	return newBalance, rec, nil
}

// Recharge credits amount to userID in its own transaction.
func (s *Service) Recharge(ctx context.Context, userID uuid.UUID, amount int, remark string) (int, *models.LedgerRecord, error) {
	if amount <= 0 {
		return 0, nil, fmt.Errorf("recharge amount must be positive, got %d", amount)
	}
	return s.applyOwnTx(ctx, userID, amount, models.LedgerKindRecharge, remark)
}

// AdminAdjust applies a signed correction to userID in its own transaction.
// Negative adjustments still cannot drive the balance below zero.
func (s *Service) AdminAdjust(ctx context.Context, userID uuid.UUID, delta int, remark string) (int, *models.LedgerRecord, error) {
	return s.applyOwnTx(ctx, userID, delta, models.LedgerKindAdminAdjust, remark)
}

func (s *Service) applyOwnTx(ctx context.Context, userID uuid.UUID, delta int, kind, remark string) (int, *models.LedgerRecord, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return 0, nil, err
	}
	defer tx.Rollback(ctx)

	newBalance, rec, err := s.Apply(ctx, tx, userID, delta, kind, nil, remark)
	if err != nil {
		return 0, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, nil, err
	}
	return newBalance, rec, nil
}

// VerifyResult reports whether one user's cached balance agrees with their
// ledger history.
type VerifyResult struct {
	UserID           uuid.UUID `json:"user_id"`
	Consistent       bool      `json:"consistent"`
	CachedBalance    int       `json:"cached_balance"`
	RecordSum        int       `json:"record_sum"`
	LastBalanceAfter int       `json:"last_balance_after"`
	RecordCount      int64     `json:"record_count"`
}

// Verify replays the conservation invariant for userID: the records must sum
// to the cached balance, and the newest record's balance_after must equal it.
// A user with no records is consistent only at balance zero.
func (s *Service) Verify(ctx context.Context, userID uuid.UUID) (*VerifyResult, error) {
	c, err := s.Checks.Check(ctx, userID)
	if err != nil {
		return nil, err
	}
	res := &VerifyResult{
		UserID:           userID,
		CachedBalance:    c.CachedBalance,
		RecordSum:        c.RecordSum,
		LastBalanceAfter: c.LastBalanceAfter,
		RecordCount:      c.RecordCount,
	}
	res.Consistent = c.RecordSum == c.CachedBalance &&
		(c.RecordCount == 0 || c.LastBalanceAfter == c.CachedBalance)
	return res, nil
}
