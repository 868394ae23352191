package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/gigpay/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/gigpay/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var accountNames = map[ledgerdomain.LedgerAccountCode]string{
	ledgerdomain.AccountCodeGatewayCash:     "Gateway cash",
	ledgerdomain.AccountCodeEscrow:          "Escrow liability",
	ledgerdomain.AccountCodePlatformRevenue: "Platform fee revenue",
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) PostTransactionTx(ctx context.Context, tx *gorm.DB, txn ledgerdomain.Transaction, occurredAt time.Time) (bool, error) {
	lines, err := ledgerdomain.PostingFor(txn.Kind, txn.Amount)
	if err != nil {
		return false, err
	}
	return s.PostEntryTx(ctx, tx, ledgerdomain.PostEntryRequest{
		BookingID:  txn.BookingID,
		SourceType: txn.Kind,
		SourceID:   txn.ID,
		Currency:   txn.Currency,
		OccurredAt: occurredAt,
		Lines:      lines,
	})
}

func (s *Service) PostEntryTx(ctx context.Context, tx *gorm.DB, req ledgerdomain.PostEntryRequest) (bool, error) {
	sourceType := ledgerdomain.TransactionKind(strings.TrimSpace(string(req.SourceType)))
	if sourceType == "" {
		return false, ledgerdomain.ErrInvalidSourceType
	}
	if req.SourceID == 0 {
		return false, ledgerdomain.ErrInvalidSourceID
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return false, ledgerdomain.ErrInvalidCurrency
	}
	if req.OccurredAt.IsZero() {
		return false, ledgerdomain.ErrInvalidOccurredAt
	}

	normalized := make([]ledgerdomain.LedgerEntryLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		if _, ok := accountNames[line.AccountCode]; !ok {
			return false, ledgerdomain.ErrInvalidAccount
		}
		direction, err := normalizeDirection(line.Direction)
		if err != nil {
			return false, err
		}
		normalized = append(normalized, ledgerdomain.LedgerEntryLine{
			AccountCode: line.AccountCode,
			Direction:   direction,
			Amount:      line.Amount,
		})
	}
	if err := ledgerdomain.ValidateBalanced(normalized); err != nil {
		return false, err
	}

	entryID := s.genID.Generate()
	now := time.Now().UTC()
	result := tx.WithContext(ctx).Exec(
		`INSERT INTO ledger_entries (
			id, booking_id, source_type, source_id, currency, occurred_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_type, source_id) DO NOTHING`,
		entryID,
		req.BookingID,
		string(sourceType),
		req.SourceID,
		currency,
		req.OccurredAt.UTC(),
		now,
	)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	for _, line := range normalized {
		accountID, err := s.ensureAccount(ctx, tx, line.AccountCode, now)
		if err != nil {
			return false, err
		}
		if err := tx.WithContext(ctx).Exec(
			`INSERT INTO ledger_entry_lines (
				id, ledger_entry_id, account_id, direction, amount, created_at
			) VALUES (?, ?, ?, ?, ?, ?)`,
			s.genID.Generate(),
			entryID,
			accountID,
			string(line.Direction),
			line.Amount,
			now,
		).Error; err != nil {
			return false, err
		}
	}

	s.log.Debug("ledger entry posted",
		zap.String("booking_id", req.BookingID.String()),
		zap.String("source_type", string(sourceType)),
		zap.String("source_id", req.SourceID.String()),
	)
	s.obsMetrics.RecordLedgerEntry(ctx, string(sourceType))
	return true, nil
}

func (s *Service) Balance(ctx context.Context, code ledgerdomain.LedgerAccountCode, currency string) (int64, error) {
	var balance int64
	err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(CASE WHEN l.direction = ? THEN l.amount ELSE -l.amount END), 0)
		FROM ledger_entry_lines l
		JOIN ledger_accounts a ON a.id = l.account_id
		JOIN ledger_entries e ON e.id = l.ledger_entry_id
		WHERE a.code = ? AND e.currency = ?`,
		string(ledgerdomain.LedgerEntryDirectionDebit),
		string(code),
		strings.ToUpper(strings.TrimSpace(currency)),
	).Scan(&balance).Error
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *Service) ensureAccount(ctx context.Context, tx *gorm.DB, code ledgerdomain.LedgerAccountCode, now time.Time) (snowflake.ID, error) {
	if err := tx.WithContext(ctx).Exec(
		`INSERT INTO ledger_accounts (id, code, name, type, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (code) DO NOTHING`,
		s.genID.Generate(),
		string(code),
		accountNames[code],
		string(code.Type()),
		now,
	).Error; err != nil {
		return 0, err
	}

	var account ledgerdomain.LedgerAccount
	if err := tx.WithContext(ctx).Raw(
		`SELECT id, code, name, type, created_at FROM ledger_accounts WHERE code = ?`,
		string(code),
	).Scan(&account).Error; err != nil {
		return 0, err
	}
	if account.ID == 0 {
		return 0, ledgerdomain.ErrInvalidAccount
	}
	return account.ID, nil
}

func normalizeDirection(direction ledgerdomain.LedgerEntryDirection) (ledgerdomain.LedgerEntryDirection, error) {
	normalized := strings.ToLower(strings.TrimSpace(string(direction)))
	switch normalized {
	case string(ledgerdomain.LedgerEntryDirectionDebit):
		return ledgerdomain.LedgerEntryDirectionDebit, nil
	case string(ledgerdomain.LedgerEntryDirectionCredit):
		return ledgerdomain.LedgerEntryDirectionCredit, nil
	default:
		return "", ledgerdomain.ErrInvalidLineDirection
	}
}
