package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// LedgerEntryDirection represents debit or credit postings.
type LedgerEntryDirection string

const (
	LedgerEntryDirectionDebit  LedgerEntryDirection = "debit"
	LedgerEntryDirectionCredit LedgerEntryDirection = "credit"
)

type LedgerAccountCode string

const (
	// Asset: funds sitting at the payment gateway.
	AccountCodeGatewayCash LedgerAccountCode = "gateway_cash"
	// Liability: organizer funds held until the booking settles.
	AccountCodeEscrow LedgerAccountCode = "escrow_liability"
	// Revenue: platform fees earned on settled bookings.
	AccountCodePlatformRevenue LedgerAccountCode = "platform_fee_revenue"
)

type LedgerAccountType string

const (
	AccountTypeAsset     LedgerAccountType = "asset"
	AccountTypeLiability LedgerAccountType = "liability"
	AccountTypeRevenue   LedgerAccountType = "revenue"
)

var accountTypes = map[LedgerAccountCode]LedgerAccountType{
	AccountCodeGatewayCash:     AccountTypeAsset,
	AccountCodeEscrow:          AccountTypeLiability,
	AccountCodePlatformRevenue: AccountTypeRevenue,
}

func (c LedgerAccountCode) Type() LedgerAccountType {
	return accountTypes[c]
}

// LedgerAccount defines a chart-of-accounts entry.
type LedgerAccount struct {
	ID        snowflake.ID      `gorm:"primaryKey"`
	Code      LedgerAccountCode `gorm:"type:text;not null;uniqueIndex:ux_ledger_accounts_code"`
	Name      string            `gorm:"type:text;not null"`
	Type      LedgerAccountType `gorm:"type:text;not null"`
	CreatedAt time.Time         `gorm:"not null"`
}

func (LedgerAccount) TableName() string { return "ledger_accounts" }

// LedgerEntry captures the immutable header for a money movement. One entry
// exists per (source type, source id).
type LedgerEntry struct {
	ID         snowflake.ID    `gorm:"primaryKey"`
	BookingID  snowflake.ID    `gorm:"not null;index"`
	SourceType TransactionKind `gorm:"type:text;not null"`
	SourceID   snowflake.ID    `gorm:"not null"`
	Currency   string          `gorm:"type:text;not null"`
	OccurredAt time.Time       `gorm:"not null"`
	CreatedAt  time.Time       `gorm:"not null"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

// LedgerEntryLine is a double-entry posting line.
type LedgerEntryLine struct {
	ID            snowflake.ID         `gorm:"primaryKey"`
	LedgerEntryID snowflake.ID         `gorm:"not null;index"`
	AccountID     snowflake.ID         `gorm:"not null;index"`
	AccountCode   LedgerAccountCode    `gorm:"-"`
	Direction     LedgerEntryDirection `gorm:"type:text;not null"`
	Amount        int64                `gorm:"not null"`
	CreatedAt     time.Time            `gorm:"not null"`
}

func (LedgerEntryLine) TableName() string { return "ledger_entry_lines" }

// PostingFor returns the balanced lines that record a completed transaction.
func PostingFor(kind TransactionKind, amount int64) ([]LedgerEntryLine, error) {
	if amount <= 0 {
		return nil, ErrInvalidLineAmount
	}
	var debit, credit LedgerAccountCode
	switch kind {
	case KindOrganizerPayment:
		debit, credit = AccountCodeGatewayCash, AccountCodeEscrow
	case KindProviderPayout, KindRefund:
		debit, credit = AccountCodeEscrow, AccountCodeGatewayCash
	case KindPlatformFee:
		debit, credit = AccountCodeEscrow, AccountCodePlatformRevenue
	case KindProviderAdjustment:
		debit, credit = AccountCodePlatformRevenue, AccountCodeGatewayCash
	case KindPlatformFeeReversal:
		debit, credit = AccountCodePlatformRevenue, AccountCodeEscrow
	default:
		return nil, ErrInvalidSourceType
	}
	return []LedgerEntryLine{
		{AccountCode: debit, Direction: LedgerEntryDirectionDebit, Amount: amount},
		{AccountCode: credit, Direction: LedgerEntryDirectionCredit, Amount: amount},
	}, nil
}

// ValidateBalanced checks that debits equal credits.
func ValidateBalanced(lines []LedgerEntryLine) error {
	if len(lines) < 2 {
		return ErrInvalidEntryLines
	}
	var debits, credits int64
	for _, line := range lines {
		if line.Amount <= 0 {
			return ErrInvalidLineAmount
		}
		switch line.Direction {
		case LedgerEntryDirectionDebit:
			debits += line.Amount
		case LedgerEntryDirectionCredit:
			credits += line.Amount
		default:
			return ErrInvalidLineDirection
		}
	}
	if debits != credits {
		return ErrUnbalancedEntry
	}
	return nil
}
