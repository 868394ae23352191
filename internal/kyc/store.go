package kyc

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type PayoutProfile struct {
	RecipientRef         string    `gorm:"primaryKey"`
	KYCStatus            Status    `gorm:"column:kyc_status;type:text;not null"`
	AccountName          string    `gorm:"type:text;not null;default:''"`
	AccountNumber        string    `gorm:"type:text;not null;default:''"`
	BankCode             string    `gorm:"type:text;not null;default:''"`
	Currency             string    `gorm:"type:text;not null;default:''"`
	GatewayRecipientCode string    `gorm:"type:text;not null;default:''"`
	StripeAccountID      string    `gorm:"type:text;not null;default:''"`
	CreatedAt            time.Time `gorm:"not null"`
	UpdatedAt            time.Time `gorm:"not null"`
}

func (PayoutProfile) TableName() string { return "payout_profiles" }

// Store is the GORM backed Verifier.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewStore(db *gorm.DB, log *zap.Logger) *Store {
	return &Store{db: db, log: log.Named("kyc.store")}
}

func (s *Store) IsVerified(ctx context.Context, recipientRef string) (bool, error) {
	profile, err := s.find(ctx, recipientRef)
	if err != nil {
		return false, err
	}
	return profile != nil && profile.KYCStatus == StatusVerified, nil
}

func (s *Store) PayoutDestination(ctx context.Context, recipientRef string) (*Destination, error) {
	profile, err := s.find(ctx, recipientRef)
	if err != nil || profile == nil {
		return nil, err
	}
	dest := &Destination{
		RecipientRef:         profile.RecipientRef,
		AccountName:          profile.AccountName,
		AccountNumber:        profile.AccountNumber,
		BankCode:             profile.BankCode,
		Currency:             profile.Currency,
		GatewayRecipientCode: profile.GatewayRecipientCode,
		StripeAccountID:      profile.StripeAccountID,
	}
	if !dest.Usable() {
		return nil, nil
	}
	return dest, nil
}

func (s *Store) RememberRecipientCode(ctx context.Context, recipientRef, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil
	}
	result := s.db.WithContext(ctx).Exec(
		`UPDATE payout_profiles SET gateway_recipient_code = ?, updated_at = ?
		WHERE recipient_ref = ? AND gateway_recipient_code = ''`,
		code, time.Now().UTC(), strings.TrimSpace(recipientRef),
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		s.log.Debug("cached gateway recipient code", zap.String("recipient_ref", recipientRef))
	}
	return nil
}

// Upsert writes a profile. Production profiles come from the account service;
// this exists for seeding and the operator CLI.
func (s *Store) Upsert(ctx context.Context, profile PayoutProfile) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Exec(
		`INSERT INTO payout_profiles (
			recipient_ref, kyc_status, account_name, account_number, bank_code,
			currency, gateway_recipient_code, stripe_account_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (recipient_ref) DO UPDATE SET
			kyc_status = excluded.kyc_status,
			account_name = excluded.account_name,
			account_number = excluded.account_number,
			bank_code = excluded.bank_code,
			currency = excluded.currency,
			gateway_recipient_code = excluded.gateway_recipient_code,
			stripe_account_id = excluded.stripe_account_id,
			updated_at = excluded.updated_at`,
		strings.TrimSpace(profile.RecipientRef),
		profile.KYCStatus,
		profile.AccountName,
		profile.AccountNumber,
		profile.BankCode,
		strings.ToUpper(profile.Currency),
		profile.GatewayRecipientCode,
		profile.StripeAccountID,
		now,
		now,
	).Error
}

func (s *Store) find(ctx context.Context, recipientRef string) (*PayoutProfile, error) {
	ref := strings.TrimSpace(recipientRef)
	if ref == "" {
		return nil, nil
	}
	var profile PayoutProfile
	if err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM payout_profiles WHERE recipient_ref = ?`, ref,
	).Scan(&profile).Error; err != nil {
		return nil, err
	}
	if profile.RecipientRef == "" {
		return nil, nil
	}
	return &profile, nil
}
