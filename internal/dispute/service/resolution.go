package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gigpay/internal/dispute/domain"
	settlementdomain "github.com/smallbiznis/gigpay/internal/settlement/domain"
	"gorm.io/gorm"
)

// resolutionSource hands the settlement planner the amounts of the latest
// resolved dispute of a booking.
type resolutionSource struct {
	repo domain.Repository
}

func NewResolutionSource(repo domain.Repository) settlementdomain.ResolutionSource {
	return &resolutionSource{repo: repo}
}

func (s *resolutionSource) ResolutionFor(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) (*settlementdomain.Resolution, error) {
	d, err := s.repo.FindLatestResolved(ctx, db, bookingID)
	if err != nil || d == nil {
		return nil, err
	}
	return &settlementdomain.Resolution{
		DisputeID:    d.ID,
		RefundAmount: d.RefundAmount,
		PayoutAmount: d.PayoutAmount,
	}, nil
}
