package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Skotchmaster/online_pharmacy/pkg/db"
	"github.com/Skotchmaster/online_pharmacy/pkg/logging"
	"github.com/Skotchmaster/online_pharmacy/pkg/money"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/coupon"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/models"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/repo"
)

type CreateCouponInput struct {
	Code              string
	DiscountType      models.DiscountType
	DiscountValue     decimal.Decimal
	MinPurchaseAmount decimal.NullDecimal
	MaxDiscountAmount decimal.NullDecimal
	StartDate         time.Time
	EndDate           time.Time
	UsageLimit        *int
	IsActive          bool
}

type CouponService struct {
	Repo *repo.GormRepo
	Now  func() time.Time
}

func (s *CouponService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Validate previews the discount a coupon would give on total without
// consuming it.
func (s *CouponService) Validate(ctx context.Context, code string, total decimal.Decimal) (*coupon.Result, error) {
	if total.IsNegative() {
		return nil, fmt.Errorf("%w: total_amount must not be negative", ErrValidation)
	}
	return coupon.Validate(s.Repo.DB.WithContext(ctx), code, money.Round2(total), s.now())
}

func (s *CouponService) Create(ctx context.Context, in CreateCouponInput) (*models.Coupon, error) {
	code := coupon.Normalize(in.Code)
	switch {
	case code == "":
		return nil, fmt.Errorf("%w: code required", ErrValidation)
	case in.DiscountType != models.DiscountPercentage && in.DiscountType != models.DiscountFixed:
		return nil, fmt.Errorf("%w: discount_type must be percentage or fixed", ErrValidation)
	case !in.DiscountValue.IsPositive():
		return nil, fmt.Errorf("%w: discount_value must be positive", ErrValidation)
	case in.DiscountType == models.DiscountPercentage && in.DiscountValue.GreaterThan(decimal.NewFromInt(100)):
		return nil, fmt.Errorf("%w: percentage discount above 100", ErrValidation)
	case !in.EndDate.After(in.StartDate):
		return nil, fmt.Errorf("%w: end_date must be after start_date", ErrValidation)
	case in.UsageLimit != nil && *in.UsageLimit < 0:
		return nil, fmt.Errorf("%w: usage_limit must not be negative", ErrValidation)
	case in.MinPurchaseAmount.Valid && in.MinPurchaseAmount.Decimal.IsNegative(),
		in.MaxDiscountAmount.Valid && in.MaxDiscountAmount.Decimal.IsNegative():
		return nil, fmt.Errorf("%w: amounts must not be negative", ErrValidation)
	}

	c := &models.Coupon{
		Code:              code,
		DiscountType:      in.DiscountType,
		DiscountValue:     money.Round2(in.DiscountValue),
		MinPurchaseAmount: in.MinPurchaseAmount,
		MaxDiscountAmount: in.MaxDiscountAmount,
		StartDate:         in.StartDate.UTC(),
		EndDate:           in.EndDate.UTC(),
		UsageLimit:        in.UsageLimit,
		IsActive:          in.IsActive,
	}
	if err := s.Repo.CreateCoupon(ctx, c); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: coupon %s already exists", ErrConflict, code)
		}
		return nil, err
	}
	logging.FromContext(ctx).Info("coupon_created", "code", code, "type", c.DiscountType)
	return c, nil
}
