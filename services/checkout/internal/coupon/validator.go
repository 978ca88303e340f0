// Package coupon checks coupon applicability and computes the discount a
// coupon grants on a given amount.
package coupon

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Skotchmaster/online_pharmacy/pkg/money"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/models"
)

var (
	ErrCouponNotFound = errors.New("invalid coupon")
	ErrMinimumNotMet  = errors.New("minimum purchase not met")
)

const (
	ReasonNotFound     = "not_found"
	ReasonInactive     = "inactive"
	ReasonNotStarted   = "not_started"
	ReasonExpired      = "expired"
	ReasonUsageReached = "usage_limit_reached"
)

type InvalidCouponError struct {
	Code   string
	Reason string
}

func (e *InvalidCouponError) Error() string {
	return fmt.Sprintf("coupon %q is not applicable: %s", e.Code, e.Reason)
}

func (e *InvalidCouponError) Unwrap() error { return ErrCouponNotFound }

type MinimumNotMetError struct {
	Code    string
	Minimum decimal.Decimal
}

func (e *MinimumNotMetError) Error() string {
	return fmt.Sprintf("coupon %q requires a minimum purchase of %s", e.Code, money.Format(e.Minimum))
}

func (e *MinimumNotMetError) Unwrap() error { return ErrMinimumNotMet }

type Result struct {
	Coupon         *models.Coupon
	DiscountAmount decimal.Decimal
}

func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Evaluate applies the applicability rules to an already loaded coupon and
// returns the discount for total. It never mutates the coupon.
func Evaluate(c *models.Coupon, total decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	switch {
	case !c.IsActive:
		return decimal.Zero, &InvalidCouponError{Code: c.Code, Reason: ReasonInactive}
	case now.Before(c.StartDate):
		return decimal.Zero, &InvalidCouponError{Code: c.Code, Reason: ReasonNotStarted}
	case now.After(c.EndDate):
		return decimal.Zero, &InvalidCouponError{Code: c.Code, Reason: ReasonExpired}
	case c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit:
		return decimal.Zero, &InvalidCouponError{Code: c.Code, Reason: ReasonUsageReached}
	}

	if c.MinPurchaseAmount.Valid && total.LessThan(c.MinPurchaseAmount.Decimal) {
		return decimal.Zero, &MinimumNotMetError{Code: c.Code, Minimum: c.MinPurchaseAmount.Decimal}
	}

	var discount decimal.Decimal
	switch c.DiscountType {
	case models.DiscountPercentage:
		discount = money.Percent(total, c.DiscountValue)
	case models.DiscountFixed:
		discount = c.DiscountValue
	default:
		return decimal.Zero, fmt.Errorf("coupon %q has unknown discount type %q", c.Code, c.DiscountType)
	}

	if c.MaxDiscountAmount.Valid && discount.GreaterThan(c.MaxDiscountAmount.Decimal) {
		discount = c.MaxDiscountAmount.Decimal
	}
	return money.Clamp(discount, total), nil
}

// Validate looks the coupon up inside tx and evaluates it against total.
func Validate(tx *gorm.DB, code string, total decimal.Decimal, now time.Time) (*Result, error) {
	code = Normalize(code)
	if code == "" {
		return nil, &InvalidCouponError{Code: code, Reason: ReasonNotFound}
	}

	var c models.Coupon
	err := tx.Where("code = ?", code).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &InvalidCouponError{Code: code, Reason: ReasonNotFound}
	}
	if err != nil {
		return nil, err
	}

	discount, err := Evaluate(&c, total, now)
	if err != nil {
		return nil, err
	}
	return &Result{Coupon: &c, DiscountAmount: discount}, nil
}

// IncrementUsage bumps used_count by one. It reports false when the usage
// cap was already reached, in which case nothing is written.
func IncrementUsage(tx *gorm.DB, couponID uuid.UUID) (bool, error) {
	res := tx.Model(&models.Coupon{}).
		Where("id = ? AND (usage_limit IS NULL OR used_count < usage_limit)", couponID).
		Update("used_count", gorm.Expr("used_count + 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
