package repo

import (
	"context"

	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/models"
)

func (r *GormRepo) CreateCoupon(ctx context.Context, c *models.Coupon) error {
	return r.DB.WithContext(ctx).Create(c).Error
}
