package repo

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/models"
)

func CreatePaymentSource(tx *gorm.DB, src *models.PaymentSource) error {
	return tx.Create(src).Error
}

func (r *GormRepo) GetSource(ctx context.Context, externalID string) (*models.PaymentSource, error) {
	var s models.PaymentSource
	if err := r.DB.WithContext(ctx).First(&s, "external_id = ?", externalID).Error; err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

// Sources lists an order's payment sources in the given results, newest first.
func (r *GormRepo) Sources(ctx context.Context, orderID uuid.UUID, results ...models.PaymentResult) ([]models.PaymentSource, error) {
	var out []models.PaymentSource
	err := r.DB.WithContext(ctx).
		Where("order_id = ? AND result IN ?", orderID, results).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

// SettleSource moves a source from one of `from` to result. It reports
// false when the source was in none of them.
func SettleSource(tx *gorm.DB, externalID string, from []models.PaymentResult, result models.PaymentResult) (bool, error) {
	res := tx.Model(&models.PaymentSource{}).
		Where("external_id = ? AND result IN ?", externalID, from).
		Update("result", result)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func ExpirePendingSources(tx *gorm.DB, orderID uuid.UUID) (int64, error) {
	res := tx.Model(&models.PaymentSource{}).
		Where("order_id = ? AND result = ?", orderID, models.PaymentPending).
		Update("result", models.PaymentExpired)
	return res.RowsAffected, res.Error
}
