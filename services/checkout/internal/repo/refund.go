package repo

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/models"
)

func CreateRefund(tx *gorm.DB, r *models.Refund) error {
	return tx.Create(r).Error
}

func MarkRefunded(tx *gorm.DB, orderID uuid.UUID) error {
	return tx.Model(&models.Refund{}).
		Where("order_id = ? AND status = ?", orderID, models.RefundRequested).
		Update("status", models.RefundRefunded).Error
}
