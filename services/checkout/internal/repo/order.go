package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/models"
)

// CreateOrder inserts the order together with its items.
func CreateOrder(tx *gorm.DB, order *models.Order) error {
	return tx.Create(order).Error
}

func (r *GormRepo) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var o models.Order
	if err := r.DB.WithContext(ctx).Preload("Items").First(&o, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

func (r *GormRepo) GetUserOrder(ctx context.Context, id, userID uuid.UUID) (*models.Order, error) {
	var o models.Order
	err := r.DB.WithContext(ctx).Preload("Items").
		Where("id = ? AND user_id = ?", id, userID).
		First(&o).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

func (r *GormRepo) ListOrders(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Order, int64, error) {
	q := r.DB.WithContext(ctx).Model(&models.Order{}).Where("user_id = ?", userID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var orders []models.Order
	if err := q.Preload("Items").Order("created_at DESC").Limit(limit).Offset(offset).Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// LockOrder reads the order and its items under a row lock.
func LockOrder(tx *gorm.DB, id uuid.UUID) (*models.Order, error) {
	var o models.Order
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Items").
		First(&o, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

// TransitionStatus moves the order to `to` only if it is currently in one of
// `from`. The audit row is written only when the update applied, so the
// number of audit rows always matches the number of transitions.
func TransitionStatus(tx *gorm.DB, id uuid.UUID, from []models.OrderStatus, to models.OrderStatus, reason string) (bool, error) {
	var current models.Order
	if err := tx.Select("status").First(&current, "id = ?", id).Error; err != nil {
		return false, notFound(err)
	}

	res := tx.Model(&models.Order{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	if err := AddStatusChange(tx, id, current.Status, to, reason); err != nil {
		return false, err
	}
	return true, nil
}

func AddStatusChange(tx *gorm.DB, orderID uuid.UUID, from, to models.OrderStatus, reason string) error {
	return tx.Create(&models.OrderStatusChange{
		OrderID:    orderID,
		FromStatus: from,
		ToStatus:   to,
		Reason:     reason,
	}).Error
}

func (r *GormRepo) StatusChanges(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusChange, error) {
	var out []models.OrderStatusChange
	err := r.DB.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

// ListStale returns unpaid orders created before cutoff, oldest first.
func (r *GormRepo) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var out []models.Order
	err := r.DB.WithContext(ctx).
		Where("status IN ? AND created_at < ?", []models.OrderStatus{models.StatusPending, models.StatusAwaitingPayment}, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
