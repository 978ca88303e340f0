// Package stock reads, decrements and restores product stock. Every function
// takes the caller's transaction and must not be used outside one.
package stock

import (
	"bytes"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/models"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
)

type InsufficientStockError struct {
	ProductID uuid.UUID
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

type Line struct {
	ProductID uuid.UUID
	Quantity  int
}

// Merge folds duplicate products into one line and orders the result by
// product id. Locking rows in that order keeps concurrent checkouts from
// deadlocking on each other.
func Merge(lines []Line) []Line {
	sums := make(map[uuid.UUID]int, len(lines))
	for _, l := range lines {
		sums[l.ProductID] += l.Quantity
	}
	out := make([]Line, 0, len(sums))
	for id, q := range sums {
		out = append(out, Line{ProductID: id, Quantity: q})
	}
	slices.SortFunc(out, func(a, b Line) int {
		return bytes.Compare(a.ProductID[:], b.ProductID[:])
	})
	return out
}

// CheckAndLock takes a row lock on the product and verifies it can cover qty.
func CheckAndLock(tx *gorm.DB, productID uuid.UUID, qty int) (*models.Product, error) {
	var p models.Product
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", productID).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	if err != nil {
		return nil, err
	}
	if p.StockQuantity < qty {
		return nil, &InsufficientStockError{ProductID: productID, Requested: qty, Available: p.StockQuantity}
	}
	return &p, nil
}

// Decrement is conditional on the row still holding enough stock, so it is
// safe even if the caller skipped CheckAndLock.
func Decrement(tx *gorm.DB, productID uuid.UUID, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("decrement quantity must be positive, got %d", qty)
	}
	res := tx.Model(&models.Product{}).
		Where("id = ? AND stock_quantity >= ?", productID, qty).
		Update("stock_quantity", gorm.Expr("stock_quantity - ?", qty))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &InsufficientStockError{ProductID: productID, Requested: qty}
	}
	return nil
}

func Restore(tx *gorm.DB, productID uuid.UUID, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("restore quantity must be positive, got %d", qty)
	}
	res := tx.Model(&models.Product{}).
		Where("id = ?", productID).
		Update("stock_quantity", gorm.Expr("stock_quantity + ?", qty))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	return nil
}
