package service

import "errors"

var (
	ErrValidation = errors.New("validation") // 400
	ErrNotFound   = errors.New("not found")  // 404
	ErrConflict   = errors.New("conflict")   // 409

	ErrPrescriptionRequired = errors.New("prescription required")
	ErrOrderNotCancellable  = errors.New("order not cancellable")
	ErrNotEligibleForRefund = errors.New("order not eligible for refund")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrOrderNotPayable      = errors.New("order not payable")
	ErrAmountMismatch       = errors.New("amount mismatch")
	ErrPaymentInProgress    = errors.New("payment in progress")
	ErrDuplicateRequest     = errors.New("duplicate request in progress")
	ErrGateway              = errors.New("payment gateway error") // 502
)
