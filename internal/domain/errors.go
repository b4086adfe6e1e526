package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrBanned           = errors.New("user banned")
	ErrQuotaExceeded    = errors.New("quota exceeded")
	ErrDuplicatePayment = errors.New("payment already processed")
	ErrUnknownPlan      = errors.New("unknown plan")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrActivationFailed = errors.New("plan activation failed")
	ErrProviderFailure  = errors.New("provider failure")
)
