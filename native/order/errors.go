package order

import "errors"

var (
	// ErrNotFound indicates an unknown order identifier.
	ErrNotFound = errors.New("order engine: order not found")
	// ErrInvalidAmount indicates a zero or negative making or taking
	// amount.
	ErrInvalidAmount = errors.New("order engine: invalid amount")
	// ErrInvalidExpiration indicates an expiration outside the permitted
	// window.
	ErrInvalidExpiration = errors.New("order engine: invalid expiration")
	// ErrInvalidAssetPair indicates identical, unknown or disallowed
	// assets.
	ErrInvalidAssetPair = errors.New("order engine: invalid asset pair")
	// ErrAlreadyFilled indicates the order has already been taken.
	ErrAlreadyFilled = errors.New("order engine: order already filled")
	// ErrCancelled indicates the order was cancelled by its maker.
	ErrCancelled = errors.New("order engine: order cancelled")
	// ErrExpired indicates the order lapsed before it was taken.
	ErrExpired = errors.New("order engine: order expired")
	// ErrUnauthorized indicates the caller may not act on the order.
	ErrUnauthorized = errors.New("order engine: caller not authorized")
	// ErrTooManyOrders indicates a system or per-maker order limit was
	// hit.
	ErrTooManyOrders = errors.New("order engine: order limit reached")
	// ErrRateLimited indicates order creation is being throttled.
	ErrRateLimited = errors.New("order engine: order creation rate limited")
	// ErrNotProfitable indicates the current auction price plus the
	// resolver fee exceeds the order's taking amount.
	ErrNotProfitable = errors.New("order engine: fill not profitable")
	// ErrInsufficientRemaining indicates a partial fill larger than the
	// unfilled remainder.
	ErrInsufficientRemaining = errors.New("order engine: insufficient remaining amount")
	// ErrInvalidSecretIndex indicates a partial fill presented with the
	// wrong secret index for its cumulative fill level.
	ErrInvalidSecretIndex = errors.New("order engine: invalid secret index")
	// ErrInvalidSignature indicates a maker signature of the wrong length.
	ErrInvalidSignature = errors.New("order engine: invalid signature")
	// ErrFillInProgress indicates a concurrent fill holds the order.
	ErrFillInProgress = errors.New("order engine: fill in progress")
	// ErrManualIntervention indicates a fill moved one leg but could not
	// move or compensate the other. Funds require operator attention.
	ErrManualIntervention = errors.New("order engine: manual intervention required")
)
