package exception

import "errors"

var (
	ErrOrderRejected            = errors.New("order: rejected")
	ErrOrderInsufficientBalance = errors.New("order: insufficient balance")
	ErrOrderNotFound            = errors.New("order: not found")
	ErrOrderInvalidRequest      = errors.New("order: invalid request")
)

var (
	ErrAccountUnknownExchange = errors.New("account: unknown exchange")
)
