package exception

import "errors"

var (
	ErrBookEmptySide             = errors.New("book: empty side")
	ErrBookDivideByZero          = errors.New("book: divide by zero")
	ErrBookInsufficientLiquidity = errors.New("book: insufficient liquidity")
	ErrBookInvalidUpdate         = errors.New("book: invalid update")
)
