package router

import "errors"

var (
	ErrExchangeNotFound   = errors.New("exchange not found")
	ErrAllExchangesFailed = errors.New("all exchanges failed")
	ErrPartialFailure     = errors.New("partial failure")
	ErrNoStrategy         = errors.New("strategy not initialized")
)
