package alert

import "errors"

var (
	ErrInvalidAlert      = errors.New("invalid alert")
	ErrUnknownMarket     = errors.New("unknown market")
	ErrDuplicateAlert    = errors.New("duplicate alert")
	ErrNotFound          = errors.New("alert not found")
	ErrPriceFetch        = errors.New("price fetch failed")
	ErrOutcomeOutOfRange = errors.New("outcome index out of range")
	ErrCacheRefresh      = errors.New("market cache refresh failed")
	ErrStore             = errors.New("alert store failure")
)
