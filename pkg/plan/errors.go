package plan

import "errors"

var (
	ErrIncompleteCatalog = errors.New("plan catalog requires a price ID for every paid tier")
	ErrDuplicatePriceID  = errors.New("plan catalog price IDs must be distinct")
)
