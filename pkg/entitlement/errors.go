package entitlement

import "errors"

var (
	ErrRecordNotFound        = errors.New("entitlement record not found")
	ErrRecordExists          = errors.New("entitlement record already exists")
	ErrInvalidOverrideReason = errors.New("invalid override reason")

	ErrFailedToConnect   = errors.New("failed to connect to entitlement store")
	ErrHealthcheckFailed = errors.New("entitlement store healthcheck failed")
)
