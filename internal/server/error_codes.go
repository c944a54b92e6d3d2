package server

const (
	// Validation (1xxx)
	ErrCodeInvalidArgument = 1000
	ErrCodeInvalidJSON     = 1001
	ErrCodeRequestTooLarge = 1002
	ErrCodeInvalidQuery    = 1003
	ErrCodeInvalidType     = 1006
	ErrCodeMissingRequired = 1009
	ErrCodeInvalidPayload  = 1015
	ErrCodeInvalidRatio    = 1016

	// Domain state (2xxx)
	ErrCodeNotFound = 2001
	ErrCodeOffline  = 2201

	// Limits (3xxx)
	ErrCodeResourceExhausted = 3003
	ErrCodeQuotaExceeded     = 3004

	// Internal/system (4xxx)
	ErrCodeInternal     = 4001
	ErrCodeStoreFailure = 4002
)

func defaultErrorCodeByStatus(status int) int {
	switch status {
	case 400:
		return ErrCodeInvalidArgument
	case 404:
		return ErrCodeNotFound
	case 409:
		return ErrCodeOffline
	case 413:
		return ErrCodeRequestTooLarge
	case 429:
		return ErrCodeResourceExhausted
	case 500:
		return ErrCodeInternal
	case 507:
		return ErrCodeQuotaExceeded
	default:
		return 0
	}
}
