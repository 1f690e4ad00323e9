package ledger

import "errors"

// Error taxonomy shared by the ledger and the ranking jobs. Callers match with errors.Is;
// every returned error wraps one of these with the offending key or account.
var (
	// ErrConfigMissing is returned when a required score setting has not been initialized.
	ErrConfigMissing = errors.New("config missing")
	// ErrUnknownAccount is returned when a required party is not in the user registry.
	ErrUnknownAccount = errors.New("unknown account")
	// ErrInvariantViolation covers malformed job descriptors and inconsistent state.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrDuplicateKey is returned when an identifier is reused.
	ErrDuplicateKey = errors.New("duplicate key")
)
