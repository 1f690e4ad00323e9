package utils

import (
	"golang.org/x/crypto/bcrypt"
)

// HashOrRead returns password unchanged when it already is a bcrypt hash, so ADMIN_PASSWORD
// may carry either form. Plain passwords are hashed with BCRYPT_COST.
func HashOrRead(password string) ([]byte, error) {
	if _, err := bcrypt.Cost([]byte(password)); err == nil {
		return []byte(password), nil
	}
	cost := EnvInt("BCRYPT_COST", bcrypt.DefaultCost)
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return bcrypt.GenerateFromPassword([]byte(password), cost)
}
