package utils

import "golang.org/x/crypto/bcrypt"

// HashKey returns the bcrypt hash of an operator key.
func HashKey(plain string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyKey compares a bcrypt hash with a presented key. An empty hash
// never matches.
func VerifyKey(hash, plain string) bool {
	if hash == "" || plain == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// NewOperatorKey generates a random operator key and its hash.
func NewOperatorKey(cost int) (key, hash string, err error) {
	key, err = randomHex(24)
	if err != nil {
		return "", "", err
	}
	hash, err = HashKey(key, cost)
	if err != nil {
		return "", "", err
	}
	return key, hash, nil
}
