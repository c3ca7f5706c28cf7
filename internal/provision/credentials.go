package provision

import "golang.org/x/crypto/bcrypt"

// RandomSecret returns a hex-encoded random secret of n bytes
func RandomSecret(n int) (string, error) {
	return randomHex(n)
}

// HashCredential hashes a generated credential before it is stored or
// handed to the tenant's seed process
func HashCredential(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyCredential reports whether plain matches a stored hash
func VerifyCredential(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
