package cryptox

import "golang.org/x/crypto/bcrypt"

// PasswordCost is the bcrypt cost used for stored password hashes.
const PasswordCost = 12

// dummyHash is compared against when a login names an unknown user so that
// both branches spend the same bcrypt time.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("sessionkeeper-dummy-password"), bcrypt.MinCost)

// HashPassword returns a bcrypt hash of password.
func HashPassword(password []byte) ([]byte, error) {
	return bcrypt.GenerateFromPassword(password, PasswordCost)
}

// ComparePassword reports whether password matches hash. A nil hash is
// compared against a dummy value and always fails.
func ComparePassword(hash, password []byte) bool {
	if hash == nil {
		_ = bcrypt.CompareHashAndPassword(dummyHash, password)
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, password) == nil
}

// WipeByteArray overwrites b with zeros. Use it on passwords once they are no
// longer needed.
func WipeByteArray(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
