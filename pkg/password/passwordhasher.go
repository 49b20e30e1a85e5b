package password

// Hasher defines the interface for password hashing implementations.
// The same hasher is used for account passwords and for 2FA backup codes,
// which are stored hashed at rest.
type Hasher interface {
	// Hash hashes a plaintext password
	Hash(password string) (string, error)

	// Verify checks if the provided password matches the stored hash
	Verify(password, hashedPassword string) (bool, error)
}
