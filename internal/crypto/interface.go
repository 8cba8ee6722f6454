package crypto

// Engine encrypts and verifies secret file contents under one password.
type Engine interface {
	// Encrypt returns the base64 blob for plaintext.
	Encrypt(plaintext []byte) (string, error)

	// Decrypt authenticates and decrypts a base64 blob.
	Decrypt(encoded string) ([]byte, error)

	// VerifyStructure checks the blob layout without decrypting.
	VerifyStructure(encoded string) bool

	// VerifyDetailed checks layout and decryptability.
	VerifyDetailed(encoded string) VerifyResult
}

// VerifyResult reports the outcome of VerifyDetailed.
type VerifyResult struct {
	Valid           bool   `json:"valid"`
	StructureValid  bool   `json:"structure_valid"`
	DecryptionValid bool   `json:"decryption_valid"`
	Error           string `json:"error,omitempty"`
}
