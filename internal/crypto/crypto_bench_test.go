package crypto_test

import (
	"crypto/rand"
	"testing"

	"github.com/TheMichaelB/secretsync/internal/crypto"
)

func BenchmarkKeyDerivation(b *testing.B) {
	salt := make([]byte, crypto.SaltSize)
	if _, err := rand.Read(salt); err != nil {
		b.Fatal(err)
	}
	password := []byte("benchmark password")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = crypto.DeriveKey(password, salt, crypto.DefaultIterations)
	}
}

func benchmarkEncrypt(b *testing.B, size int) {
	provider, err := crypto.NewProvider("benchmark password")
	if err != nil {
		b.Fatal(err)
	}

	plaintext := make([]byte, size)
	if _, err := rand.Read(plaintext); err != nil {
		b.Fatal(err)
	}

	b.SetBytes(int64(size))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := provider.Encrypt(plaintext); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEncrypt1KB(b *testing.B)  { benchmarkEncrypt(b, 1024) }
func BenchmarkEncrypt64KB(b *testing.B) { benchmarkEncrypt(b, 64*1024) }

func BenchmarkDecrypt(b *testing.B) {
	provider, err := crypto.NewProvider("benchmark password")
	if err != nil {
		b.Fatal(err)
	}

	plaintext := make([]byte, 4096)
	if _, err := rand.Read(plaintext); err != nil {
		b.Fatal(err)
	}

	encoded, err := provider.Encrypt(plaintext)
	if err != nil {
		b.Fatal(err)
	}

	b.SetBytes(int64(len(plaintext)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := provider.Decrypt(encoded); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkVerifyStructure(b *testing.B) {
	provider, err := crypto.NewProvider("benchmark password")
	if err != nil {
		b.Fatal(err)
	}

	encoded, err := provider.Encrypt([]byte("structure only"))
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = provider.VerifyStructure(encoded)
	}
}
