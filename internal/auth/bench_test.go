package auth

import "testing"

const (
	benchPassword = "correct-horse-battery-staple"
	benchSecret   = "benchmark-secret-key-32-bytes-xx"
)

var benchUser = User{Username: "bench", Role: RoleOperator}

// ─── Password hashing: Argon2id, deliberately slow ──────────────────

func BenchmarkHashPassword(b *testing.B) {
	for i := 0; i < b.N; i++ {
		HashPassword(benchPassword) //nolint:errcheck // benchmark
	}
}

func BenchmarkVerifyPassword(b *testing.B) {
	hash, err := HashPassword(benchPassword)
	if err != nil {
		b.Fatalf("HashPassword: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		VerifyPassword(benchPassword, hash) //nolint:errcheck // benchmark
	}
}

// ─── JWT mint and verify: runs on every authenticated request ───────

func BenchmarkGenerateAccessToken(b *testing.B) {
	for i := 0; i < b.N; i++ {
		GenerateAccessToken(benchUser, benchSecret, 15) //nolint:errcheck // benchmark
	}
}

func BenchmarkParseToken(b *testing.B) {
	token, err := GenerateAccessToken(benchUser, benchSecret, 15)
	if err != nil {
		b.Fatalf("GenerateAccessToken: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ParseToken(token, benchSecret) //nolint:errcheck // benchmark
	}
}
