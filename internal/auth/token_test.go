package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	claims := NewClaims("admin", 42, time.Hour)
	claims.Role = "moderator"
	claims.Permissions = []string{"approve_submissions"}

	issued, err := IssueToken(secret, claims)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	parsed, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if parsed.Kind != "admin" || parsed.AccountID() != 42 || parsed.Role != "moderator" {
		t.Fatalf("unexpected claims: %+v", parsed)
	}
	if len(parsed.Permissions) != 1 || parsed.ID == "" {
		t.Fatalf("expected permissions and jti, got %+v", parsed)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, NewClaims("user", 1, -time.Minute))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken(secret, issued); err != ErrExpiredToken {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	issued, err := IssueToken([]byte("secret"), NewClaims("user", 1, time.Hour))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken([]byte("other"), issued); err != ErrInvalidToken {
		t.Fatalf("expected wrong secret to fail, got %v", err)
	}
	if _, err := ParseToken([]byte("secret"), strings.TrimSuffix(issued, issued[len(issued)-2:])); err != ErrInvalidToken {
		t.Fatalf("expected truncated signature to fail, got %v", err)
	}
}

func TestParseTokenRejectsOtherAlgorithms(t *testing.T) {
	claims := NewClaims("user", 1, time.Hour)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := ParseToken([]byte("secret"), unsigned); err != ErrInvalidToken {
		t.Fatalf("expected alg none to be rejected, got %v", err)
	}
}

func TestParseTokenRequiresSubject(t *testing.T) {
	claims := NewClaims("user", 0, time.Hour)
	issued, err := IssueToken([]byte("secret"), claims)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken([]byte("secret"), issued); err != ErrInvalidToken {
		t.Fatalf("expected missing subject to fail, got %v", err)
	}
}

func TestHashTokenIsStable(t *testing.T) {
	if HashToken("abc") != HashToken("abc") || HashToken("abc") == HashToken("abd") {
		t.Fatal("HashToken must be deterministic and distinguish inputs")
	}
	if len(NewOpaqueToken()) != 72 {
		t.Fatal("unexpected opaque token length")
	}
}
