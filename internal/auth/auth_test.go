package auth

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestOperatorsLogin(t *testing.T) {
	hash, err := HashPassword("s3cret", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	tokens := NewTokenManager("test-secret", 5)
	ops := NewOperators(map[string]string{"ana": hash, "luis": hash}, []string{"ana"}, tokens)

	token, _, role, err := ops.Login("ana", "s3cret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if role != RoleSupervisor {
		t.Fatalf("expected supervisor, got %s", role)
	}
	claims, err := tokens.ParseToken(token)
	if err != nil || claims.OperatorID != "ana" || claims.Role != RoleSupervisor {
		t.Fatalf("unexpected claims: %+v %v", claims, err)
	}

	if _, _, role, err := ops.Login("luis", "s3cret"); err != nil || role != RoleOperator {
		t.Fatalf("expected operator login, got %s %v", role, err)
	}
	if _, _, _, err := ops.Login("ana", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: %v", err)
	}
	if _, _, _, err := ops.Login("nobody", "s3cret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown operator: %v", err)
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	token, _, err := NewTokenManager("one", 5).GenerateToken("ana", RoleOperator)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := NewTokenManager("two", 5).ParseToken(token); err == nil {
		t.Fatalf("expected signature failure")
	}
}

func TestHashPasswordFallsBackToDefaultCost(t *testing.T) {
	if _, err := HashPassword("", bcrypt.MinCost); !errors.Is(err, ErrEmptyPassword) {
		t.Fatalf("expected ErrEmptyPassword, got %v", err)
	}
	hash, err := HashPassword("s3cret", 99)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil || cost != bcrypt.DefaultCost {
		t.Fatalf("expected default cost, got %d (%v)", cost, err)
	}
	entry, err := OperatorEntry(" ana ", hash)
	if err != nil || entry != "ana:"+hash {
		t.Fatalf("unexpected entry %q (%v)", entry, err)
	}
}
