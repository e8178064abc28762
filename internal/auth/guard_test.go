package auth_test

import (
	"errors"
	"testing"
	"time"

	"EscrowSettle/internal/auth"

	"github.com/google/uuid"
)

// ============================================================================
// Test: Guard
// ============================================================================

func TestGuard_RequireOperator(t *testing.T) {
	operator := uuid.New()
	g, err := auth.NewGuard(operator)
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}

	if err := g.Require(operator); err != nil {
		t.Errorf("operator rejected: %v", err)
	}
	if err := g.Require(uuid.New()); !errors.Is(err, auth.ErrUnauthorized) {
		t.Errorf("non-operator: got %v, want ErrUnauthorized", err)
	}
}

func TestGuard_RejectsZeroOperator(t *testing.T) {
	if _, err := auth.NewGuard(uuid.Nil); !errors.Is(err, auth.ErrZeroOperator) {
		t.Errorf("got %v, want ErrZeroOperator", err)
	}
}

func TestGuard_TransferTakesEffectImmediately(t *testing.T) {
	oldOp := uuid.New()
	newOp := uuid.New()
	g, _ := auth.NewGuard(oldOp)

	if err := g.Transfer(oldOp, newOp); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if err := g.Require(oldOp); !errors.Is(err, auth.ErrUnauthorized) {
		t.Errorf("old operator after transfer: got %v, want ErrUnauthorized", err)
	}
	if err := g.Require(newOp); err != nil {
		t.Errorf("new operator after transfer: %v", err)
	}
	if g.Operator() != newOp {
		t.Errorf("operator: got %s, want %s", g.Operator(), newOp)
	}
}

func TestGuard_TransferAuthorization(t *testing.T) {
	operator := uuid.New()
	g, _ := auth.NewGuard(operator)

	if err := g.Transfer(uuid.New(), uuid.New()); !errors.Is(err, auth.ErrUnauthorized) {
		t.Errorf("non-operator transfer: got %v, want ErrUnauthorized", err)
	}
	if err := g.Transfer(operator, uuid.Nil); !errors.Is(err, auth.ErrZeroOperator) {
		t.Errorf("transfer to zero: got %v, want ErrZeroOperator", err)
	}
	if g.Operator() != operator {
		t.Error("failed transfers must not change the operator")
	}
}

// ============================================================================
// Test: TokenService
// ============================================================================

func TestTokenService_RoundTrip(t *testing.T) {
	svc := auth.NewTokenService("test-secret", time.Hour)
	account := uuid.New()
	svc.RegisterCredentials("key-1", "secret-1", account, auth.RoleOperator)

	resp, err := svc.GenerateToken(auth.Credentials{APIKey: "key-1", APISecret: "secret-1"})
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	claims, err := svc.ValidateToken(resp.Token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if claims.Role != auth.RoleOperator {
		t.Errorf("role: got %q, want %q", claims.Role, auth.RoleOperator)
	}
	got, err := claims.AccountUUID()
	if err != nil || got != account {
		t.Errorf("account: got %s (%v), want %s", got, err, account)
	}
}

func TestTokenService_RejectsBadCredentials(t *testing.T) {
	svc := auth.NewTokenService("test-secret", time.Hour)
	svc.RegisterCredentials("key-1", "secret-1", uuid.New(), auth.RoleAccount)

	cases := []auth.Credentials{
		{APIKey: "key-1", APISecret: "wrong"},
		{APIKey: "unknown", APISecret: "secret-1"},
		{},
	}
	for _, creds := range cases {
		if _, err := svc.GenerateToken(creds); !errors.Is(err, auth.ErrInvalidCredentials) {
			t.Errorf("creds %+v: got %v, want ErrInvalidCredentials", creds, err)
		}
	}
}

func TestTokenService_RejectsForeignToken(t *testing.T) {
	issuer := auth.NewTokenService("secret-a", time.Hour)
	verifier := auth.NewTokenService("secret-b", time.Hour)
	issuer.RegisterCredentials("key-1", "secret-1", uuid.New(), auth.RoleAccount)

	resp, err := issuer.GenerateToken(auth.Credentials{APIKey: "key-1", APISecret: "secret-1"})
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	if _, err := verifier.ValidateToken(resp.Token); err == nil {
		t.Error("token signed with another secret should fail validation")
	}
}
