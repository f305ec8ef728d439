package auth

import (
	"strings"
	"testing"
	"time"

	"fieldsync-server/internal/model"
)

func testUser() model.UserRecord {
	return model.UserRecord{ID: 7, Login: "inspector"}
}

func TestCreateAndVerifyToken(t *testing.T) {
	cfg := DefaultTokenConfig("secret")
	token, err := CreateToken(testUser(), ".inspector.manager.", cfg)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	claims, err := VerifyToken(token, cfg)
	if err != nil {
		t.Fatalf("expected valid token, got %v", err)
	}
	if claims.UserID != 7 || claims.Login != "inspector" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.RoleClaims != ".inspector.manager." {
		t.Fatalf("unexpected role claims %q", claims.RoleClaims)
	}
	if claims.ID == "" {
		t.Fatalf("expected a token id")
	}
}

func TestCreateTokenRejectsBadInput(t *testing.T) {
	if _, err := CreateToken(testUser(), "", TokenConfig{Expiry: time.Hour}); err == nil {
		t.Fatalf("expected error for missing secret")
	}
	if _, err := CreateToken(model.UserRecord{}, "", DefaultTokenConfig("secret")); err == nil {
		t.Fatalf("expected error for missing user")
	}
	if _, err := CreateToken(testUser(), "", TokenConfig{Secret: "secret"}); err == nil {
		t.Fatalf("expected error for zero expiry")
	}
}

func TestVerifyTokenRejectsWrongSecret(t *testing.T) {
	token, err := CreateToken(testUser(), "", DefaultTokenConfig("secret"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := VerifyToken(token, DefaultTokenConfig("other")); err == nil {
		t.Fatalf("expected verification to fail")
	}
}

func TestVerifyTokenRejectsTampering(t *testing.T) {
	cfg := DefaultTokenConfig("secret")
	token, err := CreateToken(testUser(), "", cfg)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape %q", token)
	}
	// Flip a character in the payload segment.
	payload := []byte(parts[1])
	if payload[0] == 'A' {
		payload[0] = 'B'
	} else {
		payload[0] = 'A'
	}
	tampered := parts[0] + "." + string(payload) + "." + parts[2]

	if _, err := VerifyToken(tampered, cfg); err == nil {
		t.Fatalf("expected tampered token to fail")
	}
}

func TestVerifyTokenRejectsExpired(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: time.Millisecond, Issuer: "fieldsync-server"}
	token, err := CreateToken(testUser(), "", cfg)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := VerifyToken(token, cfg); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestClaimsPrincipal(t *testing.T) {
	claims := &Claims{UserID: 7, Login: "inspector", RoleClaims: ".inspector.manager."}
	p := claims.Principal()
	if !p.IsAuthorized {
		t.Fatalf("expected principal to be authorized")
	}
	if p.ID != 7 || p.Login != "inspector" {
		t.Fatalf("unexpected principal %+v", p)
	}
	if len(p.Claims) != 2 || p.Claims[0] != "inspector" || p.Claims[1] != "manager" {
		t.Fatalf("unexpected claims %v", p.Claims)
	}
}

func TestSplitClaims(t *testing.T) {
	if got := SplitClaims(""); got != nil {
		t.Fatalf("expected nil for empty claims, got %v", got)
	}
	if got := SplitClaims("."); got != nil {
		t.Fatalf("expected nil for dot-only claims, got %v", got)
	}
	got := SplitClaims(".admin.")
	if len(got) != 1 || got[0] != "admin" {
		t.Fatalf("unexpected claims %v", got)
	}
}
