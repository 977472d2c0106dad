package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenIssuerIssuesSessionTokens(t *testing.T) {
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		TokenTTL:      30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	tokenString, expiresIn, err := issuer.Issue(context.Background(), "user-123", "user@example.com")
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if expiresIn != int64((30 * time.Minute).Seconds()) {
		t.Fatalf("unexpected expiry seconds %d", expiresIn)
	}

	claims := &SessionClaims{}
	_, err = jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("super-secret"), nil
	})
	if err != nil {
		t.Fatalf("failed to parse generated token: %v", err)
	}
	if claims.Subject != "user-123" || claims.UserID != "user-123" {
		t.Fatalf("unexpected subject %s / user id %s", claims.Subject, claims.UserID)
	}
	if claims.Issuer != defaultSessionIssuer {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
	if claims.UserEmail != "user@example.com" {
		t.Fatalf("unexpected email %s", claims.UserEmail)
	}
}

func TestTokenIssuerRoundTripsThroughValidator(t *testing.T) {
	secret := []byte("another-secret")
	issuer, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: secret, TokenTTL: 15 * time.Minute})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	validator, err := NewSessionValidator(SessionValidatorConfig{SigningSecret: secret})
	if err != nil {
		t.Fatalf("unexpected validator error: %v", err)
	}

	tokenString, _, err := issuer.Issue(context.Background(), "user-321", "")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}
	claims, err := validator.ValidateToken(tokenString)
	if err != nil {
		t.Fatalf("expected validation success: %v", err)
	}
	if claims.UserID != "user-321" {
		t.Fatalf("unexpected user id %s", claims.UserID)
	}
}

func TestTokenIssuerRejectsInvalidInput(t *testing.T) {
	if _, err := NewTokenIssuer(TokenIssuerConfig{}); err == nil {
		t.Fatalf("expected constructor error for missing secret")
	}

	issuer, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("secret")})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if _, _, err := issuer.Issue(context.Background(), "  ", ""); err == nil {
		t.Fatalf("expected error for missing user id")
	}
}
