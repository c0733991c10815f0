package services_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mindmesh/mindmesh/internal/config"
	"github.com/mindmesh/mindmesh/internal/services"
)

func guestTokenConfig() *config.Config {
	return &config.Config{
		GuestJWTSecret:     "test-secret",
		GuestTokenTTLHours: 1,
	}
}

func TestGuestTokenRoundTrip(t *testing.T) {
	cfg := guestTokenConfig()
	token, err := services.IssueGuestToken(cfg, "profile-1", "Ada", "map-1")
	if err != nil {
		t.Fatal(err)
	}

	claims, err := services.ParseGuestToken(cfg, token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != "profile-1" {
		t.Fatalf("subject = %q", claims.Subject)
	}
	if claims.DisplayName != "Ada" || claims.MapID != "map-1" {
		t.Fatalf("claims = %+v", claims)
	}
	if claims.ExpiresAt == nil || !claims.ExpiresAt.After(time.Now()) {
		t.Fatalf("expiry = %v", claims.ExpiresAt)
	}
}

func TestGuestTokenRejectsWrongSecret(t *testing.T) {
	cfg := guestTokenConfig()
	token, err := services.IssueGuestToken(cfg, "profile-1", "Ada", "map-1")
	if err != nil {
		t.Fatal(err)
	}

	other := &config.Config{GuestJWTSecret: "different-secret", GuestTokenTTLHours: 1}
	if _, err := services.ParseGuestToken(other, token); err == nil {
		t.Fatal("token signed with another secret must not parse")
	}
}

func TestGuestTokenRejectsExpired(t *testing.T) {
	cfg := guestTokenConfig()
	claims := services.GuestClaims{
		DisplayName: "Ada",
		MapID:       "map-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "profile-1",
			Issuer:    "mindmesh",
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.GuestJWTSecret))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := services.ParseGuestToken(cfg, signed); err == nil {
		t.Fatal("expired token must not parse")
	}
}

func TestGuestTokenRejectsWrongIssuer(t *testing.T) {
	cfg := guestTokenConfig()
	claims := services.GuestClaims{
		MapID: "map-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "profile-1",
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.GuestJWTSecret))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := services.ParseGuestToken(cfg, signed); err == nil {
		t.Fatal("token from another issuer must not parse")
	}
}

func TestGuestTokenRejectsMissingExpiry(t *testing.T) {
	cfg := guestTokenConfig()
	claims := services.GuestClaims{
		MapID: "map-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: "profile-1",
			Issuer:  "mindmesh",
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.GuestJWTSecret))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := services.ParseGuestToken(cfg, signed); err == nil {
		t.Fatal("token without expiry must not parse")
	}
}
