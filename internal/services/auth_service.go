package services

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/authorizerdev/authorizer-go"
	"github.com/golang-jwt/jwt/v5"
	"github.com/mindmesh/mindmesh/internal/config"
	"github.com/mindmesh/mindmesh/internal/utils"
)

var (
	authClient *authorizer.AuthorizerClient
	authOnce   sync.Once
)

// IsAuthorizerInitialized returns true if the Authorizer client is initialized
func IsAuthorizerInitialized() bool {
	return authClient != nil
}

// InitAuthorizer initializes the Authorizer client (singleton pattern)
func InitAuthorizer(cfg *config.Config, requestProtocol, requestHost string) error {
	var initErr error

	authOnce.Do(func() {
		// Ping the Authorizer service first
		if err := utils.PingAuthorizer(cfg.AuthzURL); err != nil {
			initErr = fmt.Errorf("authorizer ping failed: %w", err)
			return
		}

		redirectURL := fmt.Sprintf("%s://%s", requestProtocol, requestHost)
		log.Printf("Initializing Authorizer: authorizerURL=%s, clientID=%s, redirectURL=%s",
			cfg.AuthzURL, cfg.AuthzClientID, redirectURL)

		var err error
		authClient, err = authorizer.NewAuthorizerClient(cfg.AuthzClientID, cfg.AuthzURL, redirectURL, nil)
		if err != nil {
			initErr = fmt.Errorf("failed to create authorizer client: %w", err)
			return
		}
	})

	return initErr
}

// ValidateSession validates a session cookie for the given roles
func ValidateSession(cookie string, roles []string) (map[string]interface{}, error) {
	if authClient == nil {
		return nil, fmt.Errorf("authorizer client not initialized")
	}

	// Convert roles to []*string
	rolesPtrs := make([]*string, len(roles))
	for i := range roles {
		rolesPtrs[i] = &roles[i]
	}

	// Validate session using the authorizer-go SDK
	res, err := authClient.ValidateSession(&authorizer.ValidateSessionInput{
		Cookie: cookie,
		Roles:  rolesPtrs,
	})
	if err != nil {
		return nil, fmt.Errorf("session validation failed: %w", err)
	}

	// Check if session is valid
	if res == nil || !res.IsValid {
		return nil, fmt.Errorf("session is not valid")
	}

	// Return user data
	return map[string]interface{}{
		"is_valid": res.IsValid,
		"user":     res.User,
	}, nil
}

// GuestClaims is the token payload issued to anonymous room participants.
// Guests never touch the Authorizer service; their whole identity is the
// profile row created at join time.
type GuestClaims struct {
	DisplayName string `json:"display_name"`
	MapID       string `json:"map_id"`
	jwt.RegisteredClaims
}

// IssueGuestToken signs a short-lived HS256 token for an anonymous profile,
// scoped to the map it was minted for.
func IssueGuestToken(cfg *config.Config, profileID, displayName, mapID string) (string, error) {
	now := time.Now()
	claims := GuestClaims{
		DisplayName: displayName,
		MapID:       mapID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   profileID,
			Issuer:    "mindmesh",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(cfg.GuestTokenTTLHours) * time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.GuestJWTSecret))
}

// ParseGuestToken validates a guest bearer token and returns its claims.
func ParseGuestToken(cfg *config.Config, tokenString string) (*GuestClaims, error) {
	claims := &GuestClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(cfg.GuestJWTSecret), nil
	}, jwt.WithIssuer("mindmesh"), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("guest token invalid: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("guest token invalid")
	}
	return claims, nil
}
