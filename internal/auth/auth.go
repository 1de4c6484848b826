package auth

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tradewire/relay/pkg/response"
)

var (
	ErrInvalidCredentials = errors.New("invalid identity credentials")
	ErrTokenGeneration    = errors.New("failed to generate token")
)

// Credentials identify an upstream signal source (a TradingView alert,
// a strategy bot) allowed to post orders to the intake endpoint.
type Credentials struct {
	IdentityKey    string `json:"identity_key"`
	IdentitySecret string `json:"identity_secret"`
}

// TokenResponse carries an issued bearer token.
type TokenResponse struct {
	Token      string    `json:"jwt_token"`
	Expiration time.Time `json:"expiration"`
}

// Claims is the token payload: which identity is posting and what it
// may do.
type Claims struct {
	jwt.RegisteredClaims
	Identity    string   `json:"identity"`
	Permissions []string `json:"permissions"`
}

// Service issues and validates intake identity tokens.
type Service struct {
	jwtSecret   []byte
	credentials map[string]string // identity key -> secret
}

// NewService creates an authentication service signing with jwtSecret.
func NewService(jwtSecret string) *Service {
	return &Service{
		jwtSecret:   []byte(jwtSecret),
		credentials: make(map[string]string),
	}
}

// RegisterIdentity adds an identity allowed to request tokens.
func (s *Service) RegisterIdentity(key, secret string) {
	s.credentials[key] = secret
}

// GenerateToken exchanges valid credentials for a 24-hour bearer token.
func (s *Service) GenerateToken(creds Credentials) (*TokenResponse, error) {
	secret, exists := s.credentials[creds.IdentityKey]
	if !exists || secret != creds.IdentitySecret {
		return nil, ErrInvalidCredentials
	}

	expiration := time.Now().Add(24 * time.Hour)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiration),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
		Identity:    creds.IdentityKey,
		Permissions: []string{"order"},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, ErrTokenGeneration
	}

	return &TokenResponse{Token: tokenString, Expiration: expiration}, nil
}

// ValidateToken verifies signature and expiry and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// GinHandlers contains the HTTP handlers for authentication endpoints.
type GinHandlers struct {
	service *Service
}

// NewGinHandlers wraps the service for gin.
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// GenerateTokenHandler handles POST requests to issue tokens.
func (h *GinHandlers) GenerateTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var creds Credentials
		if err := c.ShouldBindJSON(&creds); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		token, err := h.service.GenerateToken(creds)
		if errors.Is(err, ErrInvalidCredentials) {
			response.Unauthorized(c, err.Error())
			return
		}
		response.Handle(c, token, err)
	}
}

// GetIdentity extracts the identity from validated JWT claims.
func GetIdentity(claims interface{}) string {
	if jwtClaims, ok := claims.(jwt.MapClaims); ok {
		if identity, ok := jwtClaims["identity"].(string); ok {
			return identity
		}
	}
	return ""
}
