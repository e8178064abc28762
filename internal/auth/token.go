package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidCredentials = errors.New("invalid API credentials")
	ErrTokenGeneration    = errors.New("failed to generate token")
	ErrInvalidToken       = errors.New("invalid token")
)

// Roles carried in token claims.
const (
	RoleOperator = "operator"
	RoleAccount  = "account"
)

// Credentials are the API authentication credentials exchanged for a token.
type Credentials struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// TokenResponse is the issued JWT with its expiration.
type TokenResponse struct {
	Token      string    `json:"jwt_token"`
	Expiration time.Time `json:"expiration"`
}

// Claims is the JWT claims structure. AccountID identifies the acting
// account; Role distinguishes the operator from regular accounts.
type Claims struct {
	jwt.RegisteredClaims
	AccountID string `json:"account_id"`
	Role      string `json:"role"`
}

type registeredCredential struct {
	secret  string
	account uuid.UUID
	role    string
}

// TokenService issues and validates JWTs for API callers.
type TokenService struct {
	jwtSecret   []byte
	tokenTTL    time.Duration
	credentials map[string]registeredCredential // keyed by API key
}

func NewTokenService(jwtSecret string, tokenTTL time.Duration) *TokenService {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &TokenService{
		jwtSecret:   []byte(jwtSecret),
		tokenTTL:    tokenTTL,
		credentials: make(map[string]registeredCredential),
	}
}

// RegisterCredentials binds an API key pair to an account identity and role.
// Registration happens at startup from configuration.
func (s *TokenService) RegisterCredentials(apiKey, apiSecret string, account uuid.UUID, role string) {
	s.credentials[apiKey] = registeredCredential{
		secret:  apiSecret,
		account: account,
		role:    role,
	}
}

// GenerateToken exchanges valid credentials for a signed JWT.
func (s *TokenService) GenerateToken(creds Credentials) (*TokenResponse, error) {
	reg, ok := s.credentials[creds.APIKey]
	if !ok || reg.secret != creds.APISecret {
		return nil, ErrInvalidCredentials
	}

	expiration := time.Now().Add(s.tokenTTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiration),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
		AccountID: reg.account.String(),
		Role:      reg.role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, ErrTokenGeneration
	}

	return &TokenResponse{
		Token:      tokenString,
		Expiration: expiration,
	}, nil
}

// ValidateToken verifies signature and expiration and returns the claims.
func (s *TokenService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// AccountUUID parses the claims' account identity.
func (c *Claims) AccountUUID() (uuid.UUID, error) {
	return uuid.Parse(c.AccountID)
}
