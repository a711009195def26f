// Package session validates the session tokens minted by the external
// identity layer. The token is this service's only source of voter identity
// and demographic claims; everything in it is treated as already verified
// upstream (document scan, biometric liveness) and already bucketed.
package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"veilvote/internal/platform/middleware"
	dErrors "veilvote/pkg/domain-errors"
)

// Claims is the JWT claim set issued by the identity layer.
type Claims struct {
	SessionID string `json:"session_id"`
	Region    string `json:"region"`
	AgeBucket string `json:"age_bucket"`
	Gender    string `json:"gender"`
	jwt.RegisteredClaims
}

// JWTService handles session token creation and validation.
type JWTService struct {
	signingKey []byte
	issuer     string
	audience   string
}

func NewJWTService(signingKey, issuer, audience string) *JWTService {
	return &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
	}
}

// GenerateSessionToken mints a session token. In production the identity
// layer does this; the engine only needs it for tests and local dev.
func (s *JWTService) GenerateSessionToken(voterSub, region, ageBucket, gender string, expiresIn time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		SessionID: uuid.NewString(),
		Region:    region,
		AgeBucket: ageBucket,
		Gender:    gender,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   voterSub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(s.signingKey)
}

// ValidateToken implements middleware.SessionValidator.
func (s *JWTService) ValidateToken(tokenString string) (*middleware.VoterClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return &middleware.VoterClaims{
		Sub:       claims.Subject,
		SessionID: claims.SessionID,
		Region:    claims.Region,
		AgeBucket: claims.AgeBucket,
		Gender:    claims.Gender,
	}, nil
}
