package security

import (
	"errors"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/golang-jwt/jwt/v5"
)

var (
	TokenAuth *jwtauth.JWTAuth
	tokenExp  = 72 * time.Hour
)

func InitJWT(key []byte, exp time.Duration) {
	TokenAuth = jwtauth.New("HS256", key, nil)
	if exp > 0 {
		tokenExp = exp
	}
}

// GenerateToken issues a token for a user or a judge. subjectID is stored in the
// user_id claim for both.
func GenerateToken(subjectID, role string) (string, error) {
	if TokenAuth == nil {
		return "", errors.New("jwt is not initialized")
	}
	claims := map[string]interface{}{
		"user_id": subjectID,
		"role":    role,
		"exp":     time.Now().Add(tokenExp).Unix(),
		"iat":     time.Now().Unix(),
	}
	_, tokenString, err := TokenAuth.Encode(claims)
	return tokenString, err
}

func GetUserIDFromClaims(claims jwt.MapClaims) (string, error) {
	id, ok := claims["user_id"].(string)
	if !ok {
		return "", errors.New("user_id claim is missing or not a string")
	}
	return id, nil
}

func GetUserRoleFromClaims(claims jwt.MapClaims) (string, error) {
	role, ok := claims["role"].(string)
	if !ok {
		return "", errors.New("role claim is missing or not a string")
	}
	return role, nil
}
