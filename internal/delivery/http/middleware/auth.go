package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Claims - клеймы access-токена. Subject содержит ID участника, токены выпускает внешний auth-сервис.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

const accessTokenParam = "access_token"

type errorBody struct {
	Message string `json:"message"`
}

// JWTAuth проверяет Bearer-токен и кладет участника в контекст gin.
func JWTAuth(secretKey []byte, logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("JWTAuth")
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return secretKey, nil
		})
		if err != nil {
			log.Warn("JWT validation failed", zap.Error(err))
			switch {
			case errors.Is(err, jwt.ErrTokenExpired):
				c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Message: "Token has expired"})
			case errors.Is(err, jwt.ErrTokenMalformed):
				c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Message: "Token is malformed"})
			case errors.Is(err, jwt.ErrTokenSignatureInvalid):
				c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Message: "Token signature is invalid"})
			default:
				c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Message: "Token validation failed"})
			}
			return
		}
		if !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Message: "Token is invalid"})
			return
		}

		participantID, err := uuid.Parse(claims.Subject)
		if err != nil || participantID == uuid.Nil {
			log.Warn("Token subject is not a participant id", zap.String("sub", claims.Subject))
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Message: "Invalid token: subject missing"})
			return
		}

		c.Set(participantIDKey, participantID)
		c.Set(participantNameKey, claims.Name)
		c.Next()
	}
}

// bearerToken берет токен из заголовка Authorization.
// Браузер не умеет ставить заголовки на websocket-рукопожатие, поэтому допускается ?access_token=.
func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if token := c.Query(accessTokenParam); token != "" {
			return token, true
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Message: "Authorization header missing"})
		return "", false
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Message: "Invalid Authorization header format"})
		return "", false
	}
	return parts[1], true
}

// IssueToken подписывает токен участника. Используется в тестах и локальной отладке.
func IssueToken(participantID uuid.UUID, name string, secretKey []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   participantID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT: %w", err)
	}
	return signed, nil
}
