package middlewares

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"thruster/src/config"
	"thruster/src/types"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
)

func jwtKey() []byte {
	if c := config.Get(); c != nil {
		return []byte(c.JWTSecret)
	}
	return nil
}

func AuthMiddleware(ctx *gin.Context) {
	bearerToken := ctx.Request.Header.Get("Authorization")
	if !strings.HasPrefix(bearerToken, "Bearer ") {
		ctx.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	reqToken := strings.TrimSpace(strings.TrimPrefix(bearerToken, "Bearer "))
	if reqToken == "" {
		ctx.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	key := jwtKey()
	if len(key) == 0 {
		log.Println("JWT_SECRET is not configured")
		ctx.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	claims := &types.Claims{}
	tkn, err := jwt.ParseWithClaims(reqToken, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return key, nil
	})
	if err != nil {
		log.Printf("token error: %s\n", err.Error())
		ctx.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	if !tkn.Valid || claims.Subject == "" {
		ctx.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	ctx.Set("uid", claims.Subject)
	ctx.Set("username", claims.Username)
	ctx.Set("role", claims.Role)
}

// RequireRole must run after AuthMiddleware.
func RequireRole(role string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if ctx.GetString("role") != role {
			ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		ctx.Next()
	}
}
