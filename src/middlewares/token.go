package middlewares

import (
	"crypto/subtle"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

const ProviderSecretHeader = "x-provider-secret"

// VerifyProviderSecret guards callbacks from the reservation provider.
func VerifyProviderSecret(secret string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		got := ctx.GetHeader(ProviderSecretHeader)
		if secret == "" || got == "" {
			err := errors.New("missing provider secret")
			log.Printf("Check failed: %s\n", err.Error())
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			log.Println("Check failed: provider secret mismatch")
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid provider secret"})
			return
		}
		ctx.Next()
	}
}

func SecureHeaders(ctx *gin.Context) {
	h := ctx.Writer.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
	ctx.Next()
}
