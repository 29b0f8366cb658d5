package utils

import (
	"os"
	"strings"
	"thruster/src/config"
	"thruster/src/types"

	"github.com/gin-gonic/gin"
)

func IsProd() bool {
	if c := config.Get(); c != nil {
		return c.Env == string(types.Production)
	}
	return os.Getenv("API_ENV") == string(types.Production)
}

// WithSuffix appends the environment to a resource name outside production,
// e.g. "PaymentEvents" becomes "PaymentEvents_staging".
func WithSuffix(name string) string {
	if IsProd() {
		return name
	}
	env := os.Getenv("API_ENV")
	if c := config.Get(); c != nil {
		env = c.Env
	}
	if env == "" {
		return name
	}
	return name + "_" + strings.ToLower(env)
}

// GetUID returns the authenticated subject set by the auth middleware.
func GetUID(ctx *gin.Context) (string, bool) {
	uid := ctx.GetString("uid")
	return uid, uid != ""
}

func IsAdmin(ctx *gin.Context) bool {
	return ctx.GetString("role") == types.ROLE_ADMIN
}
