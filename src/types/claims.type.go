package types

import "github.com/golang-jwt/jwt/v4"

type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

const ROLE_ADMIN = "admin"
