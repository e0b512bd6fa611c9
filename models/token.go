package models

import "github.com/golang-jwt/jwt/v5"

// TokenClaims are the custom JWT claims carried by access tokens.
type TokenClaims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}
