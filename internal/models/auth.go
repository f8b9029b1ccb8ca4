package models

import "github.com/golang-jwt/jwt/v5"

// Roles recognised by the administrative security surface
const (
	RoleAdmin   = "admin"
	RoleTrainer = "trainer"
	RoleClient  = "client"
)

// TokenClaims are the JWT claims the host application issues
type TokenClaims struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}
