package models

import "github.com/golang-jwt/jwt/v5"

// ServiceClaims identify a calling service on the protected API surface.
type ServiceClaims struct {
	ServiceName string `json:"service"`
	jwt.RegisteredClaims
}
