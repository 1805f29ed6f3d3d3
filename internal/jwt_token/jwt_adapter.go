package jwttoken

import (
	id "soulid/pkg/domain"
	authmw "soulid/pkg/platform/middleware/auth"
)

var _ authmw.CallerVerifier = (*JWTServiceAdapter)(nil)

// JWTServiceAdapter exposes JWTService to the auth middleware.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) VerifyCaller(tokenString string) (id.Address, error) {
	return a.service.ExtractCallerFromToken(tokenString)
}
