// Package api implements HTTP handlers and helpers for the bus tracking service.
package api

import (
	"net/http"
	"strings"
)

type Principal struct {
	Operator string
	Role     string // admin, dispatcher, device, rider
	DeviceID string
}

// getPrincipal extracts operator and role from JWT or headers.
// - If Authorization: Bearer is present, uses configured verifier (dev/hmac/jwks).
// - Else falls back to headers for dev.
func (s *Server) getPrincipal(r *http.Request) Principal {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
		tok := strings.TrimSpace(authz[len("Bearer "):])
		if pr, err := s.Auth.Verify(tok); err == nil {
			return Principal{Operator: pr.Operator, Role: pr.Role, DeviceID: pr.DeviceID}
		}
	}
	operator := r.Header.Get("X-Operator-Id")
	role := r.Header.Get("X-Role")
	deviceID := r.Header.Get("X-Device-Id")
	if operator == "" {
		operator = "op_demo"
	}
	if role == "" {
		role = "admin"
	}
	return Principal{Operator: operator, Role: role, DeviceID: deviceID}
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == "admin" }

// CanIngest reports whether the principal may submit location observations.
func (p Principal) CanIngest() bool {
	return p.Role == "admin" || p.Role == "dispatcher" || p.Role == "device"
}
