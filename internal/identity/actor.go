// Package identity describes the authenticated caller of an operation.
package identity

import (
	"errors"
	"strings"
)

type Role string

const (
	RoleOrganizer Role = "organizer"
	RoleProvider  Role = "provider"
	RoleAdmin     Role = "admin"
	RoleSystem    Role = "system"
)

var ErrInvalidRole = errors.New("invalid_role")

// Actor is the subject performing an action. Ref is the opaque identity
// issued by the auth collaborator.
type Actor struct {
	Ref  string `json:"ref"`
	Role Role   `json:"role"`
}

// System returns the actor used for background work such as the retry sweep.
func System(component string) Actor {
	component = strings.TrimSpace(component)
	if component == "" {
		component = "system"
	}
	return Actor{Ref: component, Role: RoleSystem}
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

func (a Actor) Valid() bool {
	if strings.TrimSpace(a.Ref) == "" {
		return false
	}
	_, err := ParseRole(string(a.Role))
	return err == nil
}

func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleOrganizer:
		return RoleOrganizer, nil
	case RoleProvider:
		return RoleProvider, nil
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleSystem:
		return RoleSystem, nil
	default:
		return "", ErrInvalidRole
	}
}
