package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

type Role string

const (
	RoleIndividual Role = "individual"
	RoleBusiness   Role = "business"
	RoleAgent      Role = "agent"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleIndividual, RoleBusiness, RoleAgent:
		return true
	default:
		return false
	}
}

// Shipper reports whether the role posts freight requests.
func (r Role) Shipper() bool {
	return r == RoleIndividual || r == RoleBusiness
}

// User is the domain representation of a marketplace account.
// It carries no JSON annotations so presentation layers define their own shapes.
type User struct {
	ID           string
	Email        string
	FullName     string
	Phone        *string
	CompanyName  *string
	Role         Role
	Verified     bool
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (u User) Validate() error {
	if u.ID == "" {
		return fmt.Errorf("%w: user id required", ErrValidation)
	}
	if _, err := mail.ParseAddress(u.Email); err != nil || strings.ContainsAny(u.Email, " <>") {
		return fmt.Errorf("%w: invalid email %q", ErrValidation, u.Email)
	}
	if strings.TrimSpace(u.FullName) == "" {
		return fmt.Errorf("%w: full name required", ErrValidation)
	}
	if !u.Role.Valid() {
		return fmt.Errorf("%w: invalid role %q", ErrValidation, u.Role)
	}
	if u.PasswordHash == "" {
		return fmt.Errorf("%w: password hash required", ErrValidation)
	}
	return nil
}
