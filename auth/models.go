package auth

import "freightflow/domain"

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email       string      `json:"email"`
	Password    string      `json:"password"`
	FullName    string      `json:"fullName"`
	Role        domain.Role `json:"role"`
	Phone       *string     `json:"phone,omitempty"`
	CompanyName *string     `json:"companyName,omitempty"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResult bundles the token and domain user returned after a successful login.
type LoginResult struct {
	Token     string
	ExpiresAt int64
	User      domain.User
}
