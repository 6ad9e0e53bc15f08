package auth

import "time"

type User struct {
	ID             string
	Username       string
	Email          string
	HashedPassword string
	IsActive       bool
	IsSuperuser    bool
	TokenVersion   int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type NewUser struct {
	Username       string
	Email          string
	HashedPassword string
	IsActive       bool
	IsSuperuser    bool
}

type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type LoginResult struct {
	User      User
	Token     Token
	ExpiresAt time.Time
}

type UserResponse struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	IsActive    bool      `json:"is_active"`
	IsSuperuser bool      `json:"is_superuser"`
	CreatedAt   time.Time `json:"created_at"`
}

func (u User) Response() UserResponse {
	return UserResponse{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		IsActive:    u.IsActive,
		IsSuperuser: u.IsSuperuser,
		CreatedAt:   u.CreatedAt,
	}
}
