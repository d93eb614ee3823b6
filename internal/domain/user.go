package domain

// LoginRequest carries the credentials used by register and login.
type LoginRequest struct {
	User     string `json:"user" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Authentication is the bearer credential presented on authenticated calls.
type Authentication struct {
	User  string `json:"user"`
	Token string `json:"token"`
}
