package auth

// AuthorizedUser is the identity carried by the JWT claims of an authenticated frontend.
type AuthorizedUser struct {
	Username string `json:"username"`
}

// LoginRequest is the credentials payload of an authentication request.
type LoginRequest struct {
	Username string `form:"username" json:"username" binding:"required"`
	Password string `form:"password" json:"password" binding:"required"`
}
