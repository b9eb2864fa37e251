package model

type AdminUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}
