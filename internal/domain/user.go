package domain

import "time"

// User represents a local account. Accounts created through OAuth federation
// receive a hash of a random high-entropy secret, so password login stays
// impossible until a password is set through a dedicated flow.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
