package models

import "time"

type User struct {
	ID           string
	Email        string
	Name         string
	Role         string
	PasswordHash []byte
	CreatedAt    time.Time
}
