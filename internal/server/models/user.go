package models

import "time"

// Role is the flat role enum carried in session tokens.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleDoctor  Role = "DOCTOR"
	RoleNurse   Role = "NURSE"
	RolePatient Role = "PATIENT"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleDoctor, RoleNurse, RolePatient:
		return true
	}
	return false
}

// User is a persisted identity. Name and Diagnosis hold FieldCipher
// ciphertext; Email is plaintext because it is the lookup key.
type User struct {
	ID                string
	Email             string
	Name              string
	Diagnosis         *string
	PasswordHash      string
	PasswordUpdatedAt *time.Time
	Role              Role
	CreatedAt         time.Time
}

// Profile is the decrypted view of a user returned to callers.
type Profile struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Diagnosis string `json:"diagnosis,omitempty"`
	Role      Role   `json:"role"`
}
