package models

import "time"

// Channel is an independently keyed one-time code mechanism.
type Channel string

const (
	ChannelLogin Channel = "login"
	ChannelReset Channel = "reset"
)

// OneTimeCode is the single live code for a user on one channel.
type OneTimeCode struct {
	UserID    string
	Code      string
	ExpiresAt time.Time
}
