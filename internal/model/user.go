package model

import "time"

// OnlineStatus is a user's or participant's connection state.
type OnlineStatus int

// Values match the numeric codes clients already understand.
const (
	Offline OnlineStatus = 0
	Online  OnlineStatus = 10
)

func (s OnlineStatus) String() string {
	if s == Online {
		return "online"
	}
	return "offline"
}

// StartingCoins is the balance shown to every user.
const StartingCoins = 2500

// User is a registered account.
type User struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Email        string       `json:"email"`
	PasswordHash string       `json:"-"`
	Picture      string       `json:"picture,omitempty"`
	Status       OnlineStatus `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
}

// UserInfo is the public view of a user sent to clients. The token doubles as
// the user id.
type UserInfo struct {
	ID      string `json:"token"`
	Name    string `json:"name,omitempty"`
	Coin    int    `json:"coin"`
	Picture string `json:"picture,omitempty"`
}

// Info returns the client-facing view of u.
func (u *User) Info() UserInfo {
	return UserInfo{
		ID:      u.ID,
		Name:    u.Name,
		Coin:    StartingCoins,
		Picture: u.Picture,
	}
}
