package store

import "time"

type Room struct {
	Id          int
	Name        string
	ExternalId  string
	Description string
	SeqId       int
	OwnerId     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Memberships []Membership
}

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Membership struct {
	Id            int
	AccountId     int
	Username      string
	RoomId        int
	LastReadSeqId int
	Room          Room
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Message struct {
	Id        int
	SeqId     int
	RoomId    int
	UserId    int
	Content   string
	CreatedAt time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateRoomParams struct {
	Name        string
	Description string
	OwnerId     int
	ExternalId  string
}
