package store

// Repository is the durable message/room store the event core depends on.
// The core only ever touches the catalog, membership and persistence
// operations; the account operations exist for the HTTP surface.
type Repository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)
	CreateRoom(params CreateRoomParams) (Room, error)
	DeleteRoom(id int) error
	GetRoomByExternalId(externalId string) (Room, error)
	GetMembersByRoomId(roomId int) ([]User, error)
	CreateMembership(accountId, roomId int) (Membership, error)
	MembershipExists(accountId, roomId int) bool
	ListMemberships(accountId int) ([]Membership, error)
	DeleteMembership(accountId, roomId int) error
	UpdateLastReadSeqId(accountId, roomId, seqId int) error
	PersistMessage(msg Message) error
	GetMessages(roomId, since, before, limit int) ([]Message, error)
}
