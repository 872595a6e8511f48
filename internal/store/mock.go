package store

import (
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}

func (m *MockRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}

func (m *MockRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}

func (m *MockRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}

func (m *MockRepository) DeleteRoom(id int) error {
	args := m.Called(id)
	return args.Error(0)
}

func (m *MockRepository) GetRoomByExternalId(externalId string) (Room, error) {
	args := m.Called(externalId)
	return args.Get(0).(Room), args.Error(1)
}

func (m *MockRepository) GetMembersByRoomId(roomId int) ([]User, error) {
	args := m.Called(roomId)
	return args.Get(0).([]User), args.Error(1)
}

func (m *MockRepository) CreateMembership(accountId, roomId int) (Membership, error) {
	args := m.Called(accountId, roomId)
	return args.Get(0).(Membership), args.Error(1)
}

func (m *MockRepository) MembershipExists(accountId, roomId int) bool {
	args := m.Called(accountId, roomId)
	return args.Bool(0)
}

func (m *MockRepository) ListMemberships(accountId int) ([]Membership, error) {
	args := m.Called(accountId)
	return args.Get(0).([]Membership), args.Error(1)
}

func (m *MockRepository) DeleteMembership(accountId, roomId int) error {
	args := m.Called(accountId, roomId)
	return args.Error(0)
}

func (m *MockRepository) UpdateLastReadSeqId(accountId, roomId, seqId int) error {
	args := m.Called(accountId, roomId, seqId)
	return args.Error(0)
}

func (m *MockRepository) PersistMessage(msg Message) error {
	args := m.Called(msg)
	return args.Error(0)
}

func (m *MockRepository) GetMessages(roomId, since, before, limit int) ([]Message, error) {
	args := m.Called(roomId, since, before, limit)
	return args.Get(0).([]Message), args.Error(1)
}
