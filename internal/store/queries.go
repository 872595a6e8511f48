package store

import (
	"time"
)

const createMembershipQuery = "INSERT INTO memberships (account_id, room_id, created_at, updated_at) " +
	"VALUES ($1, $2, $3, $4) RETURNING id, account_id, room_id"

func (db *PgRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, password_hash, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, username, email, created_at",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.CreatedAt,
	)

	return u, err
}

func (db *PgRepository) GetAccountById(accountId int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email FROM accounts WHERE id = $1 LIMIT 1",
		accountId,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
	)

	return user, err
}

func (db *PgRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash FROM accounts WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.PasswordHash,
	)

	return user, err
}

func (db *PgRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Room{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res := tx.QueryRow(
		"INSERT INTO rooms (name, external_id, description, owner_id, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, name, external_id, description, owner_id, created_at, updated_at",
		params.Name,
		params.ExternalId,
		params.Description,
		params.OwnerId,
		time.Now().UTC(),
		time.Now().UTC(),
	)

	var room Room
	err = res.Scan(
		&room.Id,
		&room.Name,
		&room.ExternalId,
		&room.Description,
		&room.OwnerId,
		&room.CreatedAt,
		&room.UpdatedAt,
	)
	if err != nil {
		return Room{}, err
	}

	// the owner is always a member of their own room
	_, err = tx.Exec(
		createMembershipQuery,
		params.OwnerId,
		room.Id,
		time.Now().UTC(),
		time.Now().UTC(),
	)
	if err != nil {
		return Room{}, err
	}

	if err = tx.Commit(); err != nil {
		return Room{}, err
	}

	return room, nil
}

func (db *PgRepository) DeleteRoom(id int) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec("DELETE FROM memberships WHERE room_id = $1", id)
	if err != nil {
		return err
	}

	_, err = tx.Exec("DELETE FROM messages WHERE room_id = $1", id)
	if err != nil {
		return err
	}

	_, err = tx.Exec("DELETE FROM rooms WHERE id = $1", id)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (db *PgRepository) GetRoomByExternalId(externalId string) (Room, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, name, description, seq_id, owner_id FROM rooms "+
			"WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	var room Room
	err := row.Scan(
		&room.Id,
		&room.ExternalId,
		&room.Name,
		&room.Description,
		&room.SeqId,
		&room.OwnerId,
	)

	return room, err
}

func (db *PgRepository) GetMembersByRoomId(roomId int) ([]User, error) {
	rows, err := db.conn.Query(
		"SELECT a.id, a.username FROM memberships AS m "+
			"JOIN accounts AS a ON m.account_id = a.id WHERE m.room_id = $1",
		roomId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members = make([]User, 0)
	for rows.Next() {
		var member User
		if err = rows.Scan(&member.Id, &member.Username); err != nil {
			break
		}

		members = append(members, member)
	}

	return members, err
}

func (db *PgRepository) CreateMembership(accountId, roomId int) (Membership, error) {
	res := db.conn.QueryRow(
		createMembershipQuery,
		accountId,
		roomId,
		time.Now().UTC(),
		time.Now().UTC(),
	)

	var m Membership
	err := res.Scan(
		&m.Id,
		&m.AccountId,
		&m.RoomId,
	)

	return m, err
}

func (db *PgRepository) MembershipExists(accountId, roomId int) bool {
	res := db.conn.QueryRow(
		"SELECT id FROM memberships WHERE account_id = $1 AND room_id = $2 LIMIT 1",
		accountId,
		roomId,
	)

	var id int
	return res.Scan(&id) == nil
}

func (db *PgRepository) ListMemberships(accountId int) ([]Membership, error) {
	rows, err := db.conn.Query(
		"SELECT m.id, m.last_read_seq_id, r.id, r.external_id, r.name, r.description, r.seq_id "+
			"FROM memberships m JOIN rooms r ON r.id = m.room_id WHERE m.account_id = $1",
		accountId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memberships []Membership
	for rows.Next() {
		var m Membership
		if err = rows.Scan(
			&m.Id,
			&m.LastReadSeqId,
			&m.Room.Id,
			&m.Room.ExternalId,
			&m.Room.Name,
			&m.Room.Description,
			&m.Room.SeqId,
		); err != nil {
			break
		}

		memberships = append(memberships, m)
	}

	return memberships, err
}

func (db *PgRepository) DeleteMembership(accountId, roomId int) error {
	_, err := db.conn.Exec(
		"DELETE FROM memberships WHERE account_id = $1 AND room_id = $2",
		accountId,
		roomId,
	)

	return err
}

func (db *PgRepository) UpdateLastReadSeqId(accountId, roomId, seqId int) error {
	_, err := db.conn.Exec(
		"UPDATE memberships SET last_read_seq_id = $3, updated_at = $4 "+
			"WHERE account_id = $1 AND room_id = $2 AND last_read_seq_id < $3",
		accountId,
		roomId,
		seqId,
		time.Now().UTC(),
	)

	return err
}

// PersistMessage records the message and advances the room's durable
// sequence watermark in a single transaction.
func (db *PgRepository) PersistMessage(msg Message) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec(
		"INSERT INTO messages (seq_id, room_id, user_id, content, created_at) "+
			"VALUES ($1, $2, $3, $4, $5)",
		msg.SeqId,
		msg.RoomId,
		msg.UserId,
		msg.Content,
		msg.CreatedAt,
	)
	if err != nil {
		return err
	}

	_, err = tx.Exec("UPDATE rooms SET seq_id = $1 WHERE id = $2", msg.SeqId, msg.RoomId)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (db *PgRepository) GetMessages(roomId, since, before, limit int) ([]Message, error) {
	var upper, lower int = 1<<31 - 1, 0
	if before > 0 {
		upper = before - 1
	}

	if since > 0 {
		lower = since
	}

	if limit <= 0 {
		limit = 20
	}

	rows, err := db.conn.Query(
		"SELECT id, seq_id, room_id, user_id, content, created_at FROM messages "+
			"WHERE room_id = $1 AND seq_id BETWEEN $2 AND $3 ORDER BY seq_id DESC LIMIT $4",
		roomId,
		lower,
		upper,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]Message, 0, limit)
	for rows.Next() {
		var msg Message
		if err = rows.Scan(&msg.Id, &msg.SeqId, &msg.RoomId, &msg.UserId, &msg.Content, &msg.CreatedAt); err != nil {
			break
		}

		messages = append(messages, msg)
	}

	return messages, err
}
