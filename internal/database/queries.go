package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	roomColumns = "r.id, r.external_id, r.name, r.owner_id, r.ai_model, r.payment_model, r.max_participants, " +
		"r.persona_type, r.persona_name, r.persona_description, r.is_active, r.seq_id, r.created_at, r.updated_at"
	messageColumns = "m.id, m.seq_id, m.room_id, m.user_id, m.content, m.role, m.cost_cents, m.created_at, " +
		"a.username, a.email"
	participantColumns = "p.id, p.room_id, p.account_id, a.username, a.email, a.avatar_url, p.is_active, p.joined_at"

	upsertParticipantQuery = "INSERT INTO participants (room_id, account_id, is_active, joined_at) VALUES ($1, $2, true, $3) " +
		"ON CONFLICT (room_id, account_id) DO UPDATE SET is_active = true " +
		"RETURNING id, room_id, account_id, is_active, joined_at"
)

type scanner interface {
	Scan(dest ...any) error
}

func scanRoom(row scanner) (Room, error) {
	var (
		room        Room
		personaName sql.NullString
		personaDesc sql.NullString
	)
	err := row.Scan(
		&room.Id,
		&room.ExternalId,
		&room.Name,
		&room.OwnerId,
		&room.AiModel,
		&room.PaymentModel,
		&room.MaxParticipants,
		&room.PersonaType,
		&personaName,
		&personaDesc,
		&room.IsActive,
		&room.SeqId,
		&room.CreatedAt,
		&room.UpdatedAt,
	)
	room.PersonaName = personaName.String
	room.PersonaDescription = personaDesc.String

	return room, err
}

func scanMessage(row scanner) (Message, error) {
	var (
		msg      Message
		userId   sql.NullInt64
		username sql.NullString
		email    sql.NullString
	)
	err := row.Scan(
		&msg.Id,
		&msg.SeqId,
		&msg.RoomId,
		&userId,
		&msg.Content,
		&msg.Role,
		&msg.CostCents,
		&msg.CreatedAt,
		&username,
		&email,
	)
	if userId.Valid {
		id := int(userId.Int64)
		msg.UserId = &id
	}
	msg.Username = username.String
	msg.EmailAddress = email.String

	return msg, err
}

func scanParticipant(row scanner) (Participant, error) {
	var (
		p      Participant
		avatar sql.NullString
	)
	err := row.Scan(
		&p.Id,
		&p.RoomId,
		&p.AccountId,
		&p.Username,
		&p.EmailAddress,
		&avatar,
		&p.IsActive,
		&p.JoinedAt,
	)
	p.AvatarURL = avatar.String

	return p, err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (db *PgChatRepository) CreateAccount(ctx context.Context, accountParams CreateAccountParams) (User, error) {
	now := time.Now().UTC()
	res := db.conn.QueryRowContext(ctx,
		"INSERT INTO accounts (username, email, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id, username, email, created_at, updated_at",
		accountParams.Username,
		accountParams.EmailAddress,
		accountParams.PasswordHash,
		now,
		now,
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

func (db *PgChatRepository) UpdateAccount(ctx context.Context, accountParams UpdateAccountParams) (User, error) {
	res := db.conn.QueryRowContext(ctx,
		"UPDATE accounts SET username = $2, password_hash = $3, avatar_url = $4, updated_at = $5 "+
			"WHERE id = $1 RETURNING id, username, email, avatar_url, created_at, updated_at",
		accountParams.UserId,
		accountParams.Username,
		accountParams.PasswordHash,
		nullString(accountParams.AvatarURL),
		time.Now().UTC(),
	)

	var (
		u      User
		avatar sql.NullString
	)
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&avatar,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	u.AvatarURL = avatar.String

	return u, err
}

func (db *PgChatRepository) GetAccountById(ctx context.Context, id int) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, username, email, avatar_url, created_at, updated_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var (
		user   User
		avatar sql.NullString
	)
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&avatar,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	user.AvatarURL = avatar.String

	return user, err
}

func (db *PgChatRepository) GetAccountByEmail(ctx context.Context, email string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, username, email, password_hash, created_at, updated_at FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)
	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgChatRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Room{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	res := tx.QueryRowContext(ctx,
		"INSERT INTO rooms AS r (name, external_id, owner_id, ai_model, payment_model, max_participants, "+
			"persona_type, persona_name, persona_description, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10) RETURNING "+roomColumns,
		params.Name,
		params.ExternalId,
		params.OwnerId,
		params.AiModel,
		params.PaymentModel,
		params.MaxParticipants,
		params.PersonaType,
		nullString(params.PersonaName),
		nullString(params.PersonaDescription),
		now,
	)

	room, err := scanRoom(res)
	if err != nil {
		return Room{}, err
	}

	// the host is the first participant
	_, err = tx.ExecContext(ctx, upsertParticipantQuery, room.Id, params.OwnerId, now)
	if err != nil {
		return Room{}, err
	}

	if err = tx.Commit(); err != nil {
		return Room{}, err
	}

	return room, nil
}

func (db *PgChatRepository) GetRoomById(ctx context.Context, id int) (Room, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+roomColumns+" FROM rooms r WHERE r.id = $1 LIMIT 1",
		id,
	)

	return scanRoom(row)
}

func (db *PgChatRepository) GetRoomByExternalId(ctx context.Context, externalId string) (Room, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+roomColumns+" FROM rooms r WHERE r.external_id = $1 LIMIT 1",
		externalId,
	)

	return scanRoom(row)
}

// DeleteRoom removes the room; participants and messages cascade.
func (db *PgChatRepository) DeleteRoom(ctx context.Context, id int) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM rooms WHERE id = $1", id)
	return err
}

func (db *PgChatRepository) ListJoinedRooms(ctx context.Context, accountId int) ([]RoomSummary, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+roomColumns+", "+
			"(SELECT count(*) FROM participants p2 WHERE p2.room_id = r.id AND p2.is_active), "+
			"lm.id, lm.seq_id, lm.content, lm.role, lm.created_at "+
			"FROM participants p "+
			"JOIN rooms r ON r.id = p.room_id "+
			"LEFT JOIN LATERAL (SELECT id, seq_id, content, role, created_at FROM messages "+
			"WHERE room_id = r.id ORDER BY seq_id DESC LIMIT 1) lm ON true "+
			"WHERE p.account_id = $1 AND p.is_active "+
			"ORDER BY COALESCE(lm.created_at, r.updated_at) DESC",
		accountId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []RoomSummary
	for rows.Next() {
		var (
			s           RoomSummary
			personaName sql.NullString
			personaDesc sql.NullString
			msgId       sql.NullInt64
			msgSeq      sql.NullInt64
			msgContent  sql.NullString
			msgRole     sql.NullString
			msgCreated  sql.NullTime
		)
		err := rows.Scan(
			&s.Id,
			&s.ExternalId,
			&s.Name,
			&s.OwnerId,
			&s.AiModel,
			&s.PaymentModel,
			&s.MaxParticipants,
			&s.PersonaType,
			&personaName,
			&personaDesc,
			&s.IsActive,
			&s.SeqId,
			&s.CreatedAt,
			&s.UpdatedAt,
			&s.ParticipantCount,
			&msgId,
			&msgSeq,
			&msgContent,
			&msgRole,
			&msgCreated,
		)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		s.PersonaName = personaName.String
		s.PersonaDescription = personaDesc.String

		if msgId.Valid {
			s.LastMessage = &Message{
				Id:        int(msgId.Int64),
				SeqId:     int(msgSeq.Int64),
				RoomId:    s.Id,
				Content:   msgContent.String,
				Role:      msgRole.String,
				CreatedAt: msgCreated.Time,
			}
		}

		summaries = append(summaries, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return summaries, nil
}

// UpsertParticipant creates the participant or reactivates the existing
// record, so repeated entry leaves exactly one row per (room, account).
func (db *PgChatRepository) UpsertParticipant(ctx context.Context, roomId, accountId int) (Participant, error) {
	res := db.conn.QueryRowContext(ctx, upsertParticipantQuery, roomId, accountId, time.Now().UTC())

	var p Participant
	err := res.Scan(
		&p.Id,
		&p.RoomId,
		&p.AccountId,
		&p.IsActive,
		&p.JoinedAt,
	)

	return p, err
}

func (db *PgChatRepository) DeactivateParticipant(ctx context.Context, roomId, accountId int) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE participants SET is_active = false WHERE room_id = $1 AND account_id = $2",
		roomId,
		accountId,
	)

	return err
}

func (db *PgChatRepository) GetParticipant(ctx context.Context, participantId int) (Participant, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+participantColumns+" FROM participants p "+
			"JOIN accounts a ON a.id = p.account_id WHERE p.id = $1",
		participantId,
	)

	return scanParticipant(row)
}

func (db *PgChatRepository) ListActiveParticipants(ctx context.Context, roomId int) ([]Participant, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+participantColumns+" FROM participants p "+
			"JOIN accounts a ON a.id = p.account_id "+
			"WHERE p.room_id = $1 AND p.is_active ORDER BY p.joined_at",
		roomId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	participants := make([]Participant, 0)
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		participants = append(participants, p)
	}

	return participants, rows.Err()
}

func (db *PgChatRepository) CountActiveParticipants(ctx context.Context, roomId int) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		"SELECT count(*) FROM participants WHERE room_id = $1 AND is_active",
		roomId,
	).Scan(&count)

	return count, err
}

func (db *PgChatRepository) IsActiveParticipant(ctx context.Context, roomId, accountId int) (bool, error) {
	var active bool
	err := db.conn.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM participants WHERE room_id = $1 AND account_id = $2 AND is_active)",
		roomId,
		accountId,
	).Scan(&active)

	return active, err
}

// CreateMessage appends a message to the room. The sequence number and the
// timestamp are taken while holding the room row lock, so seq order and
// created_at order agree.
func (db *PgChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	row := db.conn.QueryRowContext(ctx, `
		WITH seq AS (
			UPDATE rooms SET seq_id = seq_id + 1, updated_at = clock_timestamp()
			WHERE id = $1
			RETURNING seq_id, updated_at
		)
		INSERT INTO messages (room_id, seq_id, user_id, content, role, cost_cents, created_at)
		SELECT $1, seq.seq_id, $2, $3, $4, $5, seq.updated_at FROM seq
		RETURNING id, seq_id, room_id, user_id, content, role, cost_cents, created_at`,
		params.RoomId,
		params.UserId,
		params.Content,
		params.Role,
		params.CostCents,
	)

	var (
		msg    Message
		userId sql.NullInt64
	)
	err := row.Scan(
		&msg.Id,
		&msg.SeqId,
		&msg.RoomId,
		&userId,
		&msg.Content,
		&msg.Role,
		&msg.CostCents,
		&msg.CreatedAt,
	)
	if userId.Valid {
		id := int(userId.Int64)
		msg.UserId = &id
	}

	return msg, err
}

func (db *PgChatRepository) GetMessageById(ctx context.Context, id int) (Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages m "+
			"LEFT JOIN accounts a ON a.id = m.user_id WHERE m.id = $1",
		id,
	)

	return scanMessage(row)
}

// GetMessages pages backwards through a room's history, newest first.
func (db *PgChatRepository) GetMessages(ctx context.Context, roomId, since, before, limit int) ([]Message, error) {
	var upper, lower int = 1<<31 - 1, 0
	if before > 0 {
		upper = before - 1
	}

	if since > 0 {
		lower = since + 1
	}

	if limit <= 0 {
		limit = 20
	}

	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages m "+
			"LEFT JOIN accounts a ON a.id = m.user_id "+
			"WHERE m.room_id = $1 AND m.seq_id BETWEEN $2 AND $3 ORDER BY m.seq_id DESC LIMIT $4",
		roomId,
		lower,
		upper,
		limit,
	)
	if err != nil {
		return nil, err
	}

	return collectMessages(rows, limit)
}

// ListMessagesAfter returns every message with a sequence number above
// afterSeq in ascending order.
func (db *PgChatRepository) ListMessagesAfter(ctx context.Context, roomId, afterSeq int) ([]Message, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages m "+
			"LEFT JOIN accounts a ON a.id = m.user_id "+
			"WHERE m.room_id = $1 AND m.seq_id > $2 ORDER BY m.seq_id ASC",
		roomId,
		afterSeq,
	)
	if err != nil {
		return nil, err
	}

	return collectMessages(rows, 0)
}

// GetRecentMessages returns the newest limit messages, oldest first.
func (db *PgChatRepository) GetRecentMessages(ctx context.Context, roomId, limit int) ([]Message, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT * FROM ("+
			"SELECT "+messageColumns+" FROM messages m "+
			"LEFT JOIN accounts a ON a.id = m.user_id "+
			"WHERE m.room_id = $1 ORDER BY m.seq_id DESC LIMIT $2"+
			") recent ORDER BY seq_id ASC",
		roomId,
		limit,
	)
	if err != nil {
		return nil, err
	}

	return collectMessages(rows, limit)
}

func collectMessages(rows *sql.Rows, sizeHint int) ([]Message, error) {
	defer rows.Close()

	messages := make([]Message, 0, sizeHint)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return messages, nil
}

func (db *PgChatRepository) GetPresetPersona(ctx context.Context, name string) (PresetPersona, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, name, description, system_prompt FROM preset_personas WHERE name = $1 LIMIT 1",
		name,
	)

	var p PresetPersona
	err := row.Scan(&p.Id, &p.Name, &p.Description, &p.SystemPrompt)

	return p, err
}

func (db *PgChatRepository) ListPresetPersonas(ctx context.Context) ([]PresetPersona, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, name, description, system_prompt FROM preset_personas ORDER BY name",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	personas := make([]PresetPersona, 0)
	for rows.Next() {
		var p PresetPersona
		if err := rows.Scan(&p.Id, &p.Name, &p.Description, &p.SystemPrompt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		personas = append(personas, p)
	}

	return personas, rows.Err()
}
