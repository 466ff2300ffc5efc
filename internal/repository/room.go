package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dmchat/internal/logger"
	"github.com/dmchat/internal/model"
)

const roomColumns = `id, room_type, COALESCE(pair_key, ''), created_by, created_at`

func scanRoom(row pgx.Row) (*model.Room, error) {
	r := &model.Room{}
	if err := row.Scan(&r.ID, &r.Type, &r.PairKey, &r.CreatedBy, &r.CreatedAt); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (*model.Room, error) {
	defer logger.DeferLogDuration("room.GetRoom", time.Now())()
	r, err := scanRoom(s.db.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1`, roomID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("roomRepo.GetRoom: %w", err)
	}
	return r, nil
}

func (s *Store) CreateRoom(ctx context.Context, room *model.Room) error {
	defer logger.DeferLogDuration("room.CreateRoom", time.Now())()
	var pairKey *string
	if room.PairKey != "" {
		pairKey = &room.PairKey
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO rooms (id, room_type, pair_key, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		room.ID, room.Type, pairKey, room.CreatedBy, room.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.CreateRoom: %w", mapErr(err))
	}
	return nil
}

func (s *Store) FindDMRoomByPair(ctx context.Context, pairKey string) (*model.Room, error) {
	defer logger.DeferLogDuration("room.FindDMRoomByPair", time.Now())()
	r, err := scanRoom(s.db.QueryRow(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE room_type = 'DM' AND pair_key = $1`, pairKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("roomRepo.FindDMRoomByPair: %w", err)
	}
	return r, nil
}

func (s *Store) ListDMRoomsOf(ctx context.Context, userID string) ([]model.Room, error) {
	defer logger.DeferLogDuration("room.ListDMRoomsOf", time.Now())()
	rows, err := s.db.Query(ctx,
		`SELECT r.id, r.room_type, COALESCE(r.pair_key, ''), r.created_by, r.created_at
		 FROM rooms r
		 JOIN room_participants p ON p.room_id = r.id
		 WHERE p.user_id = $1 AND r.room_type = 'DM'
		 ORDER BY r.created_at DESC, r.id COLLATE "C" DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.ListDMRoomsOf: %w", err)
	}
	defer rows.Close()
	var rooms []model.Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("roomRepo.ListDMRoomsOf scan: %w", err)
		}
		rooms = append(rooms, *r)
	}
	return rooms, rows.Err()
}

func (s *Store) AddParticipant(ctx context.Context, p *model.Participant) error {
	defer logger.DeferLogDuration("room.AddParticipant", time.Now())()
	_, err := s.db.Exec(ctx,
		`INSERT INTO room_participants (room_id, user_id, nickname, joined_at, last_read_message_id)
		 VALUES ($1, $2, $3, $4, $5) ON CONFLICT DO NOTHING`,
		p.RoomID, p.UserID, p.Nickname, p.JoinedAt, p.LastReadMessageID,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.AddParticipant: %w", mapErr(err))
	}
	return nil
}

const participantColumns = `room_id, user_id, nickname, joined_at, last_read_message_id`

func scanParticipant(row pgx.Row) (*model.Participant, error) {
	p := &model.Participant{}
	if err := row.Scan(&p.RoomID, &p.UserID, &p.Nickname, &p.JoinedAt, &p.LastReadMessageID); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) GetParticipant(ctx context.Context, roomID, userID string) (*model.Participant, error) {
	defer logger.DeferLogDuration("room.GetParticipant", time.Now())()
	p, err := scanParticipant(s.db.QueryRow(ctx,
		`SELECT `+participantColumns+` FROM room_participants WHERE room_id = $1 AND user_id = $2`, roomID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("roomRepo.GetParticipant: %w", err)
	}
	return p, nil
}

func (s *Store) ListParticipants(ctx context.Context, roomID string) ([]model.Participant, error) {
	defer logger.DeferLogDuration("room.ListParticipants", time.Now())()
	rows, err := s.db.Query(ctx,
		`SELECT `+participantColumns+` FROM room_participants WHERE room_id = $1 ORDER BY joined_at, user_id`, roomID)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.ListParticipants: %w", err)
	}
	defer rows.Close()
	var out []model.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("roomRepo.ListParticipants scan: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// AdvanceLastRead сдвигает курсор, только если новый id больше текущего (побайтное сравнение ULID).
func (s *Store) AdvanceLastRead(ctx context.Context, roomID, userID, messageID string) (bool, error) {
	defer logger.DeferLogDuration("room.AdvanceLastRead", time.Now())()
	tag, err := s.db.Exec(ctx,
		`UPDATE room_participants SET last_read_message_id = $3
		 WHERE room_id = $1 AND user_id = $2
		   AND (last_read_message_id IS NULL OR last_read_message_id COLLATE "C" < $3 COLLATE "C")`,
		roomID, userID, messageID,
	)
	if err != nil {
		return false, fmt.Errorf("roomRepo.AdvanceLastRead: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	var exists bool
	err = s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM room_participants WHERE room_id = $1 AND user_id = $2)`,
		roomID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("roomRepo.AdvanceLastRead exists: %w", err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (s *Store) SetLastRead(ctx context.Context, roomID, userID, messageID string) error {
	defer logger.DeferLogDuration("room.SetLastRead", time.Now())()
	tag, err := s.db.Exec(ctx,
		`UPDATE room_participants SET last_read_message_id = $3 WHERE room_id = $1 AND user_id = $2`,
		roomID, userID, messageID,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.SetLastRead: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
