package model

import (
	"strings"
	"time"
)

type RoomType string

const (
	RoomTypeDM    RoomType = "DM"
	RoomTypeLobby RoomType = "LOBBY"
)

// LobbyRoomID: фиксированный id общей комнаты. Строки в rooms у лобби нет,
// как нет участников, уведомлений и курсоров прочтения.
const LobbyRoomID = "lobby"

// IsLobby: roomID указывает на лобби.
func IsLobby(roomID string) bool {
	return roomID == LobbyRoomID
}

type Room struct {
	ID        string    `json:"id"`
	Type      RoomType  `json:"type"`
	PairKey   string    `json:"-"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *Room) IsLobby() bool {
	return r.Type == RoomTypeLobby || IsLobby(r.ID)
}

// Lobby: синтетическая комната лобби.
func Lobby() *Room {
	return &Room{ID: LobbyRoomID, Type: RoomTypeLobby}
}

// PairKey: ключ неупорядоченной пары пользователей, меньший id первым.
func PairKey(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + ":" + b
}

type Participant struct {
	RoomID            string    `json:"room_id"`
	UserID            string    `json:"user_id"`
	Nickname          string    `json:"nickname"`
	JoinedAt          time.Time `json:"joined_at"`
	LastReadMessageID *string   `json:"last_read_message_id,omitempty"`
}

// DMRoomSummary: строка списка «мои диалоги»: собеседник, его статус и
// последнее сообщение.
type DMRoomSummary struct {
	RoomID           string `json:"room_id"`
	OpponentID       string `json:"opponent_id"`
	OpponentNickname string `json:"opponent_nickname"`
	OpponentOnline   bool   `json:"opponent_online"`
	LastMessage      string `json:"last_message,omitempty"`
	LastMessageAt    string `json:"last_message_at,omitempty"`
	LastReadMessage  string `json:"last_read_message_id,omitempty"`
}
