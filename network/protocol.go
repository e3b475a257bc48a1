package network

// Client -> server.
const (
	MsgTypeHeartbeat = 1
	MsgTypeCreate    = 101
	MsgTypeJoin      = 102
	MsgTypeStart     = 103
	MsgTypeMove      = 201
	MsgTypeChat      = 202
)

// Server -> client.
const (
	MsgTypeBoardsList            = 300
	MsgTypeLoginError            = 301
	MsgTypeJoinedLobby           = 302
	MsgTypeCreateBoard           = 303
	MsgTypeLobbyOwner            = 304
	MsgTypeUpdatePlayers         = 305
	MsgTypeStartGame             = 306
	MsgTypeUpdatePlayerPositions = 307
	MsgTypeAnimateFox            = 308
	MsgTypeChatMessage           = 309
)

type CreateRequest struct {
	Username  string `json:"username"`
	BoardType string `json:"boardType"`
}

type JoinRequest struct {
	RoomCode string `json:"roomCode"`
	Username string `json:"username"`
}

type ChatRequest struct {
	Text string `json:"text"`
}

type BoardsList struct {
	Names []string `json:"names"`
}

type LoginError struct {
	Reason string `json:"reason"`
}

type JoinedLobby struct {
	RoomCode string `json:"roomCode"`
	Slot     int    `json:"slot"`
}

type ChatMessage struct {
	Username string `json:"username"`
	Text     string `json:"text"`
}
