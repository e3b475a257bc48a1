package room

import "encoding/json"

// MaxPlayers is the fixed number of seats in a room.
const MaxPlayers = 8

// Player occupies one seat for the life of its connection.
type Player struct {
	Slot      int
	Username  string
	SessionID string
}

// GetSlot implements state.Player.
func (p *Player) GetSlot() int {
	return p.Slot
}

// Seat is the public view of an occupied slot.
type Seat struct {
	Username string `json:"username"`
}

// Occupancy is the fixed-length seat view sent in updatePlayers.
// Empty seats encode as false so clients can keep stable seat positions.
type Occupancy [MaxPlayers]*Seat

func (o Occupancy) MarshalJSON() ([]byte, error) {
	out := make([]interface{}, MaxPlayers)
	for i, seat := range o {
		if seat == nil {
			out[i] = false
		} else {
			out[i] = seat
		}
	}
	return json.Marshal(out)
}

// EncodePlayers builds the seat view, keeping gaps where slots are empty.
func EncodePlayers(players [MaxPlayers]*Player) Occupancy {
	var o Occupancy
	for i, p := range players {
		if p != nil {
			o[i] = &Seat{Username: p.Username}
		}
	}
	return o
}
