package board

import (
	"errors"
	"math/rand"
)

var ErrNoEmptyTile = errors.New("no empty tile available")

// Position is a player's cell on the grid.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Board is a TileGrid plus the live position of every placed player.
// It is not safe for concurrent use; callers serialize access.
type Board struct {
	Name    string
	Grid    *TileGrid
	players map[int]Position
	rng     *rand.Rand
}

// NewBoard wraps grid without shuffling it.
func NewBoard(name string, grid *TileGrid, rng *rand.Rand) *Board {
	return &Board{
		Name:    name,
		Grid:    grid,
		players: make(map[int]Position),
		rng:     rng,
	}
}

// BoardView is what clients receive in createBoard.
type BoardView struct {
	Name     string   `json:"name"`
	Width    int      `json:"width"`
	Height   int      `json:"height"`
	TileData [][]Tile `json:"tileData"`
}

func (b *Board) View() BoardView {
	return BoardView{
		Name:     b.Name,
		Width:    b.Grid.Width,
		Height:   b.Grid.Height,
		TileData: b.Grid.Tiles,
	}
}

func (b *Board) occupant(x, y int) (int, bool) {
	for id, pos := range b.players {
		if pos.X == x && pos.Y == y {
			return id, true
		}
	}
	return 0, false
}

// RandomEmptyTile picks uniformly among passable tiles with no player on them.
func (b *Board) RandomEmptyTile() (Tile, error) {
	var free []Tile
	for _, tile := range b.Grid.PassableTiles() {
		if _, taken := b.occupant(tile.X, tile.Y); !taken {
			free = append(free, tile)
		}
	}
	if len(free) == 0 {
		return Tile{}, ErrNoEmptyTile
	}
	return free[b.rng.Intn(len(free))], nil
}

// UpdatePlayer sets a player's position without any legality check.
func (b *Board) UpdatePlayer(playerID, x, y int) {
	b.players[playerID] = Position{X: x, Y: y}
}

// RemovePlayer takes a player off the board, freeing its tile.
func (b *Board) RemovePlayer(playerID int) {
	delete(b.players, playerID)
}

// PlayerPosition returns where a player stands, if placed.
func (b *Board) PlayerPosition(playerID int) (Position, bool) {
	pos, ok := b.players[playerID]
	return pos, ok
}

// Positions returns a copy of every placed player's position keyed by player id.
func (b *Board) Positions() map[int]Position {
	out := make(map[int]Position, len(b.players))
	for id, pos := range b.players {
		out[id] = pos
	}
	return out
}

// AttemptMove steps the player one cell in dir. The move is refused when the
// player is not placed, dir is not a unit vector, or the target is out of
// bounds, a wall, or held by another player.
func (b *Board) AttemptMove(playerID int, dir Direction) (Tile, bool) {
	pos, ok := b.players[playerID]
	if !ok || !dir.Valid() {
		return Tile{}, false
	}

	tx, ty := pos.X+dir.DX, pos.Y+dir.DY
	target, ok := b.Grid.At(tx, ty)
	if !ok || !target.Passable {
		return Tile{}, false
	}
	if other, taken := b.occupant(tx, ty); taken && other != playerID {
		return Tile{}, false
	}

	b.players[playerID] = Position{X: tx, Y: ty}
	return target, true
}
