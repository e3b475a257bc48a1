package board

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
)

// TileKind identifies what is drawn on a tile.
type TileKind string

const (
	KindWall      TileKind = "wall"
	KindPlain     TileKind = "plain"
	KindGrass     TileKind = "grass"
	KindFlowers   TileKind = "flowers"
	KindMushrooms TileKind = "mushrooms"
	KindLog       TileKind = "log"
	KindPond      TileKind = "pond"
)

var knownKinds = map[TileKind]bool{
	KindWall:      true,
	KindPlain:     true,
	KindGrass:     true,
	KindFlowers:   true,
	KindMushrooms: true,
	KindLog:       true,
	KindPond:      true,
}

// Valid reports whether k belongs to the closed set of tile kinds.
func (k TileKind) Valid() bool {
	return knownKinds[k]
}

// Passable reports whether a token may stand on a tile of this kind.
func (k TileKind) Passable() bool {
	return k != KindWall
}

var ErrInvalidTemplate = errors.New("invalid board template")

// Tile is one grid cell. X and Y never change after the grid is built.
type Tile struct {
	Type     TileKind `json:"type"`
	Passable bool     `json:"passable"`
	X        int      `json:"x"`
	Y        int      `json:"y"`
}

// Template is the on-disk shape of a board: Height rows of Width tile kinds.
type Template struct {
	Width  int          `json:"width"`
	Height int          `json:"height"`
	Tiles  [][]TileKind `json:"tiles"`
}

// ParseTemplate decodes and validates a JSON board template.
func ParseTemplate(data []byte) (Template, error) {
	var t Template
	if err := json.Unmarshal(data, &t); err != nil {
		return Template{}, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	if err := t.Validate(); err != nil {
		return Template{}, err
	}
	return t, nil
}

// Validate checks the template is rectangular and uses only known kinds.
func (t Template) Validate() error {
	if t.Width <= 0 || t.Height <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d", ErrInvalidTemplate, t.Width, t.Height)
	}
	if len(t.Tiles) != t.Height {
		return fmt.Errorf("%w: expected %d rows, got %d", ErrInvalidTemplate, t.Height, len(t.Tiles))
	}
	for y, row := range t.Tiles {
		if len(row) != t.Width {
			return fmt.Errorf("%w: row %d has %d tiles, expected %d", ErrInvalidTemplate, y, len(row), t.Width)
		}
		for x, kind := range row {
			if !kind.Valid() {
				return fmt.Errorf("%w: unknown tile kind %q at (%d,%d)", ErrInvalidTemplate, kind, x, y)
			}
		}
	}
	return nil
}

// TileGrid has a fixed shape; only the kinds of passable tiles may change.
type TileGrid struct {
	Width  int      `json:"width"`
	Height int      `json:"height"`
	Tiles  [][]Tile `json:"tileData"`
}

// FromTemplate builds a grid exactly as encoded in t.
func FromTemplate(t Template) (*TileGrid, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	g := &TileGrid{
		Width:  t.Width,
		Height: t.Height,
		Tiles:  make([][]Tile, t.Height),
	}
	for y, row := range t.Tiles {
		g.Tiles[y] = make([]Tile, t.Width)
		for x, kind := range row {
			g.Tiles[y][x] = Tile{Type: kind, Passable: kind.Passable(), X: x, Y: y}
		}
	}
	return g, nil
}

// InBounds reports whether (x, y) lies on the grid.
func (g *TileGrid) InBounds(x, y int) bool {
	return x >= 0 && x < g.Width && y >= 0 && y < g.Height
}

// At returns the tile at (x, y).
func (g *TileGrid) At(x, y int) (Tile, bool) {
	if !g.InBounds(x, y) {
		return Tile{}, false
	}
	return g.Tiles[y][x], true
}

// PassableTiles lists every passable tile in row-major order.
func (g *TileGrid) PassableTiles() []Tile {
	var tiles []Tile
	for _, row := range g.Tiles {
		for _, tile := range row {
			if tile.Passable {
				tiles = append(tiles, tile)
			}
		}
	}
	return tiles
}

// ShuffleTileTypes permutes the kinds of passable tiles among the passable
// positions. Walls keep their place, so the walkable area is unchanged.
func (g *TileGrid) ShuffleTileTypes(rng *rand.Rand) {
	var cells []*Tile
	for y := range g.Tiles {
		for x := range g.Tiles[y] {
			if g.Tiles[y][x].Passable {
				cells = append(cells, &g.Tiles[y][x])
			}
		}
	}

	kinds := make([]TileKind, len(cells))
	for i, c := range cells {
		kinds[i] = c.Type
	}
	rng.Shuffle(len(kinds), func(i, j int) {
		kinds[i], kinds[j] = kinds[j], kinds[i]
	})
	for i, c := range cells {
		c.Type = kinds[i]
	}
}
