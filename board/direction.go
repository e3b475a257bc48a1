package board

import (
	"encoding/json"
	"fmt"
)

// Direction is a unit step on the grid. It travels on the wire as [dx, dy].
type Direction struct {
	DX int
	DY int
}

var (
	Left  = Direction{DX: -1, DY: 0}
	Right = Direction{DX: 1, DY: 0}
	Up    = Direction{DX: 0, DY: -1}
	Down  = Direction{DX: 0, DY: 1}
)

// Valid reports whether d is one of the four unit vectors.
func (d Direction) Valid() bool {
	switch d {
	case Left, Right, Up, Down:
		return true
	}
	return false
}

// ReverseDirection returns the additive inverse of d.
func ReverseDirection(d Direction) Direction {
	return Direction{DX: -d.DX, DY: -d.DY}
}

func (d Direction) String() string {
	return fmt.Sprintf("[%d,%d]", d.DX, d.DY)
}

func (d Direction) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{d.DX, d.DY})
}

// UnmarshalJSON accepts exactly [dx, dy].
func (d *Direction) UnmarshalJSON(data []byte) error {
	var v []int
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if len(v) != 2 {
		return fmt.Errorf("direction needs 2 components, got %d", len(v))
	}
	d.DX, d.DY = v[0], v[1]
	return nil
}
