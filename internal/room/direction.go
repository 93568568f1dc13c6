// Package room holds the shared per-direction distance state of the room
package room

import (
	"fmt"
	"strings"
)

// Direction is one of the four compass directions scanned by the sonar
type Direction int

const (
	North Direction = iota
	South
	East
	West
)

// Directions is the default scan order
var Directions = []Direction{North, South, East, West}

var directionNames = [...]string{"north", "south", "east", "west"}

func (d Direction) String() string {
	if d.Valid() {
		return directionNames[d]
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

// Valid reports whether d is one of the four compass directions
func (d Direction) Valid() bool {
	return d >= North && d <= West
}

// Sign is the axis sign used when projecting onto the room plane:
// North and East are positive, South and West negative.
func (d Direction) Sign() float64 {
	if d == South || d == West {
		return -1
	}
	return 1
}

// Axis returns "y" for North/South and "x" for East/West
func (d Direction) Axis() string {
	if d == East || d == West {
		return "x"
	}
	return "y"
}

// MarshalText encodes the direction as its lowercase name
func (d Direction) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("invalid direction %d", int(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText parses a direction name
func (d *Direction) UnmarshalText(text []byte) error {
	parsed, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDirection parses a direction name, case-insensitively.
// Single-letter abbreviations are accepted.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "north", "n":
		return North, nil
	case "south", "s":
		return South, nil
	case "east", "e":
		return East, nil
	case "west", "w":
		return West, nil
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}

// ParseOrder parses a configured scan order. The order must name each of
// the four directions exactly once.
func ParseOrder(names []string) ([]Direction, error) {
	if len(names) != len(Directions) {
		return nil, fmt.Errorf("direction order must list %d directions, got %d", len(Directions), len(names))
	}

	seen := make(map[Direction]bool, len(names))
	order := make([]Direction, 0, len(names))
	for _, name := range names {
		d, err := ParseDirection(name)
		if err != nil {
			return nil, err
		}
		if seen[d] {
			return nil, fmt.Errorf("direction %s listed twice", d)
		}
		seen[d] = true
		order = append(order, d)
	}

	return order, nil
}
