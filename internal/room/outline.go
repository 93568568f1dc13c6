package room

// Point is a position on the room plane in meters, device at the origin
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Outline is the rectangular room implied by the four wall distances
type Outline struct {
	// Points is a closed polygon: NW, NE, SE, SW, NW
	Points [5]Point `json:"points"`
	Width  float64  `json:"width"` // east-west extent
	Depth  float64  `json:"depth"` // north-south extent
	Area   float64  `json:"area"`
}

// NewOutline builds the room rectangle from one-way wall distances
func NewOutline(north, south, east, west float64) Outline {
	y := [2]float64{North.Sign() * north, South.Sign() * south}
	x := [2]float64{West.Sign() * west, East.Sign() * east}

	width := x[1] - x[0]
	depth := y[0] - y[1]

	return Outline{
		Points: [5]Point{
			{X: x[0], Y: y[0]},
			{X: x[1], Y: y[0]},
			{X: x[1], Y: y[1]},
			{X: x[0], Y: y[1]},
			{X: x[0], Y: y[0]},
		},
		Width: width,
		Depth: depth,
		Area:  width * depth,
	}
}
