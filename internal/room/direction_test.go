package room

import (
	"encoding/json"
	"testing"
)

func TestDirection_String(t *testing.T) {
	tests := []struct {
		d    Direction
		want string
	}{
		{North, "north"},
		{South, "south"},
		{East, "east"},
		{West, "west"},
		{Direction(9), "direction(9)"},
	}

	for _, tt := range tests {
		if got := tt.d.String(); got != tt.want {
			t.Errorf("String() = %s, want %s", got, tt.want)
		}
	}
}

func TestDirection_SignAndAxis(t *testing.T) {
	tests := []struct {
		d    Direction
		sign float64
		axis string
	}{
		{North, 1, "y"},
		{South, -1, "y"},
		{East, 1, "x"},
		{West, -1, "x"},
	}

	for _, tt := range tests {
		if got := tt.d.Sign(); got != tt.sign {
			t.Errorf("%s.Sign() = %f, want %f", tt.d, got, tt.sign)
		}
		if got := tt.d.Axis(); got != tt.axis {
			t.Errorf("%s.Axis() = %s, want %s", tt.d, got, tt.axis)
		}
	}
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		in      string
		want    Direction
		wantErr bool
	}{
		{"north", North, false},
		{"SOUTH", South, false},
		{" East ", East, false},
		{"w", West, false},
		{"up", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseDirection(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDirection(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseDirection(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestParseOrder(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    []Direction
		wantErr bool
	}{
		{"default", []string{"north", "south", "east", "west"}, Directions, false},
		{"custom", []string{"east", "north", "west", "south"}, []Direction{East, North, West, South}, false},
		{"too few", []string{"north", "south", "east"}, nil, true},
		{"duplicate", []string{"north", "north", "east", "west"}, nil, true},
		{"unknown", []string{"north", "south", "east", "up"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOrder(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseOrder() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("order[%d] = %s, want %s", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestDirection_JSON(t *testing.T) {
	data, err := json.Marshal(map[string]Direction{"d": East})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"d":"east"}` {
		t.Errorf("unexpected JSON %s", data)
	}

	var out struct {
		D Direction `json:"d"`
	}
	if err := json.Unmarshal([]byte(`{"d":"west"}`), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.D != West {
		t.Errorf("expected west, got %s", out.D)
	}

	if _, err := json.Marshal(Direction(7)); err == nil {
		t.Error("expected error marshaling invalid direction")
	}
}
