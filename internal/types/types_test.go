package types

import "testing"

func TestRound(t *testing.T) {
	tests := []struct {
		in     float64
		places int
		want   float64
	}{
		{1.234, 2, 1.23},
		{1.236, 2, 1.24},
		{12.04, 1, 12.0},
		{-3.456, 1, -3.5},
		{7, 2, 7},
	}
	for _, tt := range tests {
		if got := Round(tt.in, tt.places); got != tt.want {
			t.Errorf("Round(%v, %d) = %v, want %v", tt.in, tt.places, got, tt.want)
		}
	}
}

func TestBoundsContains(t *testing.T) {
	b := Bounds{MinLat: -4.4, MaxLat: -4.2, MinLng: 39.5, MaxLng: 39.6}
	if !b.Contains(Point{Lat: -4.3, Lng: 39.55}) {
		t.Fatal("expected point inside bounds")
	}
	if !b.Contains(Point{Lat: -4.4, Lng: 39.5}) {
		t.Fatal("expected corner to be inclusive")
	}
	if b.Contains(Point{Lat: -4.1, Lng: 39.55}) {
		t.Fatal("expected point outside bounds")
	}
}
