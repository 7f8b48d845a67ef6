package tickmath

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func TestGetSqrtRatioAtTickBounds(t *testing.T) {
	if _, err := GetSqrtRatioAtTick(MinTick - 1); !errors.Is(err, ErrTickOutOfBounds) {
		t.Fatalf("expected ErrTickOutOfBounds for tick below min, got %v", err)
	}
	if _, err := GetSqrtRatioAtTick(MaxTick + 1); !errors.Is(err, ErrTickOutOfBounds) {
		t.Fatalf("expected ErrTickOutOfBounds for tick above max, got %v", err)
	}

	rmin, err := GetSqrtRatioAtTick(MinTick)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rmin.Eq(MinSqrtRatio) {
		t.Fatalf("ratio at min tick = %s, want %s", rmin, MinSqrtRatio)
	}

	rmax, err := GetSqrtRatioAtTick(MaxTick)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rmax.Eq(MaxSqrtRatio) {
		t.Fatalf("ratio at max tick = %s, want %s", rmax, MaxSqrtRatio)
	}
}

func TestGetSqrtRatioAtTickZero(t *testing.T) {
	r, err := GetSqrtRatioAtTick(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := new(uint256.Int).Lsh(uint256.NewInt(1), 96)
	if !r.Eq(want) {
		t.Fatalf("ratio at tick 0 = %s, want %s", r, want)
	}
}

func TestGetTickAtSqrtRatio(t *testing.T) {
	tick, err := GetTickAtSqrtRatio(MinSqrtRatio)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tick != MinTick {
		t.Fatalf("tick at min sqrt ratio = %d, want %d", tick, MinTick)
	}

	almostMax := new(uint256.Int).Sub(MaxSqrtRatio, uint256.NewInt(1))
	tick, err = GetTickAtSqrtRatio(almostMax)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tick != MaxTick-1 {
		t.Fatalf("tick just below max sqrt ratio = %d, want %d", tick, MaxTick-1)
	}

	if _, err := GetTickAtSqrtRatio(MaxSqrtRatio); !errors.Is(err, ErrSqrtPriceOutOfBounds) {
		t.Fatalf("expected ErrSqrtPriceOutOfBounds at max ratio, got %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, tick := range []int{-887272, -120001, -60, -1, 0, 1, 60, 120001, 887271} {
		ratio, err := GetSqrtRatioAtTick(tick)
		if err != nil {
			t.Fatalf("tick %d: unexpected error: %v", tick, err)
		}
		got, err := GetTickAtSqrtRatio(ratio)
		if err != nil {
			t.Fatalf("tick %d: unexpected error: %v", tick, err)
		}
		if got != tick {
			t.Fatalf("round trip for tick %d gave %d", tick, got)
		}
	}
}

func TestFloor(t *testing.T) {
	cases := []struct {
		tick, spacing, want int
	}{
		{0, 60, 0},
		{59, 60, 0},
		{60, 60, 60},
		{61, 60, 60},
		{-1, 60, -60},
		{-60, 60, -60},
		{-61, 60, -120},
		{-7, 10, -10},
		{7, 10, 0},
	}
	for _, tc := range cases {
		got := Floor(tc.tick, tc.spacing)
		if got != tc.want {
			t.Fatalf("Floor(%d, %d) = %d, want %d", tc.tick, tc.spacing, got, tc.want)
		}
		if got%tc.spacing != 0 {
			t.Fatalf("Floor(%d, %d) = %d is not aligned", tc.tick, tc.spacing, got)
		}
		if !(got <= tc.tick && tc.tick < got+tc.spacing) {
			t.Fatalf("Floor(%d, %d) = %d does not bracket the tick", tc.tick, tc.spacing, got)
		}
	}
}

func TestCeil(t *testing.T) {
	if got := Ceil(0, 60); got != 60 {
		t.Fatalf("Ceil(0, 60) = %d, want 60", got)
	}
	if got := Ceil(-7, 10); got != 0 {
		t.Fatalf("Ceil(-7, 10) = %d, want 0", got)
	}
}
