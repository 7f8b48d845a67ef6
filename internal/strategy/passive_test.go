package strategy

import (
	"testing"

	"github.com/holiman/uint256"

	"alphavault/internal/pool"
)

func TestPassiveBaseRange(t *testing.T) {
	p := Params{BaseThreshold: 600, LimitThreshold: 600}
	base, _, err := Passive{}.ComputeRanges(0, 60, uint256.NewInt(1000), uint256.NewInt(1000), p)
	if err != nil {
		t.Fatalf("ComputeRanges: %v", err)
	}
	want := pool.Range{Lower: -600, Upper: 660}
	if base != want {
		t.Fatalf("base range = %+v, want %+v", base, want)
	}
}

func TestPassiveLimitPicksAskWhenOnlyToken0(t *testing.T) {
	p := Params{BaseThreshold: 600, LimitThreshold: 600}
	_, limit, err := Passive{}.ComputeRanges(0, 60, uint256.NewInt(1_000_000), uint256.NewInt(0), p)
	if err != nil {
		t.Fatalf("ComputeRanges: %v", err)
	}
	want := pool.Range{Lower: 60, Upper: 660}
	if limit != want {
		t.Fatalf("limit range = %+v, want ask side %+v", limit, want)
	}
}

func TestPassiveLimitPicksBidWhenOnlyToken1(t *testing.T) {
	p := Params{BaseThreshold: 600, LimitThreshold: 600}
	_, limit, err := Passive{}.ComputeRanges(0, 60, uint256.NewInt(0), uint256.NewInt(1_000_000), p)
	if err != nil {
		t.Fatalf("ComputeRanges: %v", err)
	}
	want := pool.Range{Lower: -600, Upper: 0}
	if limit != want {
		t.Fatalf("limit range = %+v, want bid side %+v", limit, want)
	}
}

func TestPassiveBidWinsTies(t *testing.T) {
	p := Params{BaseThreshold: 600, LimitThreshold: 600}
	_, limit, err := Passive{}.ComputeRanges(0, 60, uint256.NewInt(0), uint256.NewInt(0), p)
	if err != nil {
		t.Fatalf("ComputeRanges: %v", err)
	}
	want := pool.Range{Lower: -600, Upper: 0}
	if limit != want {
		t.Fatalf("limit range = %+v, want bid side %+v on tie", limit, want)
	}
}

func TestPassiveNegativeTickFloor(t *testing.T) {
	p := Params{BaseThreshold: 120, LimitThreshold: 60}
	base, _, err := Passive{}.ComputeRanges(-7, 10, uint256.NewInt(1000), uint256.NewInt(1000), p)
	if err != nil {
		t.Fatalf("ComputeRanges: %v", err)
	}
	// floor(-7, 10) is -10, not 0.
	want := pool.Range{Lower: -130, Upper: 120}
	if base != want {
		t.Fatalf("base range = %+v, want %+v", base, want)
	}
}

func TestPassiveBaseNeverEqualsLimit(t *testing.T) {
	p := Params{BaseThreshold: 600, LimitThreshold: 600}
	for _, tick := range []int{-100000, -61, -60, -1, 0, 1, 59, 60, 100000} {
		base, limit, err := Passive{}.ComputeRanges(tick, 60, uint256.NewInt(123), uint256.NewInt(456), p)
		if err != nil {
			t.Fatalf("tick %d: %v", tick, err)
		}
		if base == limit {
			t.Fatalf("tick %d: base range collides with limit range %+v", tick, base)
		}
	}
}

func TestSymmetricRejectsEqualThresholds(t *testing.T) {
	p := Params{BaseThreshold: 600, LimitThreshold: 600}
	if _, _, err := (Symmetric{}).ComputeRanges(0, 60, nil, nil, p); err == nil {
		t.Fatal("expected error for equal thresholds")
	}

	p = Params{BaseThreshold: 600, LimitThreshold: 120}
	base, limit, err := Symmetric{}.ComputeRanges(0, 60, nil, nil, p)
	if err != nil {
		t.Fatalf("ComputeRanges: %v", err)
	}
	if base == limit {
		t.Fatal("ranges should differ")
	}
	if (base != pool.Range{Lower: -600, Upper: 660}) || (limit != pool.Range{Lower: -120, Upper: 180}) {
		t.Fatalf("unexpected ranges %+v %+v", base, limit)
	}
}
