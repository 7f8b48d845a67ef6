package report

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"alphavault/internal/model"
)

func writeEvents(t *testing.T, events []model.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.jsonl")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	return path
}

func TestAggregatorWindows(t *testing.T) {
	events := []model.Event{
		{Seq: 1, Timestamp: 1000, Name: model.EventDeposit, Payload: model.DepositEvent{Shares: "100", Amount0: "100", Amount1: "200"}},
		{Seq: 2, Timestamp: 1100, Name: model.EventDeposit, Payload: model.DepositEvent{Shares: "50", Amount0: "50", Amount1: "60"}},
		{Seq: 3, Timestamp: 1200, Name: model.EventCollectFees, Payload: model.CollectFeesEvent{FeesFromPool0: "10", FeesFromPool1: "20", FeesToProtocol0: "1", FeesToProtocol1: "2"}},
		{Seq: 4, Timestamp: 1200, Name: model.EventSnapshot, Payload: model.SnapshotEvent{Tick: 60, TotalAmount0: "150", TotalAmount1: "260", TotalShares: "150"}},
		// Next window.
		{Seq: 5, Timestamp: 2000, Name: model.EventWithdraw, Payload: model.WithdrawEvent{Shares: "50", Amount0: "40", Amount1: "50"}},
	}
	path := writeEvents(t, events)

	agg := NewAggregator(Config{WindowSeconds: 600}, nil, nil)
	windows, err := agg.Run(context.Background(), path)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(windows) != 3 {
		t.Fatalf("got %d windows, want 3", len(windows))
	}

	first := windows[0]
	if first.WindowStart != 600 || first.WindowEnd != 1200 {
		t.Fatalf("first window = [%d, %d)", first.WindowStart, first.WindowEnd)
	}
	if first.Deposits != 2 {
		t.Fatalf("deposits = %d, want 2", first.Deposits)
	}
	if first.DepositAmount0.String() != "150" || first.DepositAmount1.String() != "260" {
		t.Fatalf("deposit amounts = (%s, %s)", first.DepositAmount0, first.DepositAmount1)
	}

	second := windows[1]
	if second.WindowStart != 1200 {
		t.Fatalf("second window start = %d, want 1200", second.WindowStart)
	}
	if second.FeesCollected0.String() != "10" || second.ProtocolFees1.String() != "2" {
		t.Fatalf("fees = %s, protocol = %s", second.FeesCollected0, second.ProtocolFees1)
	}
	if !second.HasSnapshot || second.EndShares != "150" || second.EndTick != 60 {
		t.Fatalf("snapshot state = %+v", second)
	}
	if second.Withdrawals != 0 {
		t.Fatalf("withdrawal leaked into wrong window")
	}

	third := windows[2]
	if third.WindowStart != 1800 || third.Withdrawals != 1 {
		t.Fatalf("third window = %+v", third)
	}
	if third.WithdrawAmount0.String() != "40" || third.WithdrawAmount1.String() != "50" {
		t.Fatalf("withdraw amounts = (%s, %s)", third.WithdrawAmount0, third.WithdrawAmount1)
	}
}

func TestAggregatorSkipsDecodeErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	content := "not-json\n" +
		`{"seq":1,"timestamp":100,"name":"deposit","payload":{"shares":"10","amount0":"10","amount1":"10"}}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	agg := NewAggregator(Config{WindowSeconds: 60}, nil, nil)
	windows, err := agg.Run(context.Background(), path)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(windows) != 1 || windows[0].Deposits != 1 {
		t.Fatalf("windows = %+v", windows)
	}
}

func TestAggregatorRejectsZeroWindow(t *testing.T) {
	agg := NewAggregator(Config{}, nil, nil)
	if _, err := agg.Run(context.Background(), "unused"); err == nil {
		t.Fatalf("expected window validation error")
	}
}
