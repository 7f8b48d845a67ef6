package report

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"

	"alphavault/internal/model"
	"alphavault/internal/storage/postgres"
)

// Config controls aggregation behavior.
type Config struct {
	WindowSeconds int64
	VaultAddress  string
	StateName     string
}

// Aggregator folds a vault event JSONL file into per-window summaries
// and optionally persists snapshots and progress to Postgres.
type Aggregator struct {
	cfg          Config
	store        *postgres.Store
	logger       *zap.Logger
	accumulators map[int64]*Accumulator
}

func NewAggregator(cfg Config, store *postgres.Store, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		cfg:          cfg,
		store:        store,
		logger:       logger,
		accumulators: make(map[int64]*Accumulator),
	}
}

type rawEvent struct {
	Seq       uint64          `json:"seq"`
	Timestamp int64           `json:"timestamp"`
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload"`
}

// Run aggregates the events in inputPath and returns the windows in
// chronological order.
func (a *Aggregator) Run(ctx context.Context, inputPath string) ([]*Accumulator, error) {
	if a.cfg.WindowSeconds <= 0 {
		return nil, fmt.Errorf("window seconds must be > 0")
	}

	startSeq, err := a.loadStartSeq(ctx)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(inputPath)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	snapshots := make([]model.Event, 0)
	persisted := make([]model.Event, 0)
	maxSeq := startSeq
	var total, skipped, failed int

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		total++

		var record rawEvent
		if err := json.Unmarshal(line, &record); err != nil {
			failed++
			a.logger.Warn("decode event", zap.Error(err))
			continue
		}

		if record.Seq <= startSeq {
			skipped++
			continue
		}
		if record.Seq > maxSeq {
			maxSeq = record.Seq
		}

		windowStart := record.Timestamp - record.Timestamp%a.cfg.WindowSeconds
		if record.Timestamp < 0 && record.Timestamp%a.cfg.WindowSeconds != 0 {
			windowStart -= a.cfg.WindowSeconds
		}
		acc, ok := a.accumulators[windowStart]
		if !ok {
			acc = NewAccumulator(windowStart, windowStart+a.cfg.WindowSeconds)
			a.accumulators[windowStart] = acc
		}
		if err := acc.AddEvent(record.Name, record.Payload, record.Seq); err != nil {
			failed++
			a.logger.Warn("aggregate event", zap.Error(err), zap.Uint64("seq", record.Seq))
			continue
		}

		if a.store != nil {
			persisted = append(persisted, model.Event{
				Seq:       record.Seq,
				Timestamp: record.Timestamp,
				Name:      record.Name,
				Payload:   record.Payload,
			})
		}

		if record.Name == model.EventSnapshot && a.store != nil {
			var snap model.SnapshotEvent
			if err := json.Unmarshal(record.Payload, &snap); err == nil {
				snapshots = append(snapshots, model.Event{
					Seq:       record.Seq,
					Timestamp: record.Timestamp,
					Name:      record.Name,
					Payload:   snap,
				})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan input: %w", err)
	}

	if a.store != nil {
		if err := a.store.InsertEvents(ctx, a.cfg.VaultAddress, persisted); err != nil {
			return nil, fmt.Errorf("insert events: %w", err)
		}
		if err := a.store.UpsertSnapshots(ctx, a.cfg.VaultAddress, snapshots); err != nil {
			return nil, fmt.Errorf("upsert snapshots: %w", err)
		}
		if a.cfg.StateName != "" && maxSeq > startSeq {
			if err := a.store.SaveState(ctx, a.cfg.StateName, maxSeq); err != nil {
				return nil, fmt.Errorf("save state: %w", err)
			}
		}
	}

	windows := make([]*Accumulator, 0, len(a.accumulators))
	for _, acc := range a.accumulators {
		windows = append(windows, acc)
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].WindowStart < windows[j].WindowStart })

	a.logger.Info("aggregation complete",
		zap.Int("events", total),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
		zap.Int("windows", len(windows)),
	)
	return windows, nil
}

func (a *Aggregator) loadStartSeq(ctx context.Context) (uint64, error) {
	if a.store == nil || a.cfg.StateName == "" {
		return 0, nil
	}
	seq, ok, err := a.store.LoadState(ctx, a.cfg.StateName)
	if err != nil {
		return 0, fmt.Errorf("load state: %w", err)
	}
	if !ok {
		return 0, nil
	}
	a.logger.Info("resume from state", zap.Uint64("last_processed_seq", seq))
	return seq, nil
}
