package storage

import "alphavault/internal/model"

// Storage defines a sink for vault event records.
type Storage interface {
	PutEventBatch(events []model.Event) error
}
