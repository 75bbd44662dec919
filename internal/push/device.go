package push

import (
	"fmt"

	"github.com/google/uuid"
)

// Store is the local key-value state the push flow persists across
// sessions (device identifier, token hash cache).
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

const deviceIDKey = "device-id"

// DeviceID returns the stable identifier of this local profile,
// generating and persisting one on first use.
func DeviceID(s Store) (string, error) {
	if id, ok := s.Get(deviceIDKey); ok && id != "" {
		return id, nil
	}
	id := uuid.New().String()
	if err := s.Set(deviceIDKey, id); err != nil {
		return "", fmt.Errorf("failed to persist device id: %w", err)
	}
	return id, nil
}
