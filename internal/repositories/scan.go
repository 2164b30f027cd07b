package repositories

import (
	"encoding/json"
	"fmt"

	"github.com/BradenHooton/loginguard/internal/models"
)

// rowScanner covers both pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// encodeLocation returns nil for a nil snapshot so the JSONB column stays NULL
func encodeLocation(loc *models.Location) ([]byte, error) {
	if loc == nil {
		return nil, nil
	}
	b, err := json.Marshal(loc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode location: %w", err)
	}
	return b, nil
}

func decodeLocation(raw []byte) (*models.Location, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var loc models.Location
	if err := json.Unmarshal(raw, &loc); err != nil {
		return nil, fmt.Errorf("failed to decode location: %w", err)
	}
	return &loc, nil
}
