package capture

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// LoadWatchedTables lee la lista de tablas vigiladas de un fichero JSON:
//
//	{"tables": [{"table": "messages", "operation": "INSERT", ...}]}
func LoadWatchedTables(path string) ([]WatchedTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read capture spec: %w", err)
	}

	var doc struct {
		Tables []WatchedTable `json:"tables"`
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse capture spec %s: %w", path, err)
	}
	for i, w := range doc.Tables {
		if err := w.Validate(); err != nil {
			return nil, fmt.Errorf("capture spec %s, entry %d: %w", path, i, err)
		}
	}
	return doc.Tables, nil
}
