package repository

import "encoding/json"

// Slices and maps are stored as JSON text columns so the schema stays
// identical across Postgres, MySQL and SQLite.

func toJSON(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func fromJSON[T any](raw string) T {
	var out T
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}
