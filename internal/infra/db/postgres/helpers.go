package postgres

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	domain "github.com/HwangHoYoon/trust/internal/domain/scans"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// stringOrDash returns "-" when the input is empty/whitespace
func stringOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// encodeList stores a string list as a JSON array; nil is stored as [].
func encodeList(v []string) string {
	if v == nil {
		return "[]"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// decodeList is lenient: NULL or garbage comes back as an empty list.
func decodeList(s sql.NullString) []string {
	out := []string{}
	if !s.Valid || s.String == "" {
		return out
	}
	if err := json.Unmarshal([]byte(s.String), &out); err != nil || out == nil {
		return []string{}
	}
	return out
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}
