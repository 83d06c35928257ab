package session

import (
	"encoding/json"
	"math"
	"time"
)

// Session is the server-side record behind a session cookie.
type Session struct {
	ID           string
	UserID       string
	CreatedAt    time.Time
	LastActivity time.Time
	Data         map[string]any
}

// Roles returns the string entries of Data["roles"], if present.
func (s *Session) Roles() []string {
	if s == nil || s.Data == nil {
		return nil
	}
	switch v := s.Data["roles"].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, r := range v {
			if str, ok := r.(string); ok {
				out = append(out, str)
			}
		}
		return out
	case string:
		return []string{v}
	default:
		return nil
	}
}

// record is the stored JSON shape. Timestamps are float unix seconds.
type record struct {
	UserID       string         `json:"user_id"`
	CreatedAt    float64        `json:"created_at"`
	LastActivity float64        `json:"last_activity"`
	Data         map[string]any `json:"data"`
}

func encode(s *Session) (string, error) {
	data := s.Data
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(record{
		UserID:       s.UserID,
		CreatedAt:    unixSeconds(s.CreatedAt),
		LastActivity: unixSeconds(s.LastActivity),
		Data:         data,
	})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decode(id, raw string) (*Session, error) {
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, err
	}
	if rec.UserID == "" {
		return nil, ErrCorrupt
	}
	return &Session{
		ID:           id,
		UserID:       rec.UserID,
		CreatedAt:    fromUnixSeconds(rec.CreatedAt),
		LastActivity: fromUnixSeconds(rec.LastActivity),
		Data:         rec.Data,
	}, nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/float64(time.Second)
}

func fromUnixSeconds(v float64) time.Time {
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}
