package session

import (
	"encoding/json"
	"errors"
	"fmt"
)

// SnapshotVersion is the payload format written by EncodeSnapshot.
const SnapshotVersion = 1

// ErrUnsupportedVersion is returned when a snapshot declares a format this
// build cannot read.
var ErrUnsupportedVersion = errors.New("unsupported snapshot version")

type envelope struct {
	V       int      `json:"v"`
	Session *Session `json:"session"`
}

// EncodeSnapshot serializes s as a versioned snapshot payload. On a host it
// must run on the logic executor.
func EncodeSnapshot(s *Session) ([]byte, error) {
	if s == nil {
		return nil, errors.New("encode snapshot: nil session")
	}
	data, err := json.Marshal(envelope{V: SnapshotVersion, Session: s})
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses a payload produced by EncodeSnapshot.
func DecodeSnapshot(data []byte) (*Session, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if env.V != SnapshotVersion {
		return nil, fmt.Errorf("decode snapshot: %w: %d", ErrUnsupportedVersion, env.V)
	}
	if env.Session == nil {
		return nil, errors.New("decode snapshot: missing session")
	}
	s := env.Session
	if s.Time.Speed <= 0 {
		s.Time.Speed = 1
	}
	if s.Backbone == (Backbone{}) {
		s.Backbone = DefaultBackbone()
	}
	for _, c := range s.Categories {
		if c.Influence == nil {
			c.Influence = map[int]float64{}
		}
	}
	return s, nil
}
