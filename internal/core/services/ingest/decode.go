// Package ingest normalises raw feed records into domain patches. Absent or
// malformed fields never reject a record; they are left out of the patch so
// the previous value survives.
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/lcalzada-xor/chira/internal/core/domain"
)

// ErrEmptyRecord is returned when the feed delivers a null record.
var ErrEmptyRecord = errors.New("record is empty")

// maxTimestamp is 9999-12-31T23:59:59Z in epoch seconds.
const maxTimestamp = 253402300799

// DecodeError wraps payloads that are not JSON objects.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// DecodeStatus parses a robot_status payload.
func DecodeStatus(payload []byte) (domain.StatusPatch, error) {
	var p domain.StatusPatch

	raw, err := object(domain.PathRobotStatus, payload)
	if err != nil {
		return p, err
	}

	if v, ok := raw["status"]; ok {
		var s string
		if json.Unmarshal(v, &s) == nil {
			if state, known := domain.ParseRobotState(s); known {
				p.Status = &state
			}
		}
	}

	p.Joint1 = number(raw, "sudut1")
	p.Joint2 = number(raw, "sudut2")
	p.Joint3 = number(raw, "sudut3")
	p.EEAngle = number(raw, "ee_angle")

	if v, ok := raw["detected_object_cm"]; ok {
		if isNull(v) {
			p.ClearObject = true
		} else if obj, err := object("detected_object_cm", v); err == nil {
			pos := domain.Position{}
			if x := number(obj, "x"); x != nil {
				pos.X = *x
			}
			if y := number(obj, "y"); y != nil {
				pos.Y = *y
			}
			if z := number(obj, "z"); z != nil {
				pos.Z = *z
			}
			p.DetectedObject = &pos
		}
	}

	if v, ok := raw["error"]; ok {
		var msg string
		switch {
		case isNull(v):
			p.Error = &msg
		case json.Unmarshal(v, &msg) == nil:
			p.Error = &msg
		}
	}

	if v, ok := raw["timestamp"]; ok && !isNull(v) {
		var ts float64
		if json.Unmarshal(v, &ts) == nil && ts > 0 && ts <= maxTimestamp {
			p.Timestamp = &ts
		}
	}

	return p, nil
}

// DecodeStatistics parses a statistics payload.
func DecodeStatistics(payload []byte) (domain.StatisticsPatch, error) {
	var p domain.StatisticsPatch

	raw, err := object(domain.PathStatistics, payload)
	if err != nil {
		return p, err
	}

	p.TotalPicked = integer(raw, "chili_picked_count")
	p.TotalAttempts = integer(raw, "total_picking_attempts")
	return p, nil
}

// DecodeCounts parses a per-period count map. A null record is an empty map.
func DecodeCounts(path string, payload []byte) (map[string]int64, error) {
	raw, err := object(path, payload)
	if errors.Is(err, ErrEmptyRecord) {
		return map[string]int64{}, nil
	}
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(raw))
	for key := range raw {
		if v := integer(raw, key); v != nil {
			counts[key] = *v
		}
	}
	return counts, nil
}

func object(path string, payload []byte) (map[string]json.RawMessage, error) {
	if len(bytes.TrimSpace(payload)) == 0 || isNull(payload) {
		return nil, ErrEmptyRecord
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	return raw, nil
}

// number returns nil when key is absent or not numeric, and 0 for null.
func number(raw map[string]json.RawMessage, key string) *float64 {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	var f float64
	if isNull(v) {
		return &f
	}
	if err := json.Unmarshal(v, &f); err != nil {
		return nil
	}
	return &f
}

// integer is number truncated to int64. Values outside the int64 range are
// treated as malformed.
func integer(raw map[string]json.RawMessage, key string) *int64 {
	f := number(raw, key)
	if f == nil || math.IsNaN(*f) || *f < math.MinInt64 || *f >= math.MaxInt64 {
		return nil
	}
	n := int64(*f)
	return &n
}

func isNull(v []byte) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
