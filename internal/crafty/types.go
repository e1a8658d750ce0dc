package crafty

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// envelope is the Crafty API v2 response wrapper.
type envelope[T any] struct {
	Status string `json:"status"`
	Data   T      `json:"data"`
}

// Server is one entry of GET /api/v2/servers.
type Server struct {
	ID   FlexString `json:"server_id"`
	Name string     `json:"server_name"`
}

// ServerStats is the point-in-time status of one server
// (GET /api/v2/servers/{id}/stats).
type ServerStats struct {
	StatsID      int             `json:"stats_id"`
	Created      Timestamp       `json:"created,omitzero"`
	Server       ServerRef       `json:"server_id"`
	Started      string          `json:"started,omitempty"`
	Running      bool            `json:"running"`
	CPU          *float64        `json:"cpu,omitempty"`
	Mem          FlexString      `json:"mem,omitempty"`
	MemPercent   *float64        `json:"mem_percent,omitempty"`
	WorldName    string          `json:"world_name,omitempty"`
	WorldSize    string          `json:"world_size,omitempty"`
	ServerPort   *int            `json:"server_port,omitempty"`
	IntPing      string          `json:"int_ping_results,omitempty"`
	Online       int             `json:"online"`
	Max          *int            `json:"max,omitempty"`
	Players      json.RawMessage `json:"players,omitempty"`
	Desc         string          `json:"desc,omitempty"`
	Version      string          `json:"version,omitempty"`
	Updating     bool            `json:"updating"`
	WaitingStart bool            `json:"waiting_start"`
	FirstRun     bool            `json:"first_run"`
	Crashed      bool            `json:"crashed"`
	Downloading  bool            `json:"downloading"`
}

// Flag is one boolean server condition. The declaration order is the
// display order.
type Flag uint8

const (
	FlagUpdating Flag = 1 << iota
	FlagWaitingStart
	FlagFirstRun
	FlagCrashed
	FlagDownloading
)

// AllFlags lists every flag in display order.
var AllFlags = []Flag{FlagUpdating, FlagWaitingStart, FlagFirstRun, FlagCrashed, FlagDownloading}

func (f Flag) String() string {
	switch f {
	case FlagUpdating:
		return "Updating"
	case FlagWaitingStart:
		return "Waiting start"
	case FlagFirstRun:
		return "First run"
	case FlagCrashed:
		return "Crashed"
	case FlagDownloading:
		return "Downloading"
	}
	return "Flag(" + strconv.Itoa(int(f)) + ")"
}

func (s ServerStats) Flags() Flag {
	var f Flag
	if s.Updating {
		f |= FlagUpdating
	}
	if s.WaitingStart {
		f |= FlagWaitingStart
	}
	if s.FirstRun {
		f |= FlagFirstRun
	}
	if s.Crashed {
		f |= FlagCrashed
	}
	if s.Downloading {
		f |= FlagDownloading
	}
	return f
}

// ServerRef is the stats "server_id" field. Crafty returns either the full
// server object or a bare id; the raw JSON is kept for re-encoding.
type ServerRef struct {
	ID         string
	ServerName string
	Name       string
	raw        json.RawMessage
}

func (r *ServerRef) UnmarshalJSON(b []byte) error {
	*r = ServerRef{raw: append(json.RawMessage(nil), b...)}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	switch b[0] {
	case '{':
		// Only string-valued names count; other shapes are ignored.
		var m map[string]json.RawMessage
		if err := json.Unmarshal(b, &m); err != nil {
			return err
		}
		r.ServerName = stringField(m, "server_name")
		r.Name = stringField(m, "name")
		var id FlexString
		if v, ok := m["server_id"]; ok && json.Unmarshal(v, &id) == nil {
			r.ID = string(id)
		}
	default:
		var id FlexString
		if err := json.Unmarshal(b, &id); err != nil {
			return fmt.Errorf("server_id: %w", err)
		}
		r.ID = string(id)
	}
	return nil
}

func (r ServerRef) MarshalJSON() ([]byte, error) {
	if len(r.raw) > 0 {
		return r.raw, nil
	}
	if r.ServerName == "" && r.Name == "" {
		if r.ID == "" {
			return []byte("null"), nil
		}
		return json.Marshal(r.ID)
	}
	return json.Marshal(map[string]string{"server_id": r.ID, "server_name": r.ServerName, "name": r.Name})
}

func stringField(m map[string]json.RawMessage, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	var s string
	if json.Unmarshal(v, &s) != nil {
		return ""
	}
	return s
}

// Timestamp accepts RFC 3339 and the zone-less ISO layouts Crafty emits.
// Unparseable values decode as the zero time instead of failing the fetch.
type Timestamp struct{ time.Time }

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	t.Time = time.Time{}
	var s string
	if json.Unmarshal(b, &s) != nil || strings.TrimSpace(s) == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if v, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			t.Time = v
			return nil
		}
	}
	return nil
}

// FlexString accepts a JSON string or number. Numbers keep a locale-free
// shortest representation ("1.5", "2048").
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*f = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
	case b[0] == '-' || (b[0] >= '0' && b[0] <= '9'):
		v, err := strconv.ParseFloat(string(b), 64)
		if err != nil {
			return err
		}
		*f = FlexString(strconv.FormatFloat(v, 'f', -1, 64))
	default:
		return fmt.Errorf("unexpected JSON token %q", strings.TrimSpace(string(b[:1])))
	}
	return nil
}
