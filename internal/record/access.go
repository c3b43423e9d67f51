package record

import (
	"encoding/json"
	"sort"
)

// AccessLogEntry is one device-tagged team login.
type AccessLogEntry struct {
	ID        string `json:"id"`
	TeamID    string `json:"teamId"`
	Timestamp string `json:"timestamp"`
	DeviceID  string `json:"deviceId"`
	UA        string `json:"ua"`
}

type accessPayload struct {
	TeamID    flexString `json:"teamId"`
	Equipa    flexString `json:"equipa"`
	Timestamp flexString `json:"timestamp"`
	DeviceID  flexString `json:"deviceId"`
	UA        flexString `json:"ua"`
}

// NormalizeAccessLogs decodes an `access_logs` snapshot, dropping entries
// without a team id or a timestamp. Entries are ordered by timestamp, then id.
func NormalizeAccessLogs(raw json.RawMessage) ([]AccessLogEntry, error) {
	top, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}

	entries := make([]AccessLogEntry, 0, len(top))
	for _, id := range sortedKeys(top) {
		if !isObject(top[id]) {
			continue
		}
		var p accessPayload
		if err := json.Unmarshal(top[id], &p); err != nil {
			continue
		}
		e := AccessLogEntry{
			ID:        id,
			TeamID:    firstNonEmpty(string(p.TeamID), string(p.Equipa)),
			Timestamp: string(p.Timestamp),
			DeviceID:  string(p.DeviceID),
			UA:        string(p.UA),
		}
		if e.TeamID == "" || e.Timestamp == "" {
			continue
		}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Timestamp != entries[j].Timestamp {
			return entries[i].Timestamp < entries[j].Timestamp
		}
		return entries[i].ID < entries[j].ID
	})
	return entries, nil
}

// AccessPayload is the wire shape appended for every team login.
type AccessPayload struct {
	TeamID    string `json:"teamId"`
	Timestamp string `json:"timestamp"`
	DeviceID  string `json:"deviceId"`
	UA        string `json:"ua"`
}
