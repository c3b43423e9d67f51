// Package record decodes the shapes persisted in the remote store into the
// canonical in-memory rows used by the rest of the client.
package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// TimestampLayout matches the millisecond ISO-8601 form written by browsers.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Submission is the canonical row every submission wire shape decodes to.
type Submission struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Posto     string `json:"posto"`
	Equipa    string `json:"equipa"`
	Pontos    int    `json:"pontos"`
}

// FlatRecord is the current wire shape, stored under the submission id.
type FlatRecord struct {
	Timestamp string `json:"timestamp"`
	Posto     string `json:"posto"`
	Equipa    string `json:"equipa"`
	Pontos    int    `json:"pontos"`
}

// PairID is the id shared by both shapes for one (team, station) pair.
func PairID(teamID, stationID string) string {
	return teamID + "_" + stationID
}

// payloadFields are the keys whose presence marks a flat record rather than a
// legacy team node.
var payloadFields = []string{"timestamp", "posto", "gameId", "equipa", "teamId", "pontos", "points"}

type submissionPayload struct {
	ID        flexString `json:"id"`
	Timestamp flexString `json:"timestamp"`
	Posto     flexString `json:"posto"`
	GameID    flexString `json:"gameId"`
	Equipa    flexString `json:"equipa"`
	TeamID    flexString `json:"teamId"`
	Pontos    *flexInt   `json:"pontos"`
	Points    *flexInt   `json:"points"`
}

func (p submissionPayload) points() int {
	switch {
	case p.Pontos != nil:
		return int(*p.Pontos)
	case p.Points != nil:
		return int(*p.Points)
	}
	return 0
}

// NormalizeSubmissions decodes a full `submissions` snapshot. Each top-level
// entry is a flat record when it carries a payload field, otherwise a legacy
// team node (station -> payload). Both shapes may appear in one snapshot. An
// entry matching neither is an ErrUndecodable error. Rows are returned ordered
// by id.
func NormalizeSubmissions(raw json.RawMessage) ([]Submission, error) {
	top, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	if len(top) == 0 {
		return nil, nil
	}

	var rows []Submission
	for _, key := range sortedKeys(top) {
		if isFlat(top[key]) {
			row, err := decodeFlat(key, top[key])
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
			continue
		}
		nested, err := decodeNested(key, top[key])
		if err != nil {
			return nil, err
		}
		rows = append(rows, nested...)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows, nil
}

// NestedTeam reports whether the snapshot holds a legacy team node for
// teamID. New submissions for such a team go under that node so every pair
// of the team keeps a single write key.
func NestedTeam(raw json.RawMessage, teamID string) bool {
	top, err := decodeObject(raw)
	if err != nil {
		return false
	}
	v, ok := top[teamID]
	return ok && isObject(v) && !isFlat(v)
}

func isFlat(v json.RawMessage) bool {
	if !isObject(v) {
		return false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(v, &fields); err != nil {
		return false
	}
	for _, f := range payloadFields {
		if _, ok := fields[f]; ok {
			return true
		}
	}
	return false
}

func decodeFlat(key string, raw json.RawMessage) (Submission, error) {
	p, err := decodePayload(raw)
	if err != nil {
		return Submission{}, fmt.Errorf("%w: flat record %q: %v", ErrUndecodable, key, err)
	}
	return Submission{
		ID:        firstNonEmpty(string(p.ID), key),
		Timestamp: string(p.Timestamp),
		Posto:     firstNonEmpty(string(p.Posto), string(p.GameID)),
		Equipa:    firstNonEmpty(string(p.Equipa), string(p.TeamID)),
		Pontos:    p.points(),
	}, nil
}

func decodeNested(teamID string, raw json.RawMessage) ([]Submission, error) {
	stations, err := decodeObject(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: team %q is not a station map", ErrUndecodable, teamID)
	}
	rows := make([]Submission, 0, len(stations))
	for _, stationID := range sortedKeys(stations) {
		p, err := decodePayload(stations[stationID])
		if err != nil {
			return nil, fmt.Errorf("%w: %s/%s: %v", ErrUndecodable, teamID, stationID, err)
		}
		rows = append(rows, Submission{
			ID:        PairID(teamID, stationID),
			Timestamp: string(p.Timestamp),
			Posto:     stationID,
			Equipa:    teamID,
			Pontos:    p.points(),
		})
	}
	return rows, nil
}

func decodePayload(raw json.RawMessage) (submissionPayload, error) {
	var p submissionPayload
	if !isObject(raw) {
		return p, errors.New("expected object")
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, err
	}
	return p, nil
}

// ToFlat renders canonical rows in the flat wire shape, keyed by id.
func ToFlat(rows []Submission) map[string]FlatRecord {
	out := make(map[string]FlatRecord, len(rows))
	for _, r := range rows {
		out[r.ID] = r.Flat()
	}
	return out
}

func (s Submission) Flat() FlatRecord {
	return FlatRecord{Timestamp: s.Timestamp, Posto: s.Posto, Equipa: s.Equipa, Pontos: s.Pontos}
}
