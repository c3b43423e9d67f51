// Package score derives rankings, history and audit views from canonical rows.
// Every function is pure: the same Board always yields the same output.
package score

import (
	"sort"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/DCabral11/cj-digital-bp/internal/record"
)

// Board is the canonical state the aggregator reads.
type Board struct {
	Teams       []record.Team
	Stations    []record.Station
	Submissions []record.Submission
	AccessLogs  []record.AccessLogEntry
}

type RankingRow struct {
	Position int
	TeamID   string
	Name     string
	Score    int
}

type HistoryRow struct {
	ID        string
	Timestamp string
	At        time.Time
	TeamName  string
	GameID    string
	Points    int
}

type StationStatus struct {
	ID    string
	Label string
	Done  bool
}

// TeamScore sums the points of every submission made by teamID.
func (b Board) TeamScore(teamID string) int {
	total := 0
	for _, s := range b.Submissions {
		if s.Equipa == teamID {
			total += s.Pontos
		}
	}
	return total
}

// Ranking lists every team by score descending, ties by name ascending.
func (b Board) Ranking() []RankingRow {
	rows := make([]RankingRow, 0, len(b.Teams))
	for _, t := range b.Teams {
		rows = append(rows, RankingRow{TeamID: t.ID, Name: t.TeamName, Score: b.TeamScore(t.ID)})
	}

	c := collate.New(language.Portuguese)
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		if r := c.CompareString(rows[i].Name, rows[j].Name); r != 0 {
			return r < 0
		}
		if rows[i].Name != rows[j].Name {
			return rows[i].Name < rows[j].Name
		}
		return rows[i].TeamID < rows[j].TeamID
	})

	for i := range rows {
		rows[i].Position = i + 1
	}
	return rows
}

// History lists every submission newest first. Unknown teams and stations
// fall back to their raw ids; unparsable timestamps sort as the epoch.
func (b Board) History() []HistoryRow {
	names := b.teamNames()
	labels := make(map[string]string, len(b.Stations))
	for _, s := range b.Stations {
		labels[s.ID] = s.Label
	}

	rows := make([]HistoryRow, 0, len(b.Submissions))
	for _, s := range b.Submissions {
		rows = append(rows, HistoryRow{
			ID:        s.ID,
			Timestamp: s.Timestamp,
			At:        ParseTimestamp(s.Timestamp),
			TeamName:  fallback(names[s.Equipa], s.Equipa),
			GameID:    fallback(labels[s.Posto], s.Posto),
			Points:    s.Pontos,
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].At.Equal(rows[j].At) {
			return rows[i].At.After(rows[j].At)
		}
		return rows[i].ID < rows[j].ID
	})
	return rows
}

// StationsFor lists the catalog in display order, marking the stations teamID
// has already scored.
func (b Board) StationsFor(teamID string) []StationStatus {
	done := make(map[string]bool)
	for _, s := range b.Submissions {
		if s.Equipa == teamID {
			done[s.Posto] = true
		}
	}

	out := make([]StationStatus, 0, len(b.Stations))
	for _, st := range b.Stations {
		out = append(out, StationStatus{ID: st.ID, Label: st.Label, Done: done[st.ID]})
	}
	return out
}

func (b Board) teamNames() map[string]string {
	names := make(map[string]string, len(b.Teams))
	for _, t := range b.Teams {
		names[t.ID] = t.TeamName
	}
	return names
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses the ISO-8601 variants found in the store. Anything
// else maps to the Unix epoch.
func ParseTimestamp(s string) time.Time {
	for _, l := range timestampLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t
		}
	}
	return time.Unix(0, 0).UTC()
}

func fallback(v, d string) string {
	if v == "" {
		return d
	}
	return v
}
