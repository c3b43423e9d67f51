package score

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DCabral11/cj-digital-bp/internal/record"
)

func sub(team, station string, pts int, ts string) record.Submission {
	return record.Submission{ID: record.PairID(team, station), Equipa: team, Posto: station, Pontos: pts, Timestamp: ts}
}

func TestTeamScore(t *testing.T) {
	b := Board{Submissions: []record.Submission{
		sub("T1", "P1", 100, "2024-01-01T10:00:00Z"),
		sub("T1", "P2", 0, "2024-01-01T10:10:00Z"),
		sub("T1", "P3", 100, "2024-01-01T10:20:00Z"),
		sub("T2", "P1", 100, "2024-01-01T10:30:00Z"),
	}}

	cases := []struct {
		team string
		want int
	}{
		{team: "T1", want: 200},
		{team: "T2", want: 100},
		{team: "T3", want: 0},
		{team: "", want: 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, b.TeamScore(tc.team), "team %q", tc.team)
	}
}

func TestRanking_TiesBrokenByName(t *testing.T) {
	b := Board{
		Teams: []record.Team{
			{ID: "A", TeamName: "Zeta"},
			{ID: "B", TeamName: "Alfa"},
			{ID: "C", TeamName: "Meio"},
		},
		Submissions: []record.Submission{
			sub("A", "P1", 100, ""), sub("B", "P1", 100, ""),
			sub("C", "P1", 0, ""),
		},
	}

	rows := b.Ranking()
	require.Len(t, rows, 3)
	assert.Equal(t, RankingRow{Position: 1, TeamID: "B", Name: "Alfa", Score: 100}, rows[0])
	assert.Equal(t, RankingRow{Position: 2, TeamID: "A", Name: "Zeta", Score: 100}, rows[1])
	assert.Equal(t, RankingRow{Position: 3, TeamID: "C", Name: "Meio", Score: 0}, rows[2])
}

func TestRanking_DeterministicForEqualNames(t *testing.T) {
	b := Board{Teams: []record.Team{
		{ID: "T2", TeamName: "Lobos"},
		{ID: "T1", TeamName: "Lobos"},
		{ID: "T3", TeamName: "lobos"},
	}}

	first := b.Ranking()
	b.Teams[0], b.Teams[2] = b.Teams[2], b.Teams[0]
	assert.Equal(t, first, b.Ranking())
}

func TestHistory(t *testing.T) {
	b := Board{
		Teams:    []record.Team{{ID: "T1", TeamName: "Lobos"}},
		Stations: []record.Station{{ID: "1", Label: "P01"}},
		Submissions: []record.Submission{
			sub("T1", "1", 100, "2024-01-01T10:00:00.000Z"),
			sub("T9", "7", 0, "2024-01-01T12:00:00.000Z"),
			sub("T1", "2", 100, "not a date"),
		},
	}

	rows := b.History()
	require.Len(t, rows, 3)

	assert.Equal(t, "T9", rows[0].TeamName, "unknown team falls back to its id")
	assert.Equal(t, "7", rows[0].GameID)
	assert.Equal(t, "Lobos", rows[1].TeamName)
	assert.Equal(t, "P01", rows[1].GameID)
	assert.Equal(t, "not a date", rows[2].Timestamp, "unparsable timestamps sort last")
	assert.Equal(t, int64(0), rows[2].At.Unix())
}

func TestStationsFor(t *testing.T) {
	b := Board{
		Stations: []record.Station{{ID: "1", Label: "P1"}, {ID: "2", Label: "P2"}},
		Submissions: []record.Submission{
			sub("T1", "2", 100, ""),
			sub("T2", "1", 100, ""),
		},
	}

	assert.Equal(t, []StationStatus{
		{ID: "1", Label: "P1", Done: false},
		{ID: "2", Label: "P2", Done: true},
	}, b.StationsFor("T1"))
}

func TestDeviceAudit(t *testing.T) {
	b := Board{
		Teams: []record.Team{{ID: "T1", TeamName: "Lobos"}, {ID: "T2", TeamName: "Águias"}},
		AccessLogs: []record.AccessLogEntry{
			{ID: "a1", TeamID: "T1", Timestamp: "2024-01-01T10:00:00.000Z", DeviceID: "d1"},
			{ID: "a2", TeamID: "T1", Timestamp: "2024-01-01T11:00:00.000Z", DeviceID: "d2"},
			{ID: "a3", TeamID: "T1", Timestamp: "2024-01-01T09:00:00.000Z", DeviceID: "d1"},
			{ID: "a4", TeamID: "T5", Timestamp: "2024-01-01T09:30:00.000Z", DeviceID: "d9"},
		},
	}

	rows := b.DeviceAudit()
	require.Len(t, rows, 3)

	assert.Equal(t, DeviceAuditRow{TeamID: "T2", TeamName: "Águias"}, rows[0])
	assert.Equal(t, DeviceAuditRow{
		TeamID:      "T1",
		TeamName:    "Lobos",
		Logins:      3,
		Devices:     []string{"d1", "d2"},
		LastSeen:    "2024-01-01T11:00:00.000Z",
		MultiDevice: true,
	}, rows[1])
	assert.Equal(t, "T5", rows[2].TeamName)
	assert.False(t, rows[2].MultiDevice)
}
