package score

import (
	"sort"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// DeviceAuditRow summarises the logins of one team. MultiDevice flags teams
// that logged in from more than one device.
type DeviceAuditRow struct {
	TeamID      string
	TeamName    string
	Logins      int
	Devices     []string
	LastSeen    string
	MultiDevice bool
}

// DeviceAudit groups access logs per team. Every catalog team gets a row,
// plus one per unknown team id found in the logs.
func (b Board) DeviceAudit() []DeviceAuditRow {
	names := b.teamNames()
	rows := make(map[string]*DeviceAuditRow, len(b.Teams))
	devices := make(map[string]map[string]bool)
	lastSeen := make(map[string]time.Time)

	row := func(teamID string) *DeviceAuditRow {
		r, ok := rows[teamID]
		if !ok {
			r = &DeviceAuditRow{TeamID: teamID, TeamName: fallback(names[teamID], teamID)}
			rows[teamID] = r
			devices[teamID] = map[string]bool{}
		}
		return r
	}

	for _, t := range b.Teams {
		row(t.ID)
	}
	for _, e := range b.AccessLogs {
		r := row(e.TeamID)
		r.Logins++
		if e.DeviceID != "" {
			devices[e.TeamID][e.DeviceID] = true
		}
		if at := ParseTimestamp(e.Timestamp); r.LastSeen == "" || at.After(lastSeen[e.TeamID]) {
			r.LastSeen = e.Timestamp
			lastSeen[e.TeamID] = at
		}
	}

	out := make([]DeviceAuditRow, 0, len(rows))
	for id, r := range rows {
		for d := range devices[id] {
			r.Devices = append(r.Devices, d)
		}
		sort.Strings(r.Devices)
		r.MultiDevice = len(r.Devices) > 1
		out = append(out, *r)
	}

	c := collate.New(language.Portuguese)
	sort.Slice(out, func(i, j int) bool {
		if r := c.CompareString(out[i].TeamName, out[j].TeamName); r != 0 {
			return r < 0
		}
		return out[i].TeamID < out[j].TeamID
	})
	return out
}
