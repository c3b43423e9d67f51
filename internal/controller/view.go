package controller

import (
	"time"

	"github.com/DCabral11/cj-digital-bp/internal/apperr"
	"github.com/DCabral11/cj-digital-bp/internal/score"
	"github.com/DCabral11/cj-digital-bp/internal/session"
	"github.com/DCabral11/cj-digital-bp/pkg/types"
)

// DisplayLayout is the pt-PT date-time rendering used in the history table.
const DisplayLayout = "02/01/2006, 15:04:05"

func (s State) board() score.Board {
	return score.Board{
		Teams:       s.Teams,
		Stations:    s.Stations,
		Submissions: s.Submissions,
		AccessLogs:  s.AccessLogs,
	}
}

// render derives the view for the active session. Pure.
func render(s State, version int, loc *time.Location) types.View {
	v := types.View{Version: version, Ready: s.Ready}
	if s.BootErr != nil {
		v.BootError = apperr.Message(apperr.Bootstrap(s.BootErr))
	}
	if !s.LoggedIn {
		return v
	}

	b := s.board()
	v.Role = string(s.Session.Role)
	switch s.Session.Role {
	case session.RoleTeam:
		team := s.Session.Team
		tv := &types.TeamView{
			ID:       team.ID,
			Name:     team.TeamName,
			Score:    b.TeamScore(team.ID),
			Stations: []types.StationTile{},
		}
		for _, st := range b.StationsFor(team.ID) {
			tv.Stations = append(tv.Stations, types.StationTile{ID: st.ID, Label: st.Label, Done: st.Done})
		}
		v.Team = tv

	case session.RoleAdmin:
		av := &types.AdminView{
			Ranking: []types.RankingRow{},
			History: []types.HistoryRow{},
			Devices: []types.DeviceRow{},
		}
		for _, r := range b.Ranking() {
			av.Ranking = append(av.Ranking, types.RankingRow{Position: r.Position, TeamID: r.TeamID, Name: r.Name, Score: r.Score})
		}
		for _, h := range b.History() {
			av.History = append(av.History, types.HistoryRow{
				ID:        h.ID,
				Timestamp: h.Timestamp,
				When:      h.At.In(loc).Format(DisplayLayout),
				Team:      h.TeamName,
				Game:      h.GameID,
				Points:    h.Points,
			})
		}
		for _, d := range b.DeviceAudit() {
			av.Devices = append(av.Devices, types.DeviceRow{
				TeamID:      d.TeamID,
				TeamName:    d.TeamName,
				Logins:      d.Logins,
				Devices:     d.Devices,
				LastSeen:    d.LastSeen,
				MultiDevice: d.MultiDevice,
			})
		}
		v.Admin = av
	}
	return v
}
