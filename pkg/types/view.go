// Package types holds the JSON payloads the renderer receives.
package types

// View is the full renderable state for the active session. Every change is a
// new View with a higher Version; renderers replace, never patch.
//
// Role is "" while logged out, then "team" or "admin". Exactly one of Team
// and Admin is set once logged in.
type View struct {
	Version   int        `json:"version"`
	Ready     bool       `json:"ready"`
	BootError string     `json:"boot_error,omitempty"`
	Role      string     `json:"role"`
	Team      *TeamView  `json:"team,omitempty"`
	Admin     *AdminView `json:"admin,omitempty"`
}

// TeamView:
//   name, score
//   stations: tile grid in catalog order, done once the team has a submission
type TeamView struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Score    int           `json:"score"`
	Stations []StationTile `json:"stations"`
}

type StationTile struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Done  bool   `json:"done"`
}

type AdminView struct {
	Ranking []RankingRow `json:"ranking"`
	History []HistoryRow `json:"history"`
	Devices []DeviceRow  `json:"devices"`
}

type RankingRow struct {
	Position int    `json:"position"`
	TeamID   string `json:"team_id"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
}

// HistoryRow carries the stored ISO timestamp and its pt-PT rendering.
type HistoryRow struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	When      string `json:"when"`
	Team      string `json:"team"`
	Game      string `json:"game"`
	Points    int    `json:"points"`
}

type DeviceRow struct {
	TeamID      string   `json:"team_id"`
	TeamName    string   `json:"team_name"`
	Logins      int      `json:"logins"`
	Devices     []string `json:"devices"`
	LastSeen    string   `json:"last_seen,omitempty"`
	MultiDevice bool     `json:"multi_device"`
}

// SubmitResult answers POST /submissions.
type SubmitResult struct {
	Points  int    `json:"points"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
