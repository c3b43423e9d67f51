package record

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

const (
	RoleTeam  = "team"
	RoleAdmin = "admin"
)

// Team is one entry of the `equipas` catalog. Password is compared as-is.
type Team struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Password string `json:"-"`
	TeamName string `json:"teamName"`
	Role     string `json:"role"`
}

func (t Team) IsTeam() bool { return strings.EqualFold(t.Role, RoleTeam) }

// Admin is the single admin credential.
type Admin struct {
	Username string
	Password string
}

// Station is one entry of the `postos` catalog. The PIN is never held here;
// it is fetched on demand when a submission is validated.
type Station struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type teamPayload struct {
	Username      flexString `json:"username"`
	Password      flexString `json:"password"`
	TeamNameSnake flexString `json:"team_name"`
	TeamName      flexString `json:"teamName"`
	Role          flexString `json:"role"`
}

// DecodeTeams decodes every `equipas` entry, admins included, ordered by id.
func DecodeTeams(raw json.RawMessage) ([]Team, error) {
	top, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}

	teams := make([]Team, 0, len(top))
	for _, id := range sortedKeys(top) {
		if !isObject(top[id]) {
			continue
		}
		var p teamPayload
		if err := json.Unmarshal(top[id], &p); err != nil {
			return nil, fmt.Errorf("%w: team %q: %v", ErrUndecodable, id, err)
		}
		teams = append(teams, Team{
			ID:       id,
			Username: string(p.Username),
			Password: string(p.Password),
			TeamName: firstNonEmpty(string(p.TeamNameSnake), string(p.TeamName), id),
			Role:     firstNonEmpty(string(p.Role), RoleTeam),
		})
	}
	return teams, nil
}

// OnlyTeams drops catalog entries whose role is not "team".
func OnlyTeams(members []Team) []Team {
	teams := make([]Team, 0, len(members))
	for _, m := range members {
		if m.IsTeam() {
			teams = append(teams, m)
		}
	}
	return teams
}

// AdminFromTeams is the legacy admin discovery: the first catalog entry
// flagged with role "admin".
func AdminFromTeams(members []Team) (*Admin, bool) {
	for _, m := range members {
		if strings.EqualFold(m.Role, RoleAdmin) {
			return &Admin{Username: m.Username, Password: m.Password}, true
		}
	}
	return nil, false
}

type adminPayload struct {
	Username flexString `json:"username"`
	Password flexString `json:"password"`
}

// DecodeAdmin decodes the `admin` node, either a single credential record or a
// mapping holding one. It returns nil when no credential is present.
func DecodeAdmin(raw json.RawMessage) (*Admin, error) {
	top, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	if _, ok := top["username"]; ok {
		return decodeAdminRecord(raw)
	}
	for _, k := range sortedKeys(top) {
		if !isObject(top[k]) {
			continue
		}
		a, err := decodeAdminRecord(top[k])
		if err != nil {
			return nil, err
		}
		if a != nil {
			return a, nil
		}
	}
	return nil, nil
}

func decodeAdminRecord(raw json.RawMessage) (*Admin, error) {
	var p adminPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: admin: %v", ErrUndecodable, err)
	}
	if p.Username == "" {
		return nil, nil
	}
	return &Admin{Username: string(p.Username), Password: string(p.Password)}, nil
}

type stationPayload struct {
	GameLabel flexString `json:"game_label"`
}

// DecodeStations decodes the `postos` catalog in display order.
func DecodeStations(raw json.RawMessage) ([]Station, error) {
	top, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}

	stations := make([]Station, 0, len(top))
	for _, id := range sortedKeys(top) {
		var p stationPayload
		if isObject(top[id]) {
			if err := json.Unmarshal(top[id], &p); err != nil {
				return nil, fmt.Errorf("%w: station %q: %v", ErrUndecodable, id, err)
			}
		}
		stations = append(stations, Station{
			ID:    id,
			Label: firstNonEmpty(string(p.GameLabel), "P"+id),
		})
	}
	SortStations(stations)
	return stations, nil
}

// SortStations orders stations by label with numeric-aware Portuguese
// collation, so "P2" sorts before "P10".
func SortStations(stations []Station) {
	c := collate.New(language.Portuguese, collate.Numeric)
	sort.SliceStable(stations, func(i, j int) bool {
		if r := c.CompareString(stations[i].Label, stations[j].Label); r != 0 {
			return r < 0
		}
		return c.CompareString(stations[i].ID, stations[j].ID) < 0
	})
}

// DecodePIN decodes a station PIN node. Numeric PINs are accepted.
func DecodePIN(raw json.RawMessage) (string, bool) {
	if isAbsent(raw) || isObject(raw) {
		return "", false
	}
	var pin flexString
	if err := json.Unmarshal(raw, &pin); err != nil {
		return "", false
	}
	return string(pin), pin != ""
}
