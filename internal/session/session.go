// Package session authenticates users against the fetched catalog and keeps
// the device-local session descriptor and device id.
package session

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DCabral11/cj-digital-bp/internal/localstate"
	"github.com/DCabral11/cj-digital-bp/internal/record"
)

type Role string

const (
	RoleAdmin Role = record.RoleAdmin
	RoleTeam  Role = record.RoleTeam
)

// Session is the authenticated identity of this process. Team is set only
// for RoleTeam.
type Session struct {
	Role Role
	Team *record.Team
}

// TeamID returns the id of the logged-in team, or "" for admins.
func (s Session) TeamID() string {
	if s.Team == nil {
		return ""
	}
	return s.Team.ID
}

// Authenticate matches credentials exactly: the admin record first, then the
// team list in order. No case folding.
func Authenticate(admin *record.Admin, teams []record.Team, username, password string) (Session, bool) {
	if admin != nil && username == admin.Username && password == admin.Password {
		return Session{Role: RoleAdmin}, true
	}
	for i := range teams {
		if teams[i].Username == username && teams[i].Password == password {
			team := teams[i]
			return Session{Role: RoleTeam, Team: &team}, true
		}
	}
	return Session{}, false
}

// descriptor is what survives a restart: never a password, never a full team.
type descriptor struct {
	Role   Role   `json:"role"`
	TeamID string `json:"teamId,omitempty"`
}

type Store struct {
	slots  localstate.Slots
	logger *zap.Logger
	newID  func() string
}

func NewStore(slots localstate.Slots, logger *zap.Logger) *Store {
	return &Store{
		slots:  slots,
		logger: logger.Named("session"),
		newID:  func() string { return uuid.NewString() },
	}
}

func (s *Store) Persist(sess Session) error {
	b, err := json.Marshal(descriptor{Role: sess.Role, TeamID: sess.TeamID()})
	if err != nil {
		return err
	}
	return s.slots.Set(localstate.SlotSession, string(b))
}

// Restore rebuilds the persisted session against the live catalog. Any
// failure falls back to logged-out and drops the stale descriptor.
func (s *Store) Restore(admin *record.Admin, teams []record.Team) (Session, bool) {
	raw, ok, err := s.slots.Get(localstate.SlotSession)
	if err != nil {
		s.logger.Warn("read persisted session", zap.Error(err))
		return Session{}, false
	}
	if !ok {
		return Session{}, false
	}

	var d descriptor
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		s.logger.Warn("discarding unreadable session descriptor", zap.Error(err))
		s.discard()
		return Session{}, false
	}

	switch d.Role {
	case RoleAdmin:
		if admin != nil {
			return Session{Role: RoleAdmin}, true
		}
	case RoleTeam:
		for i := range teams {
			if teams[i].ID == d.TeamID {
				team := teams[i]
				return Session{Role: RoleTeam, Team: &team}, true
			}
		}
	}

	s.logger.Info("persisted session no longer resolves",
		zap.String("role", string(d.Role)),
		zap.String("team_id", d.TeamID))
	s.discard()
	return Session{}, false
}

func (s *Store) Clear() error {
	return s.slots.Delete(localstate.SlotSession)
}

func (s *Store) discard() {
	if err := s.Clear(); err != nil {
		s.logger.Warn("clear persisted session", zap.Error(err))
	}
}

// DeviceID returns this device's id, generating and persisting it on first use.
func (s *Store) DeviceID() (string, error) {
	id, ok, err := s.slots.Get(localstate.SlotDeviceID)
	if err != nil {
		return "", fmt.Errorf("read device id: %w", err)
	}
	if ok && id != "" {
		return id, nil
	}

	id = s.newID()
	if err := s.slots.Set(localstate.SlotDeviceID, id); err != nil {
		return "", fmt.Errorf("persist device id: %w", err)
	}
	s.logger.Info("generated device id", zap.String("device_id", id))
	return id, nil
}
