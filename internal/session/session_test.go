package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DCabral11/cj-digital-bp/internal/localstate"
	"github.com/DCabral11/cj-digital-bp/internal/record"
)

var (
	admin = &record.Admin{Username: "admin", Password: "segredo"}
	teams = []record.Team{
		{ID: "T1", Username: "lobos", Password: "1234", TeamName: "Lobos", Role: "team"},
		{ID: "T2", Username: "aguias", Password: "1234", TeamName: "Águias", Role: "team"},
		{ID: "T3", Username: "lobos", Password: "1234", TeamName: "Duplicado", Role: "team"},
	}
)

func TestAuthenticate(t *testing.T) {
	cases := []struct {
		name     string
		username string
		password string
		wantOK   bool
		wantRole Role
		wantTeam string
	}{
		{name: "admin", username: "admin", password: "segredo", wantOK: true, wantRole: RoleAdmin},
		{name: "team", username: "aguias", password: "1234", wantOK: true, wantRole: RoleTeam, wantTeam: "T2"},
		{name: "first match wins", username: "lobos", password: "1234", wantOK: true, wantRole: RoleTeam, wantTeam: "T1"},
		{name: "no case folding", username: "Lobos", password: "1234"},
		{name: "wrong password", username: "lobos", password: "12345"},
		{name: "admin wrong password", username: "admin", password: "SEGREDO"},
		{name: "empty", username: "", password: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sess, ok := Authenticate(admin, teams, tc.username, tc.password)
			require.Equal(t, tc.wantOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, tc.wantRole, sess.Role)
			assert.Equal(t, tc.wantTeam, sess.TeamID())
		})
	}
}

func TestAuthenticate_NoAdminRecord(t *testing.T) {
	_, ok := Authenticate(nil, teams, "admin", "segredo")
	assert.False(t, ok)
}

func TestStore_PersistRestoreClear(t *testing.T) {
	slots := localstate.NewMemory()
	s := NewStore(slots, zaptest.NewLogger(t))

	team := teams[1]
	require.NoError(t, s.Persist(Session{Role: RoleTeam, Team: &team}))

	raw, ok, err := slots.Get(localstate.SlotSession)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"role":"team","teamId":"T2"}`, raw, "only role and team id are persisted")

	renamed := append([]record.Team(nil), teams...)
	renamed[1].TeamName = "Águias Reais"
	sess, ok := s.Restore(admin, renamed)
	require.True(t, ok)
	assert.Equal(t, "Águias Reais", sess.Team.TeamName, "restore re-resolves against the live catalog")

	require.NoError(t, s.Clear())
	_, ok = s.Restore(admin, teams)
	assert.False(t, ok)
}

func TestStore_RestoreUnknownTeamFallsBackToLoggedOut(t *testing.T) {
	slots := localstate.NewMemory()
	require.NoError(t, slots.Set(localstate.SlotSession, `{"role":"team","teamId":"T9"}`))
	s := NewStore(slots, zaptest.NewLogger(t))

	_, ok := s.Restore(admin, teams)
	assert.False(t, ok)

	_, present, err := slots.Get(localstate.SlotSession)
	require.NoError(t, err)
	assert.False(t, present, "stale descriptor is dropped")
}

func TestStore_RestoreBeforeCatalogLoaded(t *testing.T) {
	slots := localstate.NewMemory()
	require.NoError(t, slots.Set(localstate.SlotSession, `{"role":"team","teamId":"T1"}`))
	s := NewStore(slots, zaptest.NewLogger(t))

	_, ok := s.Restore(nil, nil)
	assert.False(t, ok)
}

func TestStore_RestoreGarbage(t *testing.T) {
	slots := localstate.NewMemory()
	require.NoError(t, slots.Set(localstate.SlotSession, `{not json`))
	s := NewStore(slots, zaptest.NewLogger(t))

	_, ok := s.Restore(admin, teams)
	assert.False(t, ok)
}

func TestStore_RestoreAdmin(t *testing.T) {
	slots := localstate.NewMemory()
	s := NewStore(slots, zaptest.NewLogger(t))
	require.NoError(t, s.Persist(Session{Role: RoleAdmin}))

	sess, ok := s.Restore(admin, teams)
	require.True(t, ok)
	assert.Equal(t, RoleAdmin, sess.Role)
	assert.Nil(t, sess.Team)
}

func TestStore_DeviceIDIsStable(t *testing.T) {
	slots := localstate.NewMemory()
	s := NewStore(slots, zaptest.NewLogger(t))

	first, err := s.DeviceID()
	require.NoError(t, err)
	require.NotEmpty(t, first)

	again, err := NewStore(slots, zaptest.NewLogger(t)).DeviceID()
	require.NoError(t, err)
	assert.Equal(t, first, again)
}
