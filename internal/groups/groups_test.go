package groups

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mj1618/support-roster/internal/logger"
	"github.com/mj1618/support-roster/internal/model"
	"github.com/mj1618/support-roster/internal/store"
)

func newStore(t *testing.T) (*Store, *store.Memory) {
	t.Helper()
	backend := store.NewMemory()
	return Open(context.Background(), backend, logger.Nop()), backend
}

func TestCreateGroup_NameRules(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	g, err := s.CreateGroup(ctx, "  Hospital A ", "")
	require.NoError(t, err)
	assert.Equal(t, "Hospital A", g.Name)
	assert.NotEmpty(t, g.Color)
	assert.NotEmpty(t, g.ID)

	_, err = s.CreateGroup(ctx, "hospital a", "")
	assert.ErrorIs(t, err, ErrDuplicateName)

	_, err = s.CreateGroup(ctx, "   ", "")
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = s.CreateGroup(ctx, strings.Repeat("x", model.MaxGroupNameLen+1), "")
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = s.CreateGroup(ctx, strings.Repeat("가", model.MaxGroupNameLen), "")
	assert.NoError(t, err, "limit counts characters, not bytes")
}

func TestRenameGroup(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	a, err := s.CreateGroup(ctx, "Alpha", "")
	require.NoError(t, err)
	_, err = s.CreateGroup(ctx, "Beta", "")
	require.NoError(t, err)

	assert.ErrorIs(t, s.RenameGroup(ctx, a.ID, "BETA"), ErrDuplicateName)
	assert.NoError(t, s.RenameGroup(ctx, a.ID, "ALPHA"), "renaming to own name in another case is allowed")
	assert.ErrorIs(t, s.RenameGroup(ctx, "missing", "Gamma"), ErrGroupNotFound)

	got, ok := s.Group(a.ID)
	require.True(t, ok)
	assert.Equal(t, "ALPHA", got.Name)
}

func TestAssign_IsExclusive(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	a, _ := s.CreateGroup(ctx, "A", "")
	b, _ := s.CreateGroup(ctx, "B", "")

	require.NoError(t, s.Assign(ctx, "teamviewer_PC1", "ep1", a.ID))
	require.NoError(t, s.Assign(ctx, "teamviewer_PC1", "ep1", b.ID))

	ga, _ := s.Group(a.ID)
	gb, _ := s.Group(b.ID)
	assert.Empty(t, ga.EndpointIDs)
	assert.Equal(t, []string{"ep1"}, gb.EndpointIDs)
	assert.Equal(t, b.ID, s.Metadata("teamviewer_PC1").GroupID)

	require.NoError(t, s.Assign(ctx, "teamviewer_PC1", "ep1", ""))
	gb, _ = s.Group(b.ID)
	assert.Empty(t, gb.EndpointIDs)
	assert.Empty(t, s.Metadata("teamviewer_PC1").GroupID)

	assert.ErrorIs(t, s.Assign(ctx, "teamviewer_PC1", "ep1", "nope"), ErrGroupNotFound)
}

func TestDeleteGroup_RequiresForceWhenNotEmpty(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	g, _ := s.CreateGroup(ctx, "Clinic", "")
	require.NoError(t, s.Assign(ctx, "ezhelp_PC1", "ep1", g.ID))
	require.NoError(t, s.Assign(ctx, "ezhelp_PC2", "ep2", g.ID))

	err := s.DeleteGroup(ctx, g.ID, false)
	assert.ErrorIs(t, err, ErrGroupNotEmpty)
	_, ok := s.Group(g.ID)
	assert.True(t, ok, "failed delete must not mutate")
	assert.Equal(t, g.ID, s.Metadata("ezhelp_PC1").GroupID)

	require.NoError(t, s.DeleteGroup(ctx, g.ID, true))
	_, ok = s.Group(g.ID)
	assert.False(t, ok)
	assert.Empty(t, s.Metadata("ezhelp_PC1").GroupID)
	assert.Empty(t, s.Metadata("ezhelp_PC2").GroupID)
}

func TestDeleteGroup_PersistedMembersCountAfterReopen(t *testing.T) {
	ctx := context.Background()
	s, backend := newStore(t)
	g, _ := s.CreateGroup(ctx, "Ward", "")
	require.NoError(t, s.Assign(ctx, "ezhelp_PC1", "ep1", g.ID))

	reopened := Open(ctx, backend, logger.Nop())
	rg, _ := reopened.Group(g.ID)
	require.Empty(t, rg.EndpointIDs)

	err := reopened.DeleteGroup(ctx, g.ID, false)
	assert.ErrorIs(t, err, ErrGroupNotEmpty)
	_, ok := reopened.Group(g.ID)
	assert.True(t, ok)
	assert.Equal(t, g.ID, reopened.Metadata("ezhelp_PC1").GroupID)

	again := Open(ctx, backend, logger.Nop())
	assert.Equal(t, g.ID, again.Metadata("ezhelp_PC1").GroupID, "nothing was persisted by the failed delete")

	require.NoError(t, reopened.DeleteGroup(ctx, g.ID, true))
	assert.Empty(t, reopened.Metadata("ezhelp_PC1").GroupID)
}

func TestDeleteGroup_EmptyWithoutForce(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	g, _ := s.CreateGroup(ctx, "Empty", "")
	assert.NoError(t, s.DeleteGroup(ctx, g.ID, false))
	assert.ErrorIs(t, s.DeleteGroup(ctx, g.ID, false), ErrGroupNotFound)
}

func TestDetachKeepsStableMapping(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	g, _ := s.CreateGroup(ctx, "G", "")
	require.NoError(t, s.Assign(ctx, "teamviewer_PC1", "ep1", g.ID))

	s.Detach(ctx, "ep1")
	got, _ := s.Group(g.ID)
	assert.Empty(t, got.EndpointIDs)
	assert.Equal(t, g.ID, s.Metadata("teamviewer_PC1").GroupID)

	s.Attach(ctx, g.ID, "ep2")
	s.Attach(ctx, g.ID, "ep2")
	got, _ = s.Group(g.ID)
	assert.Equal(t, []string{"ep2"}, got.EndpointIDs)
}

func TestMetadataSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	s, backend := newStore(t)
	g, _ := s.CreateGroup(ctx, "Persisted", "#000000")
	require.NoError(t, s.Assign(ctx, "teamviewer_PC1", "ep1", g.ID))
	s.SetCategory(ctx, "teamviewer_PC1", model.CategoryUrgent)
	s.SetLabel(ctx, "teamviewer_PC1", "reception")
	s.ReserveSuffix(ctx, "teamviewer_PC1", 2)

	reopened := Open(ctx, backend, logger.Nop())
	md := reopened.Metadata("teamviewer_PC1")
	assert.Equal(t, g.ID, md.GroupID)
	assert.Equal(t, model.CategoryUrgent, md.Category)
	assert.Equal(t, "reception", md.Label)
	assert.Equal(t, []int{2}, reopened.Suffixes("teamviewer_PC1"))

	rg, ok := reopened.Group(g.ID)
	require.True(t, ok)
	assert.Equal(t, "Persisted", rg.Name)
	assert.Empty(t, rg.EndpointIDs, "membership is rebuilt from live endpoints")
}

func TestSaveFailureKeepsMemoryState(t *testing.T) {
	ctx := context.Background()
	s, backend := newStore(t)
	backend.FailSaves = true

	g, err := s.CreateGroup(ctx, "Offline", "")
	require.NoError(t, err)
	s.SetCategory(ctx, "ezhelp_PC1", model.CategoryWaiting)

	_, ok := s.Group(g.ID)
	assert.True(t, ok)
	assert.Equal(t, model.CategoryWaiting, s.Metadata("ezhelp_PC1").Category)
}

func TestSuffixes(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	s.ReserveSuffix(ctx, "k", 3)
	s.ReserveSuffix(ctx, "k", 2)
	s.ReserveSuffix(ctx, "k", 2)
	assert.Equal(t, []int{2, 3}, s.Suffixes("k"))
	s.ReleaseSuffix(ctx, "k", 2)
	assert.Equal(t, []int{3}, s.Suffixes("k"))
	s.ReleaseSuffix(ctx, "k", 3)
	assert.Empty(t, s.Suffixes("k"))
}
