package service

import (
	"testing"

	"github.com/lexflow/backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userIDs(users ...*model.User) []uint {
	ids := make([]uint, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids
}

func TestCanViewAndCanUse(t *testing.T) {
	e := newTestEnv(t)
	doc := e.document("Memo")

	check := func(u *model.User, view, use bool) {
		t.Helper()
		d := e.reload(doc.ID)
		gotView, err := e.perms.CanView(e.db, d, u)
		require.NoError(t, err)
		gotUse, err := e.perms.CanUse(e.db, d, u)
		require.NoError(t, err)
		name := "<nil>"
		if u != nil {
			name = u.Name
		}
		assert.Equal(t, view, gotView, "view for %s", name)
		assert.Equal(t, use, gotUse, "use for %s", name)
	}

	check(e.owner, true, true)
	check(e.reviewer, true, true)
	check(e.alice, false, false)

	admin := e.user("Root", "client")
	admin.IsAdmin = true
	check(admin, true, true)

	// signers can view but not use
	e.requestSignatures(doc, e.alice)
	check(e.alice, true, false)

	_, err := e.perms.ApplyBulk(e.ctx, doc.ID, e.owner, BulkRequest{Visibility: &TierSpec{UserIDs: userIDs(e.bob)}})
	require.NoError(t, err)
	check(e.bob, true, false)

	_, err = e.perms.ApplyBulk(e.ctx, doc.ID, e.owner, BulkRequest{Usability: &TierSpec{UserIDs: userIDs(e.bob)}})
	require.NoError(t, err)
	check(e.bob, true, true)

	check(nil, false, false)
}

func TestPublicShortCircuit(t *testing.T) {
	e := newTestEnv(t)
	doc := e.document("Public notice")

	on := true
	res, err := e.perms.SetPublic(e.ctx, doc.ID, e.owner, &on)
	require.NoError(t, err)
	assert.True(t, res.Document.IsPublic)

	d := e.reload(doc.ID)
	ok, err := e.perms.CanUse(e.db, d, e.carol)
	require.NoError(t, err)
	assert.True(t, ok)

	var grants int64
	e.db.Model(&model.VisibilityPermission{}).Count(&grants)
	assert.Zero(t, grants, "public access writes no grant rows")
}

func TestUsabilityRequiresVisibility(t *testing.T) {
	e := newTestEnv(t)
	doc := e.document("Private deed")

	res, err := e.perms.ApplyBulk(e.ctx, doc.ID, e.owner, BulkRequest{
		Visibility: &TierSpec{UserIDs: userIDs(e.alice)},
		Usability:  &TierSpec{UserIDs: userIDs(e.alice, e.bob)},
	})
	require.NoError(t, err)

	require.True(t, res.Visibility.Applied)
	assert.Equal(t, userIDs(e.alice), res.Visibility.Granted)

	require.True(t, res.Usability.Applied)
	assert.Equal(t, userIDs(e.alice), res.Usability.Granted)
	require.Len(t, res.Usability.Errors, 1)
	assert.Equal(t, e.bob.ID, res.Usability.Errors[0].UserID)

	// the same grant succeeds without visibility once the document is public
	public := e.document("Open deed")
	on := true
	_, err = e.perms.SetPublic(e.ctx, public.ID, e.owner, &on)
	require.NoError(t, err)
	res, err = e.perms.ApplyBulk(e.ctx, public.ID, e.owner, BulkRequest{Usability: &TierSpec{UserIDs: userIDs(e.bob)}})
	require.NoError(t, err)
	assert.Empty(t, res.Usability.Errors)
	assert.Equal(t, userIDs(e.bob), res.Usability.Granted)
	assert.Nil(t, res.Visibility)
}

func TestSetReplaceSemantics(t *testing.T) {
	e := newTestEnv(t)
	doc := e.document("Brief")

	_, err := e.perms.ApplyBulk(e.ctx, doc.ID, e.owner, BulkRequest{
		Visibility: &TierSpec{UserIDs: userIDs(e.alice, e.bob)},
		Usability:  &TierSpec{UserIDs: userIDs(e.alice)},
	})
	require.NoError(t, err)

	// replace visibility with {bob, carol}; alice's usability cascades away
	res, err := e.perms.ApplyBulk(e.ctx, doc.ID, e.owner, BulkRequest{
		Visibility: &TierSpec{UserIDs: userIDs(e.bob, e.carol)},
	})
	require.NoError(t, err)
	assert.Equal(t, userIDs(e.carol), res.Visibility.Granted)
	assert.Equal(t, userIDs(e.alice), res.Visibility.Revoked)
	assert.Len(t, res.Visibility.Warnings, 1)
	assert.Nil(t, res.Usability, "omitted tier is untouched")

	var usable int64
	e.db.Model(&model.UsabilityPermission{}).Where("document_id = ?", doc.ID).Count(&usable)
	assert.Zero(t, usable)

	// explicitly empty tier clears it
	res, err = e.perms.ApplyBulk(e.ctx, doc.ID, e.owner, BulkRequest{Visibility: &TierSpec{}})
	require.NoError(t, err)
	assert.ElementsMatch(t, userIDs(e.bob, e.carol), res.Visibility.Revoked)

	var visible int64
	e.db.Model(&model.VisibilityPermission{}).Where("document_id = ?", doc.ID).Count(&visible)
	assert.Zero(t, visible)
}

func TestRolesAndExclusions(t *testing.T) {
	e := newTestEnv(t)
	doc := e.document("Policy")

	res, err := e.perms.ApplyBulk(e.ctx, doc.ID, e.owner, BulkRequest{
		Visibility: &TierSpec{Roles: []string{"client"}, UserIDs: userIDs(e.carol), ExcludeUserIDs: userIDs(e.bob)},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, userIDs(e.alice, e.carol), res.Visibility.Granted)

	sum, err := e.perms.Summary(e.ctx, doc.ID, e.owner)
	require.NoError(t, err)
	assert.Empty(t, sum.Visibility.ActiveRoles, "bob was excluded so client is not active")

	_, err = e.perms.ApplyBulk(e.ctx, doc.ID, e.owner, BulkRequest{
		Visibility: &TierSpec{Roles: []string{"client"}, UserIDs: userIDs(e.carol)},
	})
	require.NoError(t, err)
	sum, err = e.perms.Summary(e.ctx, doc.ID, e.owner)
	require.NoError(t, err)
	assert.Equal(t, []string{"client"}, sum.Visibility.ActiveRoles)
	assert.Empty(t, sum.Usability.ActiveRoles)
	assert.Len(t, sum.Visibility.Users, 3)
	assert.Equal(t, []string{"client", "lawyer", "reviewer"}, sum.AvailableRoles)
}

func TestTiersAreIndependent(t *testing.T) {
	e := newTestEnv(t)
	doc := e.document("Contract")

	res, err := e.perms.ApplyBulk(e.ctx, doc.ID, e.owner, BulkRequest{
		Visibility: &TierSpec{UserIDs: append(userIDs(e.alice), 4242)},
		Usability:  &TierSpec{Roles: []string{"partner"}},
	})
	require.NoError(t, err)

	assert.True(t, res.Visibility.Applied)
	assert.Equal(t, userIDs(e.alice), res.Visibility.Granted)
	require.Len(t, res.Visibility.Errors, 1)
	assert.Equal(t, uint(4242), res.Visibility.Errors[0].UserID)

	assert.False(t, res.Usability.Applied)
	require.Len(t, res.Usability.Errors, 1)
	assert.Equal(t, "partner", res.Usability.Errors[0].Role)

	var visible int64
	e.db.Model(&model.VisibilityPermission{}).Where("document_id = ?", doc.ID).Count(&visible)
	assert.Equal(t, int64(1), visible)
}

func TestSummaryAccess(t *testing.T) {
	e := newTestEnv(t)
	doc := e.document("Will")

	_, err := e.perms.Summary(e.ctx, 9999, e.owner)
	assert.True(t, IsNotFound(err))
	_, err = e.perms.Summary(e.ctx, 9999, e.alice)
	assert.True(t, IsNotFound(err), "existence is not leaked through a permission error")

	_, err = e.perms.Summary(e.ctx, doc.ID, e.alice)
	assert.True(t, IsPermission(err))

	_, err = e.perms.Summary(e.ctx, doc.ID, e.reviewer)
	assert.NoError(t, err)

	_, err = e.perms.ApplyBulk(e.ctx, doc.ID, e.alice, BulkRequest{Visibility: &TierSpec{}})
	assert.True(t, IsPermission(err))
}

func TestTurningPublicOffBackfillsVisibility(t *testing.T) {
	e := newTestEnv(t)
	doc := e.document("Shared")

	res, err := e.perms.SetPublic(e.ctx, doc.ID, e.owner, nil)
	require.NoError(t, err)
	require.True(t, res.Document.IsPublic)

	_, err = e.perms.ApplyBulk(e.ctx, doc.ID, e.owner, BulkRequest{Usability: &TierSpec{UserIDs: userIDs(e.alice)}})
	require.NoError(t, err)

	res, err = e.perms.SetPublic(e.ctx, doc.ID, e.owner, nil)
	require.NoError(t, err)
	assert.False(t, res.Document.IsPublic)
	assert.Equal(t, userIDs(e.alice), res.Backfilled)

	d := e.reload(doc.ID)
	ok, err := e.perms.CanUse(e.db, d, e.alice)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = e.perms.SetPublic(e.ctx, doc.ID, e.bob, nil)
	assert.True(t, IsPermission(err))
}
