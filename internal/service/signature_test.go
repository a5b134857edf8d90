package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lexflow/backend/internal/model"
	"github.com/lexflow/backend/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestRequestSignatures(t *testing.T) {
	e := newTestEnv(t)
	doc := e.document("Lease")

	due := time.Now().Add(24 * time.Hour)
	sigs, err := e.sigs.RequestSignatures(e.ctx, doc.ID, e.owner, []uint{e.alice.ID, e.bob.ID, e.alice.ID}, &due)
	require.NoError(t, err)
	assert.Len(t, sigs, 2)

	got := e.reload(doc.ID)
	assert.Equal(t, model.StatePendingSignatures, got.State)
	assert.True(t, got.RequiresSignature)
	assert.False(t, got.FullySigned)
	require.NotNil(t, got.SignatureDueDate)

	// adding a signer later keeps the existing rows
	sigs, err = e.sigs.RequestSignatures(e.ctx, doc.ID, e.owner, []uint{e.bob.ID, e.carol.ID}, nil)
	require.NoError(t, err)
	assert.Len(t, sigs, 3)

	assert.ElementsMatch(t, []uint{e.alice.ID, e.bob.ID, e.carol.ID}, e.notes.recipients(notify.TemplateSignatureRequested))
}

func TestRequestSignaturesValidation(t *testing.T) {
	e := newTestEnv(t)
	doc := e.document("Lease")

	_, err := e.sigs.RequestSignatures(e.ctx, doc.ID, e.owner, nil, nil)
	assert.True(t, IsValidation(err))

	_, err = e.sigs.RequestSignatures(e.ctx, doc.ID, e.owner, []uint{9999}, nil)
	assert.True(t, IsValidation(err))

	past := time.Now().Add(-time.Hour)
	_, err = e.sigs.RequestSignatures(e.ctx, doc.ID, e.owner, []uint{e.alice.ID}, &past)
	assert.True(t, IsValidation(err))

	_, err = e.sigs.RequestSignatures(e.ctx, doc.ID, e.alice, []uint{e.bob.ID}, nil)
	assert.True(t, IsPermission(err))

	// nothing was written by the failed attempts
	assert.Empty(t, e.signatures(doc.ID))
	assert.Equal(t, model.StateDraft, e.reload(doc.ID).State)

	done := e.completed("Done")
	_, err = e.sigs.RequestSignatures(e.ctx, done.ID, e.owner, []uint{e.alice.ID}, nil)
	var sc *StateConflictError
	require.ErrorAs(t, err, &sc)
	assert.Equal(t, model.StateCompleted, sc.State)
}

func TestTwoSignersScenario(t *testing.T) {
	e := newTestEnv(t)
	doc := e.document("Purchase agreement")
	e.requestSignatures(doc, e.alice, e.bob)

	res, err := e.sigs.Sign(e.ctx, doc.ID, e.alice.ID, e.alice, Capture{IP: "10.0.0.7", UserAgent: "test"})
	require.NoError(t, err)
	assert.Equal(t, model.StatePendingSignatures, res.Document.State)
	assert.False(t, res.Document.FullySigned)
	assert.True(t, res.Signature.Signed)
	require.NotNil(t, res.Signature.SignedAt)

	ip, err := e.sigs.RevealIP(res.Signature)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.7", ip)
	assert.NotEqual(t, "10.0.0.7", res.Signature.IPAddress)

	res, err = e.sigs.Sign(e.ctx, doc.ID, e.bob.ID, e.bob, Capture{})
	require.NoError(t, err)
	assert.Equal(t, model.StateFullySigned, res.Document.State)
	assert.True(t, res.Document.FullySigned)
	assert.Contains(t, e.hub.types(doc.ID), "document_fully_signed")
	assert.ElementsMatch(t, []uint{e.alice.ID, e.bob.ID, e.owner.ID}, e.notes.recipients(notify.TemplateDocumentFullySigned))

	// no unsigning: a second sign is a state conflict
	_, err = e.sigs.Sign(e.ctx, doc.ID, e.bob.ID, e.bob, Capture{})
	assert.True(t, IsStateConflict(err))

	reopened, err := e.sigs.Reopen(e.ctx, doc.ID, e.owner)
	require.NoError(t, err)
	assert.Equal(t, model.StatePendingSignatures, reopened.State)
	assert.False(t, reopened.FullySigned)
	sigs := e.signatures(doc.ID)
	require.Len(t, sigs, 2)
	for _, s := range sigs {
		assert.True(t, s.Pending())
		assert.Nil(t, s.SignedAt)
		assert.Empty(t, s.IPAddress)
	}
	assert.ElementsMatch(t, []uint{e.alice.ID, e.bob.ID}, e.notes.recipients(notify.TemplateSigningReopened))
}

func TestSignOnlyForOwnRow(t *testing.T) {
	e := newTestEnv(t)
	doc := e.document("NDA")
	e.requestSignatures(doc, e.alice)

	_, err := e.sigs.Sign(e.ctx, doc.ID, e.alice.ID, e.bob, Capture{})
	assert.True(t, IsPermission(err))

	_, err = e.sigs.Sign(e.ctx, doc.ID, e.bob.ID, e.bob, Capture{})
	assert.True(t, IsNotFound(err))
}

func TestFullySignedInvariantAfterEveryWrite(t *testing.T) {
	e := newTestEnv(t)
	doc := e.document("Share transfer")
	e.requestSignatures(doc, e.alice, e.bob, e.carol)

	check := func() {
		got := e.reload(doc.ID)
		assert.Equal(t, fullySigned(got.RequiresSignature, e.signatures(doc.ID)), got.FullySigned)
	}
	for _, u := range []*model.User{e.alice, e.bob, e.carol} {
		_, err := e.sigs.Sign(e.ctx, doc.ID, u.ID, u, Capture{})
		require.NoError(t, err)
		check()
	}
	assert.Equal(t, model.StateFullySigned, e.reload(doc.ID).State)
}

func TestEmptySignerSetIsNeverFullySigned(t *testing.T) {
	assert.False(t, fullySigned(true, nil))
	assert.False(t, fullySigned(false, []model.Signature{{Signed: true}}))

	e := newTestEnv(t)
	doc := e.document("Power of attorney")
	e.requestSignatures(doc, e.alice)

	got, err := e.sigs.Withdraw(e.ctx, doc.ID, e.alice.ID, e.owner)
	require.NoError(t, err)
	assert.Equal(t, model.StatePendingSignatures, got.State)
	assert.False(t, got.FullySigned)

	became, err := e.lifecycle.recompute(e.db, doc.ID)
	require.NoError(t, err)
	assert.False(t, became)
	assert.False(t, e.reload(doc.ID).FullySigned)
}

func TestRejectOneOfManyRejectsDocument(t *testing.T) {
	e := newTestEnv(t)
	doc := e.document("Settlement")
	e.requestSignatures(doc, e.alice, e.bob, e.carol)

	_, err := e.sigs.Sign(e.ctx, doc.ID, e.alice.ID, e.alice, Capture{})
	require.NoError(t, err)

	res, err := e.sigs.Reject(e.ctx, doc.ID, e.bob.ID, e.bob, "wrong amount", Capture{IP: "1.2.3.4"})
	require.NoError(t, err)
	assert.Equal(t, model.StateRejected, res.Document.State)
	assert.False(t, res.Document.FullySigned)
	assert.True(t, res.Signature.Rejected)
	assert.Equal(t, "wrong amount", res.Signature.RejectionComment)

	_, err = e.sigs.Sign(e.ctx, doc.ID, e.carol.ID, e.carol, Capture{})
	var sc *StateConflictError
	require.ErrorAs(t, err, &sc)
	assert.Equal(t, model.StateRejected, sc.State)

	assert.ElementsMatch(t, []uint{e.alice.ID, e.carol.ID, e.owner.ID}, e.notes.recipients(notify.TemplateDocumentRejected))
}

func TestRecomputeIsIdempotent(t *testing.T) {
	e := newTestEnv(t)
	doc := e.document("Loan")
	e.requestSignatures(doc, e.alice)
	require.NoError(t, e.db.Model(&model.Signature{}).Where("document_id = ?", doc.ID).Update("signed", true).Error)

	became, err := e.lifecycle.recompute(e.db, doc.ID)
	require.NoError(t, err)
	assert.True(t, became)

	became, err = e.lifecycle.recompute(e.db, doc.ID)
	require.NoError(t, err)
	assert.False(t, became)

	got := e.reload(doc.ID)
	assert.Equal(t, model.StateFullySigned, got.State)
	assert.True(t, got.FullySigned)
}

func TestRecomputeFailureKeepsSignature(t *testing.T) {
	e := newTestEnv(t)
	doc := e.document("Mortgage")
	e.requestSignatures(doc, e.alice)

	failing := true
	require.NoError(t, e.db.Callback().Update().Before("gorm:update").Register("test:fail_documents", func(d *gorm.DB) {
		if failing && d.Statement.Schema != nil && d.Statement.Schema.Table == "documents" {
			d.AddError(errors.New("storage unavailable"))
		}
	}))

	res, err := e.sigs.Sign(e.ctx, doc.ID, e.alice.ID, e.alice, Capture{})
	require.NoError(t, err)
	assert.True(t, res.Signature.Signed)
	failing = false

	got := e.reload(doc.ID)
	assert.Equal(t, model.StatePendingSignatures, got.State)
	assert.False(t, got.FullySigned)
	assert.True(t, e.signatures(doc.ID)[0].Signed)

	// a later recomputation catches up
	became, err := e.lifecycle.recompute(e.db, doc.ID)
	require.NoError(t, err)
	assert.True(t, became)
}

func TestWithdraw(t *testing.T) {
	e := newTestEnv(t)
	doc := e.document("Lease")
	e.requestSignatures(doc, e.alice, e.bob)

	_, err := e.sigs.Withdraw(e.ctx, doc.ID, e.bob.ID, e.alice)
	assert.True(t, IsPermission(err))

	_, err = e.sigs.Sign(e.ctx, doc.ID, e.alice.ID, e.alice, Capture{})
	require.NoError(t, err)

	_, err = e.sigs.Withdraw(e.ctx, doc.ID, e.alice.ID, e.owner)
	assert.True(t, IsStateConflict(err), "signed rows cannot be withdrawn")

	// withdrawing the last pending signer completes the round
	got, err := e.sigs.Withdraw(e.ctx, doc.ID, e.bob.ID, e.owner)
	require.NoError(t, err)
	assert.Equal(t, model.StateFullySigned, got.State)
	assert.True(t, got.FullySigned)
	assert.Len(t, e.signatures(doc.ID), 1)
}

func TestExpiredOnReadThenSignFails(t *testing.T) {
	e := newTestEnv(t)
	doc := e.document("Option contract")
	e.requestSignatures(doc, e.alice, e.bob)
	other := e.document("Still open")
	e.requestSignatures(other, e.alice)

	past := time.Now().Add(-time.Hour).UTC()
	require.NoError(t, e.db.Model(&model.Document{}).Where("id = ?", doc.ID).Update("signature_due_date", past).Error)

	// storage still says pending until a read path touches it
	assert.Equal(t, model.StatePendingSignatures, e.reload(doc.ID).State)

	pending, err := e.docs.ListPendingSignatures(e.ctx, e.alice)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, other.ID, pending[0].ID)

	got := e.reload(doc.ID)
	assert.Equal(t, model.StateExpired, got.State)
	assert.False(t, got.FullySigned)
	assert.Contains(t, e.hub.types(doc.ID), "document_expired")
	assert.ElementsMatch(t, []uint{e.alice.ID, e.bob.ID, e.owner.ID}, e.notes.recipients(notify.TemplateDocumentExpired))

	_, err = e.sigs.Sign(e.ctx, doc.ID, e.bob.ID, e.bob, Capture{})
	var sc *StateConflictError
	require.ErrorAs(t, err, &sc)
	assert.Equal(t, model.StateExpired, sc.State)

	// reopening clears the passed due date
	reopened, err := e.sigs.Reopen(e.ctx, doc.ID, e.owner)
	require.NoError(t, err)
	assert.Equal(t, model.StatePendingSignatures, reopened.State)
	assert.Nil(t, reopened.SignatureDueDate)
}

func TestReopenDropsRelationshipsOfFullySigned(t *testing.T) {
	e := newTestEnv(t)
	doc := e.document("Signed deal")
	e.requestSignatures(doc, e.alice)
	_, err := e.sigs.Sign(e.ctx, doc.ID, e.alice.ID, e.alice, Capture{})
	require.NoError(t, err)

	peer := e.completed("Annex")
	_, err = e.rels.Create(e.ctx, e.owner, doc.ID, peer.ID)
	require.NoError(t, err)

	_, err = e.sigs.Reopen(e.ctx, doc.ID, e.alice)
	assert.True(t, IsPermission(err))

	_, err = e.sigs.Reopen(e.ctx, doc.ID, e.owner)
	require.NoError(t, err)

	var count int64
	e.db.Model(&model.Relationship{}).Count(&count)
	assert.Zero(t, count)

	_, err = e.sigs.Reopen(e.ctx, peer.ID, e.owner)
	assert.True(t, IsStateConflict(err))
}

func TestListSignaturesRequiresView(t *testing.T) {
	e := newTestEnv(t)
	doc := e.document("Private")
	e.requestSignatures(doc, e.alice)

	sigs, err := e.sigs.List(e.ctx, doc.ID, e.alice)
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	require.NotNil(t, sigs[0].Signer)
	assert.Equal(t, "Alice", sigs[0].Signer.Name)
	assert.Equal(t, []uint{e.alice.ID}, PendingSigners(sigs))

	_, err = e.sigs.List(e.ctx, doc.ID, e.bob)
	assert.True(t, IsPermission(err))
}

func TestConcurrentSignsCompleteOnce(t *testing.T) {
	e := newTestEnv(t)
	doc := e.document("Joint venture")
	e.requestSignatures(doc, e.alice, e.bob)

	signers := []*model.User{e.alice, e.bob}
	errs := make([]error, len(signers))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, u := range signers {
		wg.Add(1)
		go func(i int, u *model.User) {
			defer wg.Done()
			<-start
			_, errs[i] = e.sigs.Sign(e.ctx, doc.ID, u.ID, u, Capture{IP: "10.0.0.1"})
		}(i, u)
	}
	close(start)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	got := e.reload(doc.ID)
	assert.Equal(t, model.StateFullySigned, got.State)
	assert.True(t, got.FullySigned)

	completed := 0
	for _, typ := range e.hub.types(doc.ID) {
		if typ == "document_fully_signed" {
			completed++
		}
	}
	assert.Equal(t, 1, completed)
	assert.ElementsMatch(t, []uint{e.alice.ID, e.bob.ID, e.owner.ID}, e.notes.recipients(notify.TemplateDocumentFullySigned))
}
