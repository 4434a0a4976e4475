package queue

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rsi/internal/record"
)

var testTime = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := New(NewLayout(t.TempDir()))
	require.NoError(t, err)
	return q
}

func testProposal(id string, status record.ProposalStatus, retries int) record.Proposal {
	return record.Proposal{
		ID:        id,
		CreatedAt: testTime,
		Finding: record.Finding{
			Kind:      record.KindAutomation,
			Component: "content",
			Title:     "Deploy content",
		},
		Status:     status,
		RetryCount: retries,
	}
}

func testManifest(stagingID string, p record.Proposal, ready bool) record.Manifest {
	return record.Manifest{
		StagingID:          stagingID,
		ProposalID:         p.ID,
		Kind:               p.Kind(),
		CreatedAt:          testTime,
		Attempt:            p.RetryCount,
		SourceProposal:     p,
		FilesCreated:       []string{"deploy_content.sh"},
		ReadyForValidation: ready,
	}
}

func TestProposalRoundTrip(t *testing.T) {
	q := newTestQueue(t)
	p := testProposal("prop_1", record.StatusPending, 0)
	require.NoError(t, q.WriteProposal(p))

	got, err := q.ReadProposal("prop_1")
	require.NoError(t, err)
	assert.Equal(t, p.Finding.Title, got.Finding.Title)
	assert.True(t, got.CreatedAt.Equal(testTime))

	_, err = q.ReadProposal("prop_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	q := newTestQueue(t)
	p := testProposal("prop_1", record.StatusPending, 0)
	require.NoError(t, q.WriteProposal(p))
	p.RetryCount = 2
	require.NoError(t, q.WriteProposal(p))

	entries, err := os.ReadDir(q.Layout().Proposals)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "prop_1.json", entries[0].Name())
}

func TestPendingProposals(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.WriteProposal(testProposal("prop_a", record.StatusPending, 0)))
	require.NoError(t, q.WriteProposal(testProposal("prop_b", record.StatusImplemented, 1)))
	require.NoError(t, q.WriteProposal(testProposal("prop_c", record.StatusPending, 5)))
	require.NoError(t, q.WriteProposal(testProposal("prop_d", record.StatusPending, 4)))
	require.NoError(t, os.WriteFile(filepath.Join(q.Layout().Proposals, "broken.json"), []byte("{"), 0o644))

	pending, err := q.PendingProposals(5)
	require.NoError(t, err)
	ids := []string{}
	for _, p := range pending {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"prop_a", "prop_d"}, ids)
}

func TestPollingIsIdempotent(t *testing.T) {
	q := newTestQueue(t)
	p := testProposal("prop_a", record.StatusPending, 0)
	require.NoError(t, q.WriteProposal(p))
	_, err := q.CreateStaging("stg_1")
	require.NoError(t, err)
	require.NoError(t, q.WriteManifest(testManifest("stg_1", p, true)))

	first, err := q.PendingProposals(5)
	require.NoError(t, err)
	firstArtifacts, err := q.UnvalidatedArtifacts()
	require.NoError(t, err)
	depths := q.Depths()

	second, err := q.PendingProposals(5)
	require.NoError(t, err)
	secondArtifacts, err := q.UnvalidatedArtifacts()
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, firstArtifacts, secondArtifacts)
	assert.Equal(t, depths, q.Depths())
}

func TestCreateStagingIsFresh(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.CreateStaging("stg_1")
	require.NoError(t, err)
	_, err = q.CreateStaging("stg_1")
	assert.Error(t, err)
}

func TestReadArtifact(t *testing.T) {
	q := newTestQueue(t)
	p := testProposal("prop_a", record.StatusPending, 1)

	t.Run("complete", func(t *testing.T) {
		dir, err := q.CreateStaging("stg_ok")
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "deploy_content.sh"), []byte("#!/bin/bash\n"), 0o755))
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "docs"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "docs", "GUIDE.md"), []byte("# guide\n"), 0o644))
		require.NoError(t, q.WriteManifest(testManifest("stg_ok", p, true)))

		a, err := q.ReadArtifact("stg_ok")
		require.NoError(t, err)
		assert.True(t, a.Complete())
		require.NotNil(t, a.Manifest)
		assert.Equal(t, "prop_a", a.Manifest.ProposalID)
		assert.Equal(t, []string{"deploy_content.sh", "docs/GUIDE.md"}, a.Files)
	})

	t.Run("missing manifest", func(t *testing.T) {
		_, err := q.CreateStaging("stg_nomanifest")
		require.NoError(t, err)
		a, err := q.ReadArtifact("stg_nomanifest")
		require.NoError(t, err)
		assert.False(t, a.Complete())
		assert.Nil(t, a.Manifest)
		assert.Equal(t, "manifest missing", a.Problem)
	})

	t.Run("schema violation", func(t *testing.T) {
		dir, err := q.CreateStaging("stg_bad")
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte(`{"staging_id":"stg_bad"}`), 0o644))
		a, err := q.ReadArtifact("stg_bad")
		require.NoError(t, err)
		assert.False(t, a.Complete())
		assert.Contains(t, a.Problem, "schema validation failed")
	})

	t.Run("not ready", func(t *testing.T) {
		_, err := q.CreateStaging("stg_failed")
		require.NoError(t, err)
		m := testManifest("stg_failed", p, false)
		m.Error = "no start command"
		m.FilesCreated = nil
		require.NoError(t, q.WriteManifest(m))
		a, err := q.ReadArtifact("stg_failed")
		require.NoError(t, err)
		assert.False(t, a.Complete())
		require.NotNil(t, a.Manifest)
		assert.Equal(t, "implementation did not complete: no start command", a.Problem)
	})

	t.Run("missing directory", func(t *testing.T) {
		_, err := q.ReadArtifact("stg_nowhere")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMarkValidatedWriteOnce(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.CreateStaging("stg_1")
	require.NoError(t, err)

	arts, err := q.UnvalidatedArtifacts()
	require.NoError(t, err)
	assert.Len(t, arts, 1)

	require.NoError(t, q.MarkValidated("stg_1", "val_stg_1"))
	assert.True(t, q.IsValidated("stg_1"))
	assert.ErrorIs(t, q.MarkValidated("stg_1", "val_other"), ErrMarkerExists)

	data, err := os.ReadFile(filepath.Join(q.Layout().StagingDir("stg_1"), ValidatedMarker))
	require.NoError(t, err)
	assert.Equal(t, "val_stg_1", string(data))

	arts, err = q.UnvalidatedArtifacts()
	require.NoError(t, err)
	assert.Empty(t, arts)
}

func TestReportsAwaitingGovernance(t *testing.T) {
	q := newTestQueue(t)
	reports := []record.ValidationReport{
		{ValidationID: "val_a", StagingID: "stg_a", Passed: true},
		{ValidationID: "val_b", StagingID: "stg_b", Passed: false},
		{ValidationID: "val_c", StagingID: "stg_c", Passed: false, Exhausted: true},
		{ValidationID: "val_d", StagingID: "stg_d", Passed: true},
	}
	for _, r := range reports {
		require.NoError(t, q.WriteReport(r))
	}
	require.NoError(t, q.WriteDeployed(record.DeploymentRecord{StagingID: "stg_d"}))

	awaiting, err := q.ReportsAwaitingGovernance()
	require.NoError(t, err)
	ids := []string{}
	for _, r := range awaiting {
		ids = append(ids, r.ValidationID)
	}
	assert.Equal(t, []string{"val_a", "val_c"}, ids)
}

func TestTerminalMarkers(t *testing.T) {
	q := newTestQueue(t)

	_, done := q.TerminalState("stg_1")
	assert.False(t, done)

	rec := record.DeploymentRecord{StagingID: "stg_1", Deployer: "generic", DeployedAt: testTime}
	require.NoError(t, q.WriteDeployed(rec))
	assert.ErrorIs(t, q.WriteDeployed(rec), ErrMarkerExists)

	state, done := q.TerminalState("stg_1")
	assert.True(t, done)
	assert.Equal(t, TerminalDeployed, state)
	assert.True(t, q.IsDeployed("stg_1"))

	got, err := q.ReadDeployed("stg_1")
	require.NoError(t, err)
	assert.Equal(t, "generic", got.Deployer)
}

func TestEscalationAndRejectionFiles(t *testing.T) {
	q := newTestQueue(t)

	esc := record.EscalationRecord{
		StagingID:      "stg_e",
		EscalatedAt:    testTime,
		Reason:         "requires human approval",
		RequiresAction: true,
		Options:        record.EscalationOptions,
	}
	path, err := q.WriteEscalation(esc)
	require.NoError(t, err)
	assert.Equal(t, "ESCALATION_stg_e_20260501T120000Z.json", filepath.Base(path))
	_, err = q.WriteEscalation(esc)
	assert.ErrorIs(t, err, ErrMarkerExists)

	rej := record.RejectionRecord{StagingID: "stg_r", RejectedAt: testTime, Violations: []string{"chmod 777"}}
	path, err = q.WriteRejection(rej)
	require.NoError(t, err)
	assert.Equal(t, "REJECTION_stg_r_20260501T120000Z.json", filepath.Base(path))

	state, _ := q.TerminalState("stg_r")
	assert.Equal(t, TerminalRejected, state)

	escs, err := q.Escalations()
	require.NoError(t, err)
	require.Len(t, escs, 1)
	assert.Equal(t, "requires human approval", escs[0].Reason)

	logs, err := q.RecentLogs(5)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestDepths(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.WriteProposal(testProposal("prop_a", record.StatusPending, 0)))
	require.NoError(t, q.WriteProposal(testProposal("prop_b", record.StatusPending, 0)))
	_, err := q.CreateStaging("stg_1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(q.Layout().Proposals, ".hidden"), nil, 0o644))

	assert.Equal(t, map[string]int{
		"proposals":  2,
		"staging":    1,
		"validation": 0,
		"deployed":   0,
	}, q.Depths())
}

func TestDepthsCountsDeploymentsOnly(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.WriteDeployed(record.DeploymentRecord{StagingID: "stg_1", Deployer: "generic"}))
	require.NoError(t, os.MkdirAll(q.DeployTarget("stg_1"), 0o755))
	_, err := q.WriteEscalation(record.EscalationRecord{StagingID: "stg_2", EscalatedAt: testTime})
	require.NoError(t, err)
	_, err = q.WriteRejection(record.RejectionRecord{StagingID: "stg_3", RejectedAt: testTime})
	require.NoError(t, err)

	assert.Equal(t, 1, q.Depths()["deployed"])
}

func TestFailedLogWriteLeavesArtifactOpen(t *testing.T) {
	q := newTestQueue(t)
	logs := q.Layout().Logs
	require.NoError(t, os.RemoveAll(logs))
	require.NoError(t, os.WriteFile(logs, nil, 0o644))

	esc := record.EscalationRecord{StagingID: "stg_e", EscalatedAt: testTime}
	_, err := q.WriteEscalation(esc)
	require.Error(t, err)
	_, err = q.WriteRejection(record.RejectionRecord{StagingID: "stg_r", RejectedAt: testTime})
	require.Error(t, err)

	_, done := q.TerminalState("stg_e")
	assert.False(t, done)
	_, done = q.TerminalState("stg_r")
	assert.False(t, done)

	require.NoError(t, os.Remove(logs))
	require.NoError(t, os.Mkdir(logs, 0o755))
	path, err := q.WriteEscalation(esc)
	require.NoError(t, err)
	assert.FileExists(t, path)
	state, done := q.TerminalState("stg_e")
	assert.True(t, done)
	assert.Equal(t, TerminalEscalated, state)
}

func TestWroteProposal(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.WriteProposal(testProposal("prop_a", record.StatusPending, 0)))
	assert.True(t, q.WroteProposal("prop_a"))

	other, err := New(q.Layout())
	require.NoError(t, err)
	require.NoError(t, other.WriteProposal(testProposal("prop_b", record.StatusPending, 0)))
	assert.False(t, q.WroteProposal("prop_b"))
	assert.True(t, other.WroteProposal("prop_b"))
}
