package validate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rsi/internal/implement"
	"github.com/roach88/rsi/internal/queue"
	"github.com/roach88/rsi/internal/record"
	"github.com/roach88/rsi/internal/testutil"
)

func newQueue(t *testing.T) *queue.Queue {
	t.Helper()
	q, err := queue.New(queue.NewLayout(t.TempDir()), queue.WithLogger(testutil.DiscardLogger()))
	require.NoError(t, err)
	return q
}

func newEngine(q *queue.Queue, opts ...Option) *Engine {
	base := []Option{
		WithClock(testutil.NewFixedClock(testutil.Epoch)),
		WithLogger(testutil.DiscardLogger()),
	}
	return New(q, append(base, opts...)...)
}

func newImplementer(q *queue.Queue, opts ...implement.Option) *implement.Engine {
	base := []implement.Option{
		implement.WithIDGenerator(testutil.NewSequenceGenerator("")),
		implement.WithClock(testutil.NewFixedClock(testutil.Epoch)),
		implement.WithLogger(testutil.DiscardLogger()),
	}
	return implement.New(q, append(base, opts...)...)
}

func propose(t *testing.T, q *queue.Queue, id string, f record.Finding) {
	t.Helper()
	require.NoError(t, q.WriteProposal(record.Proposal{
		ID:        id,
		CreatedAt: testutil.Epoch,
		Finding:   f,
		Status:    record.StatusPending,
	}))
}

// stage writes a hand-made artifact with the given files. Executable files
// are named with a trailing "*".
func stage(t *testing.T, q *queue.Queue, id string, kind record.Kind, files map[string]string) queue.Artifact {
	t.Helper()
	dir, err := q.CreateStaging(id)
	require.NoError(t, err)
	var names []string
	for name, content := range files {
		mode := os.FileMode(0o644)
		if n := len(name); n > 0 && name[n-1] == '*' {
			name = name[:n-1]
			mode = 0o755
		}
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), mode))
		require.NoError(t, os.Chmod(p, mode))
		names = append(names, name)
	}
	p := record.Proposal{ID: "prop_" + id, Finding: record.Finding{Kind: kind}, Status: record.StatusImplemented}
	require.NoError(t, q.WriteManifest(record.Manifest{
		StagingID:          id,
		ProposalID:         p.ID,
		Kind:               kind,
		CreatedAt:          testutil.Epoch,
		SourceProposal:     p,
		FilesCreated:       names,
		ReadyForValidation: true,
	}))
	a, err := q.ReadArtifact(id)
	require.NoError(t, err)
	return a
}

func TestGeneratedArtifactsPass(t *testing.T) {
	findings := []record.Finding{
		{Kind: record.KindProcessFailure, Component: "worker", Process: &record.ProcessDetail{
			Name: "worker", Pattern: "worker.py", StartCommand: "python3 worker.py",
		}},
		{Kind: record.KindResourceConstraint, Component: "/", Resource: &record.ResourceDetail{
			Path: "/", UsagePercent: 92, CleanupDirs: []string{"/tmp/app"},
		}},
		{Kind: record.KindErrorRate, Component: "/var/log/app.log"},
		{Kind: record.KindArchitectureImprovement, Component: "pipeline", Title: "Split", Description: "Split stages."},
		{Kind: record.KindAutomation, Component: "content", Description: "Publish content."},
		{Kind: record.KindRevenueOptimization, Component: "payments", Description: "Take deposits."},
		{Kind: record.KindCredentialChange, Component: "vault", Title: "Rotate", Description: "Rotate keys."},
	}
	for _, f := range findings {
		t.Run(string(f.Kind), func(t *testing.T) {
			q := newQueue(t)
			propose(t, q, "prop_1", f)
			_, err := newImplementer(q).Run(context.Background())
			require.NoError(t, err)

			artifacts, err := newEngine(q).PollUnvalidated()
			require.NoError(t, err)
			require.Len(t, artifacts, 1)

			r, err := newEngine(q).Validate(artifacts[0])
			require.NoError(t, err)
			assert.True(t, r.Passed, r.ReportText)
			assert.GreaterOrEqual(t, r.Score, DefaultThreshold)
			assert.LessOrEqual(t, r.Score, 1.0)
			assert.Equal(t, record.NextGovernanceReview, r.NextAction)
			assert.Equal(t, "prop_1", r.ProposalID)
			assert.Equal(t, 1, r.RetryCount)
		})
	}
}

func TestProcessScoreGrowsWithEachProperty(t *testing.T) {
	q := newQueue(t)
	e := newEngine(q)

	steps := []struct {
		files  map[string]string
		score  float64
		passed bool
	}{
		{map[string]string{}, 0.0, false},
		{map[string]string{"restart.sh": "echo hi\n"}, 0.3, false},
		{map[string]string{"restart.sh*": "echo hi\n"}, 0.4, false},
		{map[string]string{"restart.sh*": "pkill -f x\nnohup x &\n"}, 0.6, false},
		{map[string]string{"restart.sh*": "pkill -f x\nnohup x &\n", "monitor.sh": "pgrep x\n"}, 0.8, true},
		{map[string]string{"restart.sh*": "pkill -f x\nsleep 2\nnohup x &\n", "monitor.sh": "pgrep x\n"}, 0.9, true},
	}
	for i, s := range steps {
		a := stage(t, q, "stg_"+string(rune('a'+i)), record.KindProcessFailure, s.files)
		r, err := e.Validate(a)
		require.NoError(t, err)
		assert.InDelta(t, s.score, r.Score, 1e-9, "step %d", i)
		assert.Equal(t, s.passed, r.Passed, "step %d", i)
	}
}

func TestIncompleteArtifactScoresZero(t *testing.T) {
	q := newQueue(t)
	dir, err := q.CreateStaging("stg_half")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "restart.sh"), []byte("pkill nohup sleep"), 0o755))

	a, err := q.ReadArtifact("stg_half")
	require.NoError(t, err)
	r, err := newEngine(q).Validate(a)
	require.NoError(t, err)

	assert.True(t, r.Incomplete)
	assert.False(t, r.Passed)
	assert.Zero(t, r.Score)
	assert.Contains(t, r.ReportText, "manifest missing")
	assert.Equal(t, record.NextImplementationRetry, r.NextAction)
}

func TestUnknownKindUsesGenericRubric(t *testing.T) {
	names := func(cs []Check) []string {
		var out []string
		for _, c := range cs {
			out = append(out, c.Name)
		}
		return out
	}
	assert.Equal(t, names(Rubric(record.KindGeneric)), names(Rubric("brand_new")))
	assert.Equal(t, names(Rubric(record.KindGeneric)), names(Rubric(record.KindArchitectureImprovement)))
}

func TestRubricsSumWithinMax(t *testing.T) {
	for _, k := range record.Kinds() {
		total := 0
		for _, c := range Rubric(k) {
			total += c.Points
		}
		assert.LessOrEqual(t, total, MaxPoints, k)
		assert.GreaterOrEqual(t, total, int(DefaultThreshold*MaxPoints), k)
	}
}

func TestRunMarksValidatedOnce(t *testing.T) {
	q := newQueue(t)
	propose(t, q, "prop_1", record.Finding{Kind: record.KindAutomation, Component: "content"})
	_, err := newImplementer(q).Run(context.Background())
	require.NoError(t, err)

	e := newEngine(q)
	report, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts["passed"])

	polled, err := e.PollUnvalidated()
	require.NoError(t, err)
	assert.Empty(t, polled)

	report, err = e.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Counts)

	reports, err := q.Reports()
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "val_0001", reports[0].ValidationID)

	marker, err := os.ReadFile(filepath.Join(q.Layout().StagingDir("stg_0001"), queue.ValidatedMarker))
	require.NoError(t, err)
	assert.Equal(t, "val_0001", string(marker))
}

func TestFailedArtifactReopensProposal(t *testing.T) {
	q := newQueue(t)
	propose(t, q, "prop_1", record.Finding{Kind: record.KindAutomation, Component: "content"})
	_, err := newImplementer(q).Run(context.Background())
	require.NoError(t, err)

	// Strip the guide so the artifact falls below threshold.
	require.NoError(t, os.Remove(filepath.Join(q.Layout().StagingDir("stg_0001"), implement.FileContentGuide)))

	report, err := newEngine(q).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts["retry"])

	p, err := q.ReadProposal("prop_1")
	require.NoError(t, err)
	assert.Equal(t, record.StatusPending, p.Status)
	assert.Nil(t, p.ImplementedAt)

	r, err := q.ReadReport("val_0001")
	require.NoError(t, err)
	assert.Equal(t, record.NextImplementationRetry, r.NextAction)
	assert.False(t, r.Exhausted)
}

// alwaysFailing has no start command, so every attempt fails in the handler.
func alwaysFailing() record.Finding {
	return record.Finding{
		Kind:      record.KindProcessFailure,
		Component: "ghost",
		Process:   &record.ProcessDetail{Name: "ghost"},
	}
}

func runCycles(t *testing.T, q *queue.Queue, maxRetries, cycles int) []record.ValidationReport {
	t.Helper()
	limit := func() int { return maxRetries }
	impl := newImplementer(q, implement.WithRetryLimit(limit))
	val := newEngine(q, WithRetryLimit(limit))
	for i := 0; i < cycles; i++ {
		_, err := impl.Run(context.Background())
		require.NoError(t, err)
		_, err = val.Run(context.Background())
		require.NoError(t, err)
	}
	reports, err := q.Reports()
	require.NoError(t, err)
	return reports
}

func TestRetryCapEscalates(t *testing.T) {
	q := newQueue(t)
	propose(t, q, "prop_1", alwaysFailing())

	reports := runCycles(t, q, DefaultMaxRetries, DefaultMaxRetries+3)
	require.Len(t, reports, DefaultMaxRetries, "no attempts after the cap")

	exhausted := 0
	for _, r := range reports {
		assert.False(t, r.Passed)
		if r.Exhausted {
			exhausted++
			assert.Equal(t, DefaultMaxRetries, r.RetryCount)
			assert.Equal(t, record.NextEscalate, r.NextAction)
		} else {
			assert.Equal(t, record.NextImplementationRetry, r.NextAction)
		}
	}
	assert.Equal(t, 1, exhausted)

	p, err := q.ReadProposal("prop_1")
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxRetries, p.RetryCount)

	awaiting, err := q.ReportsAwaitingGovernance()
	require.NoError(t, err)
	require.Len(t, awaiting, 1)
	assert.True(t, awaiting[0].Exhausted)
}

func TestAbandonedLastAttemptEscalates(t *testing.T) {
	q := newQueue(t)
	propose(t, q, "prop_a", record.Finding{Kind: record.KindAutomation, Component: "content"})
	p, err := q.ReadProposal("prop_a")
	require.NoError(t, err)
	p.RetryCount = 2
	require.NoError(t, q.WriteProposal(p))
	// The final attempt cannot create its staging directory.
	require.NoError(t, os.WriteFile(q.Layout().StagingDir("stg_0001"), nil, 0o644))

	limit := func() int { return 3 }
	_, err = newImplementer(q, implement.WithRetryLimit(limit)).Run(context.Background())
	require.Error(t, err)

	report, err := newEngine(q, WithRetryLimit(limit)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts["exhausted"])

	awaiting, err := q.ReportsAwaitingGovernance()
	require.NoError(t, err)
	require.Len(t, awaiting, 1)
	assert.Equal(t, "stg_0002", awaiting[0].StagingID)
	assert.Equal(t, "prop_a", awaiting[0].ProposalID)
	assert.Equal(t, 3, awaiting[0].RetryCount)
	assert.Equal(t, record.NextEscalate, awaiting[0].NextAction)
}

func TestRunCanceled(t *testing.T) {
	q := newQueue(t)
	stage(t, q, "stg_x", record.KindGeneric, map[string]string{"README.md": "x"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newEngine(q).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, q.IsValidated("stg_x"))
}
