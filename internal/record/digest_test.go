package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalSortsKeys(t *testing.T) {
	out, err := Canonical(map[string]any{"b": 1, "a": "x"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","b":1}`, string(out))
}

func TestDigestDeterminism(t *testing.T) {
	v := map[string]any{"staging_id": "stg_1", "files": []string{"a", "b"}}
	d1, err := Digest(DomainDeployment, v)
	require.NoError(t, err)
	d2, err := Digest(DomainDeployment, v)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 64)

	d3, err := Digest(DomainEscalation, v)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d3, "domain must separate digests")
}

func TestSealIgnoresPreviousDigest(t *testing.T) {
	rec := DeploymentRecord{
		StagingID:  "stg_1",
		DeployedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Files:      []FileHash{{Path: "restart.sh", SHA256: "abc"}},
	}
	require.NoError(t, rec.Seal())
	first := rec.Digest
	require.NoError(t, rec.Seal())
	assert.Equal(t, first, rec.Digest)

	rec.Files[0].SHA256 = "def"
	require.NoError(t, rec.Seal())
	assert.NotEqual(t, first, rec.Digest)
}

func TestUUIDv7GeneratorUnique(t *testing.T) {
	g := UUIDv7Generator{}
	a, b := g.Generate(), g.Generate()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
}

func TestTimestamp(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, "20260304T050607Z", Timestamp(ts))
}
