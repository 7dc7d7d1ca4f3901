package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}
}

func TestOpen_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "nested", "ledger.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestOpen_InMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	_, err = s.BeginDeployment(ctx, "dep-1", "CookiesConsent", "hash")
	require.NoError(t, err)
	got, err := s.GetDeployment(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, "CookiesConsent", got.Stack)

	_, err = os.Stat(":memory:")
	assert.True(t, os.IsNotExist(err), "no file is created for an in-memory ledger")
}

func TestOpen_Pragmas(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestDeploymentsOrderBySeq(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	d1, err := s.BeginDeployment(ctx, "dep-b", "CookiesConsent", "hash-1")
	require.NoError(t, err)
	d2, err := s.BeginDeployment(ctx, "dep-a", "CookiesConsent", "hash-2")
	require.NoError(t, err)
	_, err = s.BeginDeployment(ctx, "dep-c", "Other", "hash-3")
	require.NoError(t, err)

	assert.Equal(t, int64(1), d1.Seq)
	assert.Equal(t, int64(2), d2.Seq)
	assert.Equal(t, DeploymentRunning, d1.Status)

	latest, err := s.LatestDeployment(ctx, "CookiesConsent")
	require.NoError(t, err)
	assert.Equal(t, "dep-a", latest.ID)

	newest, err := s.LatestDeployment(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "dep-c", newest.ID)

	all, err := s.ListDeployments(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"dep-b", "dep-a", "dep-c"}, []string{all[0].ID, all[1].ID, all[2].ID})
}

func TestBeginDeploymentIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.BeginDeployment(ctx, "dep-1", "CookiesConsent", "hash-1")
	require.NoError(t, err)
	again, err := s.BeginDeployment(ctx, "dep-1", "CookiesConsent", "hash-2")
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestFinishDeployment(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.BeginDeployment(ctx, "dep-1", "CookiesConsent", "h")
	require.NoError(t, err)
	require.NoError(t, s.FinishDeployment(ctx, "dep-1", DeploymentFailed, "zone missing"))

	d, err := s.GetDeployment(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, DeploymentFailed, d.Status)
	assert.Equal(t, "zone missing", d.Error)

	err = s.FinishDeployment(ctx, "nope", DeploymentSucceeded, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLatestDeploymentEmpty(t *testing.T) {
	s := openTestStore(t)
	_, err := s.LatestDeployment(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetDeployment(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResourcesUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, found, err := s.GetResource(ctx, "CookiesConsent", "CookiesConsentTable")
	require.NoError(t, err)
	assert.False(t, found)

	r := Resource{
		Stack:        "CookiesConsent",
		LogicalID:    "CookiesConsentTable",
		Kind:         "table",
		PhysicalID:   "CookiesConsent",
		SpecHash:     "h1",
		Attributes:   map[string]string{"name": "CookiesConsent", "arn": "arn:aws:dynamodb:eu-west-1:000000000000:table/CookiesConsent"},
		DeploymentID: "dep-1",
	}
	require.NoError(t, s.PutResource(ctx, r))

	got, found, err := s.GetResource(ctx, "CookiesConsent", "CookiesConsentTable")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, got.Generation)
	assert.Equal(t, r.Attributes, got.Attributes)

	r.SpecHash = "h2"
	r.Generation = 2
	r.DeploymentID = "dep-2"
	require.NoError(t, s.PutResource(ctx, r))

	all, err := s.ListResources(ctx, "CookiesConsent")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "h2", all[0].SpecHash)
	assert.Equal(t, 2, all[0].Generation)
	assert.Equal(t, "dep-2", all[0].DeploymentID)
}

func TestNodeResultsAndStageEvents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.BeginDeployment(ctx, "dep-1", "CookiesConsent", "h")
	require.NoError(t, err)

	require.NoError(t, s.RecordNodeResult(ctx, NodeResult{
		DeploymentID: "dep-1", LogicalID: "WildcardCertificate", Kind: "certificate", Status: "ready", Seq: 2,
	}))
	require.NoError(t, s.RecordNodeResult(ctx, NodeResult{
		DeploymentID: "dep-1", LogicalID: "HostedZone", Kind: "hosted_zone", Status: "ready", Seq: 1,
	}))
	// First outcome wins.
	require.NoError(t, s.RecordNodeResult(ctx, NodeResult{
		DeploymentID: "dep-1", LogicalID: "HostedZone", Kind: "hosted_zone", Status: "failed", Seq: 3,
	}))

	results, err := s.NodeResults(ctx, "dep-1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "HostedZone", results[0].LogicalID)
	assert.Equal(t, "ready", results[0].Status)

	events := []StageEvent{
		{DeploymentID: "dep-1", Seq: 1, Stage: "HostedZone", From: "unresolved", To: "pending"},
		{DeploymentID: "dep-1", Seq: 2, Stage: "HostedZone", From: "pending", To: "ready"},
	}
	for _, e := range events {
		require.NoError(t, s.RecordStageEvent(ctx, e))
		require.NoError(t, s.RecordStageEvent(ctx, e))
	}
	got, err := s.StageEvents(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, events, got)
}

func TestOutputs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.BeginDeployment(ctx, "dep-1", "CookiesConsent", "h")
	require.NoError(t, err)

	require.NoError(t, s.WriteOutputs(ctx, []OutputValue{
		{DeploymentID: "dep-1", Name: "HTTP API URL", Value: "Something went wrong with deploying the API"},
		{DeploymentID: "dep-1", Name: "Bucket", Value: "b", Resolved: true},
	}))

	got, err := s.Outputs(ctx, "dep-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Bucket", got[0].Name)
	assert.True(t, got[0].Resolved)
	assert.False(t, got[1].Resolved)

	empty, err := s.Outputs(ctx, "dep-2")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestForeignKeysEnforced(t *testing.T) {
	s := openTestStore(t)
	err := s.RecordStageEvent(context.Background(), StageEvent{
		DeploymentID: "ghost", Seq: 1, Stage: "HostedZone", From: "unresolved", To: "pending",
	})
	assert.Error(t, err)
}

func TestAttributesRoundTrip(t *testing.T) {
	data, err := marshalAttributes(map[string]string{"url": "https://a<b>&c", "arn": "x"})
	require.NoError(t, err)
	assert.Equal(t, `{"arn":"x","url":"https://a<b>&c"}`, data)

	back, err := unmarshalAttributes(data)
	require.NoError(t, err)
	assert.Equal(t, "https://a<b>&c", back["url"])

	empty, err := unmarshalAttributes("")
	require.NoError(t, err)
	assert.NotNil(t, empty)
}
