package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSignature() Signature {
	return Signature{
		SignatureHash: "deadbeef",
		FeatureVector: FeatureVector{
			EventTypeHistogram:      map[int]int{1: 2, 3: 1},
			ProcessTreeDepth:        2,
			NetworkConnectionsCount: 1,
			CriticalEventsCount:     3,
		},
		CoreEventCount:    2,
		SupportEventCount: 1,
		NoiseEventCount:   0,
		DurationSeconds:   4.5,
		QualityScore:      0.82,
		Warnings:          []string{"short observation window"},
		Status:            StatusCompleted,
		Severity:          "yellow",
		SeverityReason:    "matched core pattern",
		CorePattern: []CoreEventEntry{
			{Position: 0, EventKind: 1},
			{Position: 1, EventKind: 3},
		},
		Whitelist: []WhitelistEntry{
			{EntryType: "IP", Value: "10.0.0.1", AutoGenerated: true},
		},
	}
}

func TestSaveNormalization_PersistsSignaturePatternAndWhitelist(t *testing.T) {
	s := newTestStore(t)
	testID, _ := newCatalogTest(t, s)

	sigID, err := s.SaveNormalization(t.Context(), testID, sampleSignature())
	require.NoError(t, err)
	assert.NotZero(t, sigID)

	sig, ok, err := s.GetSignatureByTest(t.Context(), testID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "deadbeef", sig.SignatureHash)
	require.Len(t, sig.CorePattern, 2)
	require.Len(t, sig.Whitelist, 1)
	assert.Equal(t, 2, sig.FeatureVector.EventTypeHistogram[1])
}

func TestSaveNormalization_ReNormalizationReplacesPriorSignature(t *testing.T) {
	s := newTestStore(t)
	testID, _ := newCatalogTest(t, s)

	_, err := s.SaveNormalization(t.Context(), testID, sampleSignature())
	require.NoError(t, err)

	second := sampleSignature()
	second.SignatureHash = "cafef00d"
	second.CorePattern = []CoreEventEntry{{Position: 0, EventKind: 1}}
	_, err = s.SaveNormalization(t.Context(), testID, second)
	require.NoError(t, err)

	sig, ok, err := s.GetSignatureByTest(t.Context(), testID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "cafef00d", sig.SignatureHash)
	assert.Len(t, sig.CorePattern, 1)
}

func TestListSignatures_OnlyReturnsCompletedStatus(t *testing.T) {
	s := newTestStore(t)
	testID, _ := newCatalogTest(t, s)

	failed := sampleSignature()
	failed.Status = StatusFailed
	_, err := s.SaveNormalization(t.Context(), testID, failed)
	require.NoError(t, err)

	sigs, err := s.ListSignatures(t.Context())
	require.NoError(t, err)
	assert.Empty(t, sigs)

	completed := sampleSignature()
	_, err = s.SaveNormalization(t.Context(), testID, completed)
	require.NoError(t, err)

	sigs, err = s.ListSignatures(t.Context())
	require.NoError(t, err)
	require.Len(t, sigs, 1)
}

func TestPromoteWhitelistEntry_SetsApproved(t *testing.T) {
	s := newTestStore(t)
	testID, _ := newCatalogTest(t, s)
	_, err := s.SaveNormalization(t.Context(), testID, sampleSignature())
	require.NoError(t, err)

	sig, ok, err := s.GetSignatureByTest(t.Context(), testID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, sig.Whitelist, 1)
	assert.False(t, sig.Whitelist[0].Approved)

	require.NoError(t, s.PromoteWhitelistEntry(t.Context(), sig.Whitelist[0].ID))

	sig, _, err = s.GetSignatureByTest(t.Context(), testID)
	require.NoError(t, err)
	assert.True(t, sig.Whitelist[0].Approved)
}
