package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntityKind(t *testing.T) {
	tests := []struct {
		in   string
		want EntityKind
	}{
		{"repository_case", KindRepositoryCase},
		{"repositoryCases", KindRepositoryCase},
		{"sharedSteps", KindSharedStep},
		{"testRuns", KindTestRun},
		{" Sessions ", KindSession},
		{"issues", KindIssue},
		{"milestone", KindMilestone},
		{"projects", KindProject},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEntityKind(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseEntityKind("folders")
	assert.True(t, errors.Is(err, ErrUnknownEntityKind))
}

func TestSelectKinds(t *testing.T) {
	kinds, err := SelectKinds("all")
	require.NoError(t, err)
	assert.Equal(t, AllKinds(), kinds)

	kinds, err = SelectKinds("")
	require.NoError(t, err)
	assert.Len(t, kinds, 7)

	kinds, err = SelectKinds("issues")
	require.NoError(t, err)
	assert.Equal(t, []EntityKind{KindIssue}, kinds)

	_, err = SelectKinds("nope")
	assert.Error(t, err)
}

func TestAllKinds_ReturnsCopy(t *testing.T) {
	kinds := AllKinds()
	kinds[0] = "mutated"
	assert.Equal(t, KindRepositoryCase, AllKinds()[0])
	for _, k := range AllKinds() {
		assert.True(t, k.Valid(), k)
		assert.NotEmpty(t, k.Label())
	}
}

func TestIssue_ResolveProject_Chain(t *testing.T) {
	direct := int64(3)
	tests := []struct {
		name       string
		issue      Issue
		wantID     int64
		wantSource string
	}{
		{
			name:       "direct project wins",
			issue:      Issue{Project: &ProjectRef{ID: 1, Name: "Direct"}, Links: IssueLinks{RepositoryCases: []ProjectRef{{ID: 2}}}},
			wantID:     1,
			wantSource: "project",
		},
		{
			name:       "project id without relation",
			issue:      Issue{ProjectID: &direct},
			wantID:     3,
			wantSource: "project",
		},
		{
			name:       "repository case before session",
			issue:      Issue{Links: IssueLinks{RepositoryCases: []ProjectRef{{ID: 4}}, Sessions: []ProjectRef{{ID: 5}}}},
			wantID:     4,
			wantSource: "repositoryCases",
		},
		{
			name:       "session before test run",
			issue:      Issue{Links: IssueLinks{Sessions: []ProjectRef{{ID: 5}}, TestRuns: []ProjectRef{{ID: 6}}}},
			wantID:     5,
			wantSource: "sessions",
		},
		{
			name:       "test run step result last",
			issue:      Issue{Links: IssueLinks{TestRunStepResults: []ProjectRef{{ID: 9}}}},
			wantID:     9,
			wantSource: "testRunStepResults",
		},
		{
			name:       "session result before test run result",
			issue:      Issue{Links: IssueLinks{SessionResults: []ProjectRef{{ID: 7}}, TestRunResults: []ProjectRef{{ID: 8}}}},
			wantID:     7,
			wantSource: "sessionResults",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, source := tt.issue.ResolveProject()
			require.NotNil(t, ref)
			assert.Equal(t, tt.wantID, ref.ID)
			assert.Equal(t, tt.wantSource, source)
			assert.Equal(t, tt.wantID, tt.issue.OwnerProjectID())
		})
	}
}

func TestIssue_ResolveProject_Orphan(t *testing.T) {
	issue := Issue{ID: 10}
	ref, source := issue.ResolveProject()
	assert.Nil(t, ref)
	assert.Empty(t, source)
	assert.Zero(t, issue.OwnerProjectID())

	doc := &IssueDocument{ID: 10}
	assert.NotEmpty(t, doc.SkipReason())
	doc.ProjectID = 1
	assert.Empty(t, doc.SkipReason())
}

func TestNewEntity(t *testing.T) {
	for _, kind := range AllKinds() {
		e, err := NewEntity(kind)
		require.NoError(t, err)
		assert.Equal(t, kind, e.Kind())
		e.SetEntityID(42)
		assert.Equal(t, int64(42), e.EntityID())
	}
	_, err := NewEntity("bogus")
	assert.ErrorIs(t, err, ErrUnknownEntityKind)
}
