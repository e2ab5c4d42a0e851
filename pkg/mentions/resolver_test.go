package mentions_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/penf-chat/pkg/logging"
	"github.com/otherjamesbrown/penf-chat/pkg/mentions"
	"github.com/otherjamesbrown/penf-chat/pkg/mentions/mentionstest"
)

const (
	ws1 = "ws-1"
	ws2 = "ws-2"
)

func strPtr(s string) *string { return &s }

// MockDirectory implements mentions.Directory for testing.
type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) GetByID(ctx context.Context, id string) (*mentions.Entity, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*mentions.Entity), args.Error(1)
}

func (m *MockDirectory) FindByName(ctx context.Context, name, workspaceID string) (*mentions.Entity, error) {
	args := m.Called(ctx, name, workspaceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*mentions.Entity), args.Error(1)
}

func (m *MockDirectory) FindGlobalByName(ctx context.Context, name string) (*mentions.Entity, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*mentions.Entity), args.Error(1)
}

func testDirectory() *mentionstest.MemoryDirectory {
	return mentionstest.NewMemoryDirectory(
		mentions.Entity{ID: "bot-ws1", Name: "Bot", WorkspaceID: strPtr(ws1), Visibility: mentions.VisibilityPrivate},
		mentions.Entity{ID: "bot-global", Name: "Bot", Visibility: mentions.VisibilityGlobal},
		mentions.Entity{ID: "secret-ws1", Name: "Secret", WorkspaceID: strPtr(ws1), Visibility: mentions.VisibilityPrivate},
		mentions.Entity{ID: "shared-ws1", Name: "Shared", WorkspaceID: strPtr(ws1), Visibility: mentions.VisibilityGlobal},
		mentions.Entity{ID: "helper-ws2", Name: "Helper", WorkspaceID: strPtr(ws2), Visibility: mentions.VisibilityPrivate},
	)
}

func resolveOne(t *testing.T, r *mentions.Resolver, text, workspaceID string) mentions.Resolution {
	t.Helper()
	candidates := mentions.Extract(text)
	require.Len(t, candidates, 1)
	return r.Resolve(context.Background(), candidates[0], workspaceID)
}

func TestResolve_WorkspaceBeatsGlobal(t *testing.T) {
	r := mentions.NewResolver(testDirectory(), logging.NewNopLogger())

	res := resolveOne(t, r, "@Bot", ws1)
	require.True(t, res.OK())
	assert.Equal(t, "bot-ws1", res.Mention.EntityID)
	assert.Equal(t, mentions.ScopeWorkspace, res.Mention.Scope)

	res = resolveOne(t, r, "@Bot", ws2)
	require.True(t, res.OK())
	assert.Equal(t, "bot-global", res.Mention.EntityID)
	assert.Equal(t, mentions.ScopeGlobal, res.Mention.Scope)
}

func TestResolve_ExplicitID(t *testing.T) {
	r := mentions.NewResolver(testDirectory(), logging.NewNopLogger())

	tests := []struct {
		name       string
		text       string
		workspace  string
		wantEntity string
		wantScope  mentions.Scope
		wantReason mentions.FailureReason
	}{
		{
			name:       "own workspace clone",
			text:       "@Secret[id:secret-ws1]",
			workspace:  ws1,
			wantEntity: "secret-ws1",
			wantScope:  mentions.ScopeWorkspace,
		},
		{
			name:       "explicit id beats name precedence",
			text:       "@Bot[id:bot-global]",
			workspace:  ws1,
			wantEntity: "bot-global",
			wantScope:  mentions.ScopeGlobal,
		},
		{
			name:       "globally visible clone from other workspace",
			text:       "@Shared[id:shared-ws1]",
			workspace:  ws2,
			wantEntity: "shared-ws1",
			wantScope:  mentions.ScopeGlobal,
		},
		{
			name:       "private clone from other workspace",
			text:       "@Secret[id:secret-ws1]",
			workspace:  ws2,
			wantReason: mentions.FailureNotVisible,
		},
		{
			name:       "private clone not retried by name",
			text:       "@Helper[id:helper-ws2]",
			workspace:  ws1,
			wantReason: mentions.FailureNotVisible,
		},
		{
			name:       "stale id falls back to name",
			text:       "@Bot[id:deleted]",
			workspace:  ws1,
			wantEntity: "bot-ws1",
			wantScope:  mentions.ScopeWorkspace,
		},
		{
			name:       "stale id and unknown name",
			text:       "@Ghost[id:deleted]",
			workspace:  ws1,
			wantReason: mentions.FailureNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := resolveOne(t, r, tt.text, tt.workspace)
			if tt.wantReason != "" {
				require.False(t, res.OK())
				require.NotNil(t, res.Failure)
				assert.Nil(t, res.Mention)
				assert.Equal(t, tt.wantReason, res.Failure.Reason)
				return
			}
			require.True(t, res.OK())
			assert.Nil(t, res.Failure)
			assert.Equal(t, tt.wantEntity, res.Mention.EntityID)
			assert.Equal(t, tt.wantScope, res.Mention.Scope)
			assert.Equal(t, tt.text, res.Mention.RawSpan)
		})
	}
}

func TestResolve_NotFound(t *testing.T) {
	r := mentions.NewResolver(testDirectory(), logging.NewNopLogger())

	res := resolveOne(t, r, "ping @nobody", ws1)
	require.NotNil(t, res.Failure)
	assert.Equal(t, mentions.FailureNotFound, res.Failure.Reason)
	assert.Contains(t, res.Failure.Error(), "@nobody")
}

func TestResolve_WorkspaceCloneInvisibleByNameElsewhere(t *testing.T) {
	r := mentions.NewResolver(testDirectory(), logging.NewNopLogger())

	res := resolveOne(t, r, "@Helper", ws1)
	require.NotNil(t, res.Failure)
	assert.Equal(t, mentions.FailureNotFound, res.Failure.Reason)
}

func TestResolve_LookupError(t *testing.T) {
	dirErr := errors.New("connection reset")
	dir := new(MockDirectory)
	dir.On("FindByName", mock.Anything, "Bot", ws1).Return(nil, dirErr)

	r := mentions.NewResolver(dir, logging.NewNopLogger())
	res := resolveOne(t, r, "@Bot", ws1)

	require.NotNil(t, res.Failure)
	assert.Equal(t, mentions.FailureLookup, res.Failure.Reason)
	assert.ErrorIs(t, res.Failure, dirErr)
	dir.AssertNotCalled(t, "FindGlobalByName", mock.Anything, mock.Anything)
	dir.AssertExpectations(t)
}

func TestResolveAll_IsolatesFailures(t *testing.T) {
	dir := new(MockDirectory)
	helper := &mentions.Entity{ID: "h1", Name: "Helper", WorkspaceID: strPtr(ws1)}
	dir.On("FindByName", mock.Anything, "Helper", ws1).Return(helper, nil)
	dir.On("FindByName", mock.Anything, "Broken", ws1).Return(nil, errors.New("timeout"))
	dir.On("FindByName", mock.Anything, "Nobody", ws1).Return(nil, nil)
	dir.On("FindGlobalByName", mock.Anything, "Nobody").Return(nil, nil)

	r := mentions.NewResolver(dir, logging.NewNopLogger())
	candidates := mentions.Extract("@Broken @Helper @Nobody @Helper")

	resolved, failures := r.ResolveAll(context.Background(), candidates, ws1)

	require.Len(t, resolved, 2)
	assert.Equal(t, "h1", resolved[0].EntityID)
	assert.Equal(t, "h1", resolved[1].EntityID)

	require.Len(t, failures, 2)
	assert.Equal(t, mentions.FailureLookup, failures[0].Reason)
	assert.Equal(t, "@Broken", failures[0].Candidate.RawSpan)
	assert.Equal(t, mentions.FailureNotFound, failures[1].Reason)

	assert.Len(t, mentions.Distinct(resolved), 1)
}

func TestResolveAll_VisibilityEnforced(t *testing.T) {
	r := mentions.NewResolver(testDirectory(), logging.NewNopLogger())
	candidates := mentions.Extract("@Secret[id:secret-ws1] and @Bot")

	resolved, failures := r.ResolveAll(context.Background(), candidates, ws2)

	require.Len(t, resolved, 1)
	assert.Equal(t, "bot-global", resolved[0].EntityID)
	for _, rm := range resolved {
		assert.NotEqual(t, "secret-ws1", rm.EntityID)
	}
	require.Len(t, failures, 1)
	assert.Equal(t, mentions.FailureNotVisible, failures[0].Reason)
	assert.Equal(t, "secret-ws1", failures[0].EntityID)
}

func TestResolveAll_Empty(t *testing.T) {
	r := mentions.NewResolver(testDirectory(), logging.NewNopLogger())

	resolved, failures := r.ResolveAll(context.Background(), nil, ws1)
	assert.Nil(t, resolved)
	assert.Nil(t, failures)
}
