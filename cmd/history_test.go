// File: cmd/history_test.go
package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/cartpilot-cli/internal/config"
	"github.com/xkilldash9x/cartpilot-cli/internal/store"
)

// fakeHistoryStore satisfies historyStore without a database.
type fakeHistoryStore struct {
	records []store.SessionRecord
	err     error

	gotLimit int
}

func (f *fakeHistoryStore) RecentSessions(_ context.Context, limit int) ([]store.SessionRecord, error) {
	f.gotLimit = limit
	return f.records, f.err
}

type fakeHistoryProvider struct {
	store     *fakeHistoryStore
	createErr error
	cleaned   bool
}

func (f *fakeHistoryProvider) Create(context.Context, *config.Config) (historyStore, func(), error) {
	if f.createErr != nil {
		return nil, nil, f.createErr
	}
	return f.store, func() { f.cleaned = true }, nil
}

func runHistoryCmd(t *testing.T, provider historyStoreProvider, args ...string) (string, error) {
	t.Helper()
	// The command normally inherits defaults from the root's config setup.
	config.SetDefaults(viper.GetViper())
	cmd := newHistoryCmdWithProvider(provider)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestHistoryCmd_PrintsRecords(t *testing.T) {
	started := time.Date(2026, 8, 29, 14, 30, 0, 0, time.UTC)
	provider := &fakeHistoryProvider{store: &fakeHistoryStore{
		records: []store.SessionRecord{
			{ID: "s-1", Query: "samsung phone", Platform: "amazon", State: "COMPLETED", StatusNote: "Order 403-1 placed.", StartedAt: started},
		},
	}}

	out, err := runHistoryCmd(t, provider)
	require.NoError(t, err)

	assert.Contains(t, out, "2026-08-29 14:30")
	assert.Contains(t, out, "samsung phone")
	assert.Contains(t, out, "Order 403-1 placed.")
	assert.True(t, provider.cleaned, "cleanup must run after the command")
	assert.Equal(t, 20, provider.store.gotLimit, "default limit should be passed through")
}

func TestHistoryCmd_LimitFlag(t *testing.T) {
	provider := &fakeHistoryProvider{store: &fakeHistoryStore{}}

	out, err := runHistoryCmd(t, provider, "--limit", "5")
	require.NoError(t, err)

	assert.Contains(t, out, "No purchase sessions recorded yet.")
	assert.Equal(t, 5, provider.store.gotLimit)
}

func TestHistoryCmd_ProviderFailure(t *testing.T) {
	provider := &fakeHistoryProvider{createErr: errors.New("database URL is not configured")}

	_, err := runHistoryCmd(t, provider)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database URL is not configured")
}

func TestHistoryCmd_QueryFailure(t *testing.T) {
	provider := &fakeHistoryProvider{store: &fakeHistoryStore{err: errors.New("connection reset")}}

	_, err := runHistoryCmd(t, provider)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load purchase history")
	assert.True(t, provider.cleaned)
}
