package classify

import (
	"context"
	"testing"

	"github.com/deepresearch/orchestrator/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOverrides struct {
	values map[string]string
}

func (f *fakeOverrides) LoadDomainOverrides(ctx context.Context, dom domain.Domain) (map[string]string, error) {
	return f.values, nil
}

func TestPlaybookDefaultsCoverEveryKnownDomain(t *testing.T) {
	l := NewPlaybookLoader(nil, nil)
	for _, d := range knownDomains {
		cfg := l.Get(context.Background(), d)
		assert.Equal(t, d, cfg.Domain)
		assert.Greater(t, cfg.MaxCycles, 0)
	}
}

func TestPlaybookUnknownDomainFallsBackToGeneral(t *testing.T) {
	l := NewPlaybookLoader(nil, nil)
	cfg := l.Get(context.Background(), domain.Domain("nonsense"))
	assert.Equal(t, domain.DomainGeneral, cfg.Domain)
}

func TestPlaybookOverrideMergeIsLastWriteWins(t *testing.T) {
	overrides := &fakeOverrides{values: map[string]string{"saturation_threshold": "0.5"}}
	l := NewPlaybookLoader(overrides, nil)

	cfg := l.Get(context.Background(), domain.DomainMedical)
	require.InDelta(t, 0.5, cfg.SaturationThreshold, 1e-9)
	assert.Equal(t, 2, cfg.MinCycles) // untouched field retains its base value
}

func TestPlaybookLoadDirMissingIsNotAnError(t *testing.T) {
	l := NewPlaybookLoader(nil, nil)
	err := l.LoadDir("/nonexistent/path/for/playbooks")
	assert.NoError(t, err)
}
