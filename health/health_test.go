package health

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/deepresearch/orchestrator/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAllPassIsHealthyWithExitZero(t *testing.T) {
	r := NewRegistry()
	r.Register(fakeProbe{name: "a", result: CheckResult{Status: StatusPass}})
	r.Register(fakeProbe{name: "b", result: CheckResult{Status: StatusPass}})

	report := r.Run(context.Background())

	assert.True(t, report.Healthy)
	assert.Equal(t, 0, report.ExitCode())
	assert.Equal(t, FeatureEnabled, report.Matrix["a"])
}

func TestRegistryWarnDegradesWithoutFailingHealth(t *testing.T) {
	r := NewRegistry()
	r.Register(fakeProbe{name: "a", result: CheckResult{Status: StatusPass}})
	r.Register(fakeProbe{name: "providers", result: CheckResult{Status: StatusWarn, Message: "no providers"}})

	report := r.Run(context.Background())

	assert.True(t, report.Healthy)
	assert.Equal(t, 1, report.ExitCode())
	assert.Equal(t, FeatureDegraded, report.Matrix["providers"])
}

func TestRegistryFatalFailureMarksUnhealthyWithExitTwo(t *testing.T) {
	r := NewRegistry()
	r.Register(fakeProbe{name: "inference_backend", result: CheckResult{Status: StatusFail, Fatal: true}})

	report := r.Run(context.Background())

	assert.False(t, report.Healthy)
	assert.Equal(t, 2, report.ExitCode())
}

func TestInferenceBackendProbeFailsFatalWhenPingErrors(t *testing.T) {
	p := inferenceBackendProbe{ping: func(ctx context.Context) error { return errors.New("connection refused") }}
	result := p.Check(context.Background())
	assert.Equal(t, StatusFail, result.Status)
	assert.True(t, result.Fatal)
}

func TestInferenceBackendProbePassesWhenReachable(t *testing.T) {
	p := inferenceBackendProbe{ping: func(ctx context.Context) error { return nil }}
	result := p.Check(context.Background())
	assert.Equal(t, StatusPass, result.Status)
}

func TestDataDirProbePassesForWritableDir(t *testing.T) {
	dir := t.TempDir()
	p := dataDirProbe{dir: filepath.Join(dir, "nested")}
	result := p.Check(context.Background())
	assert.Equal(t, StatusPass, result.Status)
}

func TestDomainConfigProbeWarnsWhenDirectoryMissing(t *testing.T) {
	p := domainConfigProbe{dir: filepath.Join(t.TempDir(), "does-not-exist")}
	result := p.Check(context.Background())
	assert.Equal(t, StatusWarn, result.Status)
}

func TestDomainConfigProbePassesWhenDirectoryExists(t *testing.T) {
	dir := t.TempDir()
	p := domainConfigProbe{dir: dir}
	result := p.Check(context.Background())
	assert.Equal(t, StatusPass, result.Status)
}

func TestProviderCredentialProbeWarnsWithNoCredentials(t *testing.T) {
	p := providerCredentialProbe{cfg: config.Default()}
	result := p.Check(context.Background())
	assert.Equal(t, StatusWarn, result.Status)
}

func TestProviderCredentialProbePassesWithCredentials(t *testing.T) {
	cfg := config.Default()
	cfg.Providers.TavilyAPIKey = "tvly-1"
	p := providerCredentialProbe{cfg: cfg}
	result := p.Check(context.Background())
	assert.Equal(t, StatusPass, result.Status)
}

type fakeProbe struct {
	name   string
	result CheckResult
}

func (p fakeProbe) Name() string                             { return p.name }
func (p fakeProbe) Check(ctx context.Context) CheckResult { return p.result }

func TestStandardProbesIncludesAllFour(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	probes := StandardProbes(cfg, func(ctx context.Context) error { return nil }, "")
	require.Len(t, probes, 4)
}
