// Package health runs the orchestrator's startup probes and produces the
// feature-availability matrix (spec §6): which providers and backends are
// usable, degraded, or disabled, and the process exit code that should
// follow.
package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/deepresearch/orchestrator/config"
)

// Status is a single probe's outcome.
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
	StatusWarn Status = "warn"
)

// Probe is a single named startup check, mirroring the handlers.HealthCheck
// shape but returning a Status rather than a bare error so a probe can
// report "degraded" without failing the whole process.
type Probe interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// CheckResult is one probe's verdict. Fatal distinguishes a failure that
// must stop the process (inference backend unreachable, data dir
// unwritable) from one that only degrades a feature (a missing provider
// credential).
type CheckResult struct {
	Status  Status
	Message string
	Fatal   bool
}

// FeatureState enumerates how a capability is available at runtime.
type FeatureState string

const (
	FeatureEnabled  FeatureState = "enabled"
	FeatureDegraded FeatureState = "degraded"
	FeatureDisabled FeatureState = "disabled"
)

// FeatureMatrix reports per-capability availability, derived from the
// probe results (spec §6).
type FeatureMatrix map[string]FeatureState

// Report is the full startup health report.
type Report struct {
	Checks  map[string]CheckResult
	Matrix  FeatureMatrix
	Healthy bool
}

// ExitCode maps a Report to the process exit code spec §6 defines:
// 0 = fully healthy, 1 = degraded but usable, 2 = fatal (can't start).
func (r *Report) ExitCode() int {
	if !r.Healthy {
		return 2
	}
	for _, state := range r.Matrix {
		if state == FeatureDegraded {
			return 1
		}
	}
	return 0
}

// Registry runs a fixed set of probes and assembles the Report.
type Registry struct {
	mu     sync.Mutex
	probes []Probe
}

func NewRegistry() *Registry { return &Registry{} }

func (r *Registry) Register(p Probe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes = append(r.probes, p)
}

// Run executes every registered probe and builds the Report. A failing
// fatal probe (inference backend, data-dir writability) marks the whole
// report unhealthy; a failing optional probe (a provider credential)
// degrades its own feature entry without failing the process.
func (r *Registry) Run(ctx context.Context) *Report {
	r.mu.Lock()
	probes := make([]Probe, len(r.probes))
	copy(probes, r.probes)
	r.mu.Unlock()

	report := &Report{
		Checks:  make(map[string]CheckResult, len(probes)),
		Matrix:  make(FeatureMatrix, len(probes)),
		Healthy: true,
	}

	for _, p := range probes {
		result := p.Check(ctx)
		report.Checks[p.Name()] = result

		switch result.Status {
		case StatusPass:
			report.Matrix[p.Name()] = FeatureEnabled
		case StatusWarn:
			report.Matrix[p.Name()] = FeatureDegraded
		case StatusFail:
			report.Matrix[p.Name()] = FeatureDisabled
			if result.Fatal {
				report.Healthy = false
			}
		}
	}
	return report
}

// StandardProbes builds the fixed startup-probe set: inference backend
// reachability, data-dir writability, domain-config directory presence,
// and provider enumeration. Provider credentials are only counted as set or
// unset; their format is not validated.
func StandardProbes(cfg *config.Config, pingOllama func(ctx context.Context) error, playbookDir string) []Probe {
	return []Probe{
		inferenceBackendProbe{ping: pingOllama},
		dataDirProbe{dir: cfg.DataDir},
		domainConfigProbe{dir: playbookDir},
		providerCredentialProbe{cfg: cfg},
	}
}

// inferenceBackendProbe is fatal: with no local model reachable, no tier
// can ever complete, local-only sessions are impossible (spec §6).
type inferenceBackendProbe struct {
	ping func(ctx context.Context) error
}

func (p inferenceBackendProbe) Name() string { return "inference_backend" }

func (p inferenceBackendProbe) Check(ctx context.Context) CheckResult {
	if p.ping == nil {
		return CheckResult{Status: StatusFail, Message: "no inference backend configured", Fatal: true}
	}
	if err := p.ping(ctx); err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("unreachable: %v", err), Fatal: true}
	}
	return CheckResult{Status: StatusPass}
}

// dataDirProbe is fatal: memory persistence can't function without a
// writable data directory.
type dataDirProbe struct {
	dir string
}

func (p dataDirProbe) Name() string { return "data_dir_writable" }

func (p dataDirProbe) Check(ctx context.Context) CheckResult {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("cannot create data dir: %v", err), Fatal: true}
	}
	probe := filepath.Join(p.dir, ".health_probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("data dir not writable: %v", err), Fatal: true}
	}
	_ = os.Remove(probe)
	return CheckResult{Status: StatusPass}
}

// domainConfigProbe is a warning only: classify.PlaybookLoader falls back
// to built-in defaults when the directory is absent (spec §4.8), so a
// missing directory degrades rather than blocks startup.
type domainConfigProbe struct {
	dir string
}

func (p domainConfigProbe) Name() string { return "domain_config" }

func (p domainConfigProbe) Check(ctx context.Context) CheckResult {
	if p.dir == "" {
		return CheckResult{Status: StatusWarn, Message: "no playbook directory configured, using built-in defaults"}
	}
	if _, err := os.Stat(p.dir); err != nil {
		return CheckResult{Status: StatusWarn, Message: fmt.Sprintf("playbook directory missing, using built-in defaults: %v", err)}
	}
	return CheckResult{Status: StatusPass}
}

// providerCredentialProbe never fails the process. With zero credentialed
// search providers only the crawler provider remains registered, and
// cmd/researchd gives it no seed URLs, so the session is severely degraded.
type providerCredentialProbe struct {
	cfg *config.Config
}

func (p providerCredentialProbe) Name() string { return "providers" }

func (p providerCredentialProbe) Check(ctx context.Context) CheckResult {
	enabled := p.cfg.EnabledProviders()
	if len(enabled) == 0 {
		return CheckResult{Status: StatusWarn, Message: "no search provider credentials configured; falling back to crawler-only collection"}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%d provider(s) enabled", len(enabled))}
}
