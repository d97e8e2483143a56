package classify

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/deepresearch/orchestrator/domain"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// OverrideSource loads persisted per-domain field overrides (backed by
// memory.Store in production) to merge over the shipped YAML playbook
// (spec §4.8).
type OverrideSource interface {
	LoadDomainOverrides(ctx context.Context, dom domain.Domain) (map[string]string, error)
}

// playbookFile is the on-disk shape of a single domain's YAML playbook.
type playbookFile struct {
	Domain              string   `yaml:"domain"`
	PreferredProviders  []string `yaml:"preferred_providers"`
	MinCycles           int      `yaml:"min_cycles"`
	MaxCycles           int      `yaml:"max_cycles"`
	SaturationThreshold float64  `yaml:"saturation_threshold"`
	MandatoryInclusions []string `yaml:"mandatory_inclusions"`
	Verification        struct {
		Enabled              bool    `yaml:"enabled"`
		MinConfidenceToCheck float64 `yaml:"min_confidence_to_check"`
		MaxFactsToVerify     int     `yaml:"max_facts_to_verify"`
	} `yaml:"verification"`
}

// PlaybookLoader reads the YAML-defined base configuration per domain and
// layers persisted operator overrides on top, shallow and last-write-wins.
type PlaybookLoader struct {
	mu        sync.RWMutex
	base      map[domain.Domain]domain.DomainConfiguration
	overrides OverrideSource
	logger    *zap.Logger
}

// NewPlaybookLoader builds a loader with defaultPlaybooks() seeded as the
// fallback base before any directory is loaded.
func NewPlaybookLoader(overrides OverrideSource, logger *zap.Logger) *PlaybookLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlaybookLoader{
		base:      defaultPlaybooks(),
		overrides: overrides,
		logger:    logger.With(zap.String("component", "playbook_loader")),
	}
}

// LoadDir reads every regular file in dir (subdirectories are skipped,
// extensions are not checked) as a YAML playbookFile, replacing the
// base configuration for the domain it names. A missing directory is not
// an error — the built-in defaults remain in effect (spec §4.8, §6:
// "absence of domain config files degrades rather than fails startup").
func (l *PlaybookLoader) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			l.logger.Info("domain playbook directory absent, using defaults", zap.String("dir", dir))
			return nil
		}
		return fmt.Errorf("classify: read playbook dir: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := dir + "/" + entry.Name()
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("classify: read playbook %s: %w", path, err)
		}
		var pf playbookFile
		if err := yaml.Unmarshal(data, &pf); err != nil {
			return fmt.Errorf("classify: parse playbook %s: %w", path, err)
		}
		cfg := domain.DomainConfiguration{
			Domain:              domain.Domain(pf.Domain),
			PreferredProviders:  pf.PreferredProviders,
			MinCycles:           pf.MinCycles,
			MaxCycles:           pf.MaxCycles,
			SaturationThreshold: pf.SaturationThreshold,
			MandatoryInclusions: pf.MandatoryInclusions,
			Verification: domain.VerificationPolicy{
				Enabled:              pf.Verification.Enabled,
				MinConfidenceToCheck: pf.Verification.MinConfidenceToCheck,
				MaxFactsToVerify:     pf.Verification.MaxFactsToVerify,
			},
		}
		l.base[cfg.Domain] = cfg
		l.logger.Info("loaded domain playbook", zap.String("domain", pf.Domain), zap.String("path", path))
	}
	return nil
}

// Get returns dom's configuration with persisted overrides merged in.
// Unknown domains fall back to DomainGeneral's configuration.
func (l *PlaybookLoader) Get(ctx context.Context, dom domain.Domain) domain.DomainConfiguration {
	l.mu.RLock()
	cfg, ok := l.base[dom]
	if !ok {
		cfg = l.base[domain.DomainGeneral]
	}
	l.mu.RUnlock()

	if l.overrides == nil {
		return cfg
	}
	overrides, err := l.overrides.LoadDomainOverrides(ctx, dom)
	if err != nil || len(overrides) == 0 {
		return cfg
	}
	return applyOverrides(cfg, overrides)
}

// applyOverrides shallow-merges string-encoded override values onto cfg,
// last-write-wins per field. Unrecognized or unparsable fields are skipped
// rather than failing the whole merge.
func applyOverrides(cfg domain.DomainConfiguration, overrides map[string]string) domain.DomainConfiguration {
	for field, value := range overrides {
		switch field {
		case "saturation_threshold":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				cfg.SaturationThreshold = f
			}
		case "min_cycles":
			if i, err := strconv.Atoi(value); err == nil {
				cfg.MinCycles = i
			}
		case "max_cycles":
			if i, err := strconv.Atoi(value); err == nil {
				cfg.MaxCycles = i
			}
		case "verification.enabled":
			if b, err := strconv.ParseBool(value); err == nil {
				cfg.Verification.Enabled = b
			}
		case "verification.min_confidence_to_check":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				cfg.Verification.MinConfidenceToCheck = f
			}
		}
	}
	return cfg
}

// defaultPlaybooks is the built-in base configuration used when no YAML
// directory is supplied, covering every domain the classifier can produce.
func defaultPlaybooks() map[domain.Domain]domain.DomainConfiguration {
	return map[domain.Domain]domain.DomainConfiguration{
		domain.DomainGeneral: {
			Domain:              domain.DomainGeneral,
			PreferredProviders:  []string{"tavily", "brave", "crawler"},
			MinCycles:           1,
			MaxCycles:           5,
			SaturationThreshold: 0.85,
		},
		domain.DomainMedical: {
			Domain:              domain.DomainMedical,
			PreferredProviders:  []string{"semantic_scholar", "unpaywall", "tavily"},
			MinCycles:           2,
			MaxCycles:           8,
			SaturationThreshold: 0.92,
			MandatoryInclusions: []string{"clinical trial status", "contraindications"},
			Verification: domain.VerificationPolicy{
				Enabled:              true,
				MinConfidenceToCheck: 0.6,
				MaxFactsToVerify:     10,
			},
		},
		domain.DomainRegulatory: {
			Domain:              domain.DomainRegulatory,
			PreferredProviders:  []string{"tavily", "brave", "crawler"},
			MinCycles:           2,
			MaxCycles:           8,
			SaturationThreshold: 0.9,
			MandatoryInclusions: []string{"effective date", "jurisdiction"},
			Verification: domain.VerificationPolicy{
				Enabled:              true,
				MinConfidenceToCheck: 0.7,
				MaxFactsToVerify:     8,
			},
		},
		domain.DomainAcademic: {
			Domain:              domain.DomainAcademic,
			PreferredProviders:  []string{"semantic_scholar", "exa", "unpaywall"},
			MinCycles:           2,
			MaxCycles:           6,
			SaturationThreshold: 0.88,
		},
		domain.DomainCompetitiveIntelligence: {
			Domain:              domain.DomainCompetitiveIntelligence,
			PreferredProviders:  []string{"exa", "tavily", "brave", "crawler"},
			MinCycles:           1,
			MaxCycles:           6,
			SaturationThreshold: 0.8,
		},
	}
}
