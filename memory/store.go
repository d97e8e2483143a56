package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deepresearch/orchestrator/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// sessionRecord persists the durable slice of a Session, written by
// SaveSession. Nothing in this module reads it back: GET
// /research/{id}/status answers from the in-memory orchestrator.
type sessionRecord struct {
	ID            string `gorm:"primaryKey"`
	OriginalQuery string
	Domain        string
	PrivacyMode   string
	Phase         string
	Cycle         int
	StopReason    string
	ReportJSON    string `gorm:"type:text"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (sessionRecord) TableName() string { return "sessions" }

// sourceEffectivenessRecord is the EMA-scored (domain, source) row that
// search.Selector consults, through Store.Effectiveness, when ranking
// providers for Collect (spec §4.4, §4.7).
type sourceEffectivenessRecord struct {
	Domain      string `gorm:"primaryKey"`
	Source      string `gorm:"primaryKey"`
	EMA         float64
	SampleCount int
	UpdatedAt   time.Time
}

func (sourceEffectivenessRecord) TableName() string { return "source_effectiveness" }

// accessFailureRecord tracks repeated fetch/search failures so Collect can
// skip known-dead endpoints (spec §4.4, §4.5, §7).
type accessFailureRecord struct {
	URL       string `gorm:"primaryKey"`
	Provider  string `gorm:"primaryKey"`
	Kind      string
	Count     int
	FirstSeen time.Time
	LastSeen  time.Time
}

func (accessFailureRecord) TableName() string { return "access_failures" }

// domainConfigOverrideRecord holds operator edits layered over the shipped
// YAML playbook for a domain (spec §4.8: "persisted overrides merge
// shallowly, last-write-wins, over the file-defined base").
type domainConfigOverrideRecord struct {
	Domain    string `gorm:"primaryKey"`
	FieldPath string `gorm:"primaryKey"`
	Value     string
	UpdatedAt time.Time
}

func (domainConfigOverrideRecord) TableName() string { return "domain_config_overrides" }

// emaAlpha is the exponential-moving-average smoothing factor for source
// effectiveness updates (spec §4.7).
const emaAlpha = 0.2

// Store is the structured persistence facade backing the learning loop:
// session bookkeeping, provider effectiveness, access failures, and
// playbook overrides.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore wraps db, running AutoMigrate for every table this package owns.
func NewStore(db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(
		&sessionRecord{},
		&sourceEffectivenessRecord{},
		&accessFailureRecord{},
		&domainConfigOverrideRecord{},
	); err != nil {
		return nil, fmt.Errorf("memory: auto migrate: %w", err)
	}
	return &Store{db: db, logger: logger.With(zap.String("component", "structured_store"))}, nil
}

// SaveSession upserts the durable view of sess.
func (s *Store) SaveSession(ctx context.Context, sess *domain.Session) error {
	rec := sessionRecord{
		ID:            sess.ID,
		OriginalQuery: sess.OriginalQuery,
		Domain:        string(sess.Domain),
		PrivacyMode:   string(sess.PrivacyMode),
		Phase:         string(sess.Phase),
		Cycle:         sess.Cycle,
		StopReason:    string(sess.StopReason),
		CreatedAt:     sess.CreatedAt,
		UpdatedAt:     sess.UpdatedAt,
	}
	if sess.Report != nil {
		b, err := json.Marshal(sess.Report)
		if err != nil {
			return fmt.Errorf("memory: marshal report for session %s: %w", sess.ID, err)
		}
		rec.ReportJSON = string(b)
	}
	err := s.db.WithContext(ctx).Save(&rec).Error
	if err != nil {
		return fmt.Errorf("memory: save session %s: %w", sess.ID, err)
	}
	return nil
}

// RecordAccessFailure upserts a failure observation, incrementing Count
// when the (url, provider) pair was already seen.
func (s *Store) RecordAccessFailure(url, provider string, kind domain.AccessFailureKind) {
	ctx := context.Background()
	now := time.Now()

	var existing accessFailureRecord
	err := s.db.WithContext(ctx).Where("url = ? AND provider = ?", url, provider).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		rec := accessFailureRecord{URL: url, Provider: provider, Kind: string(kind), Count: 1, FirstSeen: now, LastSeen: now}
		if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
			s.logger.Warn("record access failure", zap.Error(err))
		}
		return
	}
	if err != nil {
		s.logger.Warn("lookup access failure", zap.Error(err))
		return
	}

	existing.Count++
	existing.Kind = string(kind)
	existing.LastSeen = now
	if err := s.db.WithContext(ctx).Save(&existing).Error; err != nil {
		s.logger.Warn("update access failure", zap.Error(err))
	}
}

// RecentFailureCount returns how many times url has failed against
// provider, used by Collect to skip endpoints past a failure threshold.
func (s *Store) RecentFailureCount(ctx context.Context, url, provider string) int {
	var rec accessFailureRecord
	err := s.db.WithContext(ctx).Where("url = ? AND provider = ?", url, provider).First(&rec).Error
	if err != nil {
		return 0
	}
	return rec.Count
}

// Effectiveness implements search.EffectivenessSource.
func (s *Store) Effectiveness(dom domain.Domain, provider string) (float64, bool) {
	var rec sourceEffectivenessRecord
	err := s.db.WithContext(context.Background()).
		Where("domain = ? AND source = ?", string(dom), provider).First(&rec).Error
	if err != nil {
		return 0, false
	}
	return rec.EMA, true
}

// UpdateEffectiveness applies one EMA observation for (domain, source):
// outcome is 1.0 when the source contributed a fact that survived
// analysis, 0.0 when it did not (spec §4.7).
func (s *Store) UpdateEffectiveness(ctx context.Context, dom domain.Domain, source string, outcome float64) error {
	var rec sourceEffectivenessRecord
	err := s.db.WithContext(ctx).Where("domain = ? AND source = ?", string(dom), source).First(&rec).Error
	now := time.Now()

	if err == gorm.ErrRecordNotFound {
		rec = sourceEffectivenessRecord{Domain: string(dom), Source: source, EMA: outcome, SampleCount: 1, UpdatedAt: now}
		if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
			return fmt.Errorf("memory: create source effectiveness: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("memory: lookup source effectiveness: %w", err)
	}

	rec.EMA = emaAlpha*outcome + (1-emaAlpha)*rec.EMA
	rec.SampleCount++
	rec.UpdatedAt = now
	if err := s.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return fmt.Errorf("memory: update source effectiveness: %w", err)
	}
	return nil
}

// SaveDomainOverride persists a single operator-edited playbook field.
func (s *Store) SaveDomainOverride(ctx context.Context, dom domain.Domain, fieldPath, value string) error {
	rec := domainConfigOverrideRecord{Domain: string(dom), FieldPath: fieldPath, Value: value, UpdatedAt: time.Now()}
	if err := s.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return fmt.Errorf("memory: save domain override: %w", err)
	}
	return nil
}

// LoadDomainOverrides returns every override recorded for dom, keyed by
// field path, for DomainConfiguration merging (spec §4.8).
func (s *Store) LoadDomainOverrides(ctx context.Context, dom domain.Domain) (map[string]string, error) {
	var recs []domainConfigOverrideRecord
	if err := s.db.WithContext(ctx).Where("domain = ?", string(dom)).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("memory: load domain overrides: %w", err)
	}
	out := make(map[string]string, len(recs))
	for _, r := range recs {
		out[r.FieldPath] = r.Value
	}
	return out, nil
}
