package pipeline

import (
	"context"
	"math"
	"regexp"
	"strconv"

	"github.com/deepresearch/orchestrator/domain"
	"go.uber.org/zap"
)

// jaccardGroupThreshold is the word-set similarity threshold for grouping
// Facts as cross-references of one another (spec §4.9.5).
const jaccardGroupThreshold = 0.4

// relatedTopicThreshold suppresses contradiction checks between Facts that
// share no real topical overlap (spec §4.9.5).
const relatedTopicThreshold = 0.3

// numericConflictRelativeDiff is the minimum relative difference between
// two numbers extracted from related statements to call it a conflict.
const numericConflictRelativeDiff = 0.2

var yearPattern = regexp.MustCompile(`\b(1[5-9]\d{2}|20\d{2})\b`)
var numberPattern = regexp.MustCompile(`\b\d+(\.\d+)?\b`)
var booleanPattern = regexp.MustCompile(`\b(is|does|can|will|has)\s+(not\s+)?(\w+)`)

// AnalyzeNode groups Facts by statement similarity, detects contradictions,
// and computes each Fact's final confidence (spec §4.9.5).
type AnalyzeNode struct {
	logger *zap.Logger
}

func NewAnalyzeNode(logger *zap.Logger) *AnalyzeNode {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyzeNode{logger: logger.With(zap.String("component", "analyze_node"))}
}

func (n *AnalyzeNode) Name() string { return "analyze" }

func (n *AnalyzeNode) Run(ctx context.Context, sess *domain.Session) Result {
	facts := make([]*domain.Fact, 0, len(sess.Facts))
	for _, key := range domain.SortedKeys(sess.Facts) {
		facts = append(facts, sess.Facts[key])
	}

	groups := groupBySimilarity(facts)
	sess.Groups = groups

	contradictions := detectContradictions(facts)
	sess.Contradictions = contradictions

	inContradiction := make(map[string]bool)
	for _, c := range contradictions {
		inContradiction[c.FactA.ID] = true
		inContradiction[c.FactB.ID] = true
	}

	for _, f := range facts {
		f.InContradiction = inContradiction[f.ID]
		supporting := 0
		for _, g := range groups {
			for _, gf := range g.Facts {
				if gf.ID == f.ID {
					supporting = len(g.UniqueSources)
					f.SupportingSources = g.UniqueSources
					f.GroupAgreement = g.AgreementScore
				}
			}
		}
		f.Confidence = finalConfidence(f.Confidence, supporting, f.InContradiction)
	}

	n.logger.Info("analyze complete",
		zap.String("session", sess.ID),
		zap.Int("groups", len(groups)),
		zap.Int("contradictions", len(contradictions)),
	)

	return Result{NextPhase: domain.PhaseVerify}
}

// groupBySimilarity clusters facts whose statement token sets are
// Jaccard-similar above threshold. Single-linkage: a fact joins the first
// group any of whose members it's similar enough to.
func groupBySimilarity(facts []*domain.Fact) []*domain.FactGroup {
	var groups []*domain.FactGroup
	tokenCache := make(map[string]map[string]bool, len(facts))
	for _, f := range facts {
		tokenCache[f.ID] = domain.Tokenize(f.Statement)
	}

	for _, f := range facts {
		placed := false
		for _, g := range groups {
			for _, member := range g.Facts {
				if domain.Jaccard(tokenCache[f.ID], tokenCache[member.ID]) >= jaccardGroupThreshold {
					g.Facts = append(g.Facts, f)
					placed = true
					break
				}
			}
			if placed {
				break
			}
		}
		if !placed {
			groups = append(groups, &domain.FactGroup{Facts: []*domain.Fact{f}})
		}
	}

	for _, g := range groups {
		sources := make(map[string]bool)
		for _, f := range g.Facts {
			sources[f.Source] = true
		}
		g.UniqueSources = domain.SortedKeys(sources)
		g.AgreementScore = math.Min(1, float64(len(g.UniqueSources))/3)
	}
	return groups
}

// detectContradictions scans pairwise over facts from distinct sources for
// year, numeric, and boolean-sense conflicts, gated by topical relatedness
// (spec §4.9.5).
func detectContradictions(facts []*domain.Fact) []*domain.Contradiction {
	var out []*domain.Contradiction

	for i := 0; i < len(facts); i++ {
		for j := i + 1; j < len(facts); j++ {
			a, b := facts[i], facts[j]
			if a.Source == b.Source {
				continue
			}

			// A year conflict is its own evidence of relatedness: two
			// statements naming the same entity by different years
			// often share no non-stop-word tokens at all (e.g. "founded
			// in 2010" vs "established in 2015").
			if c := yearConflict(a, b); c != nil {
				out = append(out, c)
				continue
			}

			related := domain.Jaccard(domain.TokenizeNonStopWords(a.Statement), domain.TokenizeNonStopWords(b.Statement)) > relatedTopicThreshold
			if !related {
				continue
			}

			if c := numericConflict(a, b); c != nil {
				out = append(out, c)
				continue
			}
			if c := booleanConflict(a, b); c != nil {
				out = append(out, c)
				continue
			}
		}
	}
	return out
}

// booleanConflict flags related statements that assert and negate the same
// verb (e.g. "is approved" vs "is not approved").
func booleanConflict(a, b *domain.Fact) *domain.Contradiction {
	ma := booleanPattern.FindStringSubmatch(a.Statement)
	mb := booleanPattern.FindStringSubmatch(b.Statement)
	if ma == nil || mb == nil {
		return nil
	}
	// groups: [full, verb, "not "?, predicate]
	if ma[1] != mb[1] || ma[3] != mb[3] {
		return nil // different verb/predicate pair, not a comparable claim
	}
	negatedA := ma[2] != ""
	negatedB := mb[2] != ""
	if negatedA == negatedB {
		return nil
	}
	return &domain.Contradiction{FactA: a, FactB: b, Kind: domain.ConflictBoolean, ValueA: ma[0], ValueB: mb[0]}
}

func yearConflict(a, b *domain.Fact) *domain.Contradiction {
	yearsA := yearPattern.FindAllString(a.Statement, -1)
	yearsB := yearPattern.FindAllString(b.Statement, -1)
	if len(yearsA) == 0 || len(yearsB) == 0 {
		return nil
	}
	for _, ya := range yearsA {
		for _, yb := range yearsB {
			if ya != yb {
				return &domain.Contradiction{FactA: a, FactB: b, Kind: domain.ConflictYear, ValueA: ya, ValueB: yb}
			}
		}
	}
	return nil
}

func numericConflict(a, b *domain.Fact) *domain.Contradiction {
	numsA := numberPattern.FindAllString(a.Statement, -1)
	numsB := numberPattern.FindAllString(b.Statement, -1)
	if len(numsA) == 0 || len(numsB) == 0 {
		return nil
	}
	for _, na := range numsA {
		va, err := strconv.ParseFloat(na, 64)
		if err != nil {
			continue
		}
		for _, nb := range numsB {
			vb, err := strconv.ParseFloat(nb, 64)
			if err != nil || vb == 0 {
				continue
			}
			diff := math.Abs(va-vb) / math.Max(math.Abs(va), math.Abs(vb))
			if diff > numericConflictRelativeDiff {
				return &domain.Contradiction{FactA: a, FactB: b, Kind: domain.ConflictNumeric, ValueA: na, ValueB: nb}
			}
		}
	}
	return nil
}

// finalConfidence applies spec §4.9.5's formula:
// clamp(base + 0.1*min(3,|supporting|) - 0.3*(in contradiction), 0.1, 1.0).
func finalConfidence(base float64, supporting int, inContradiction bool) float64 {
	if supporting > 3 {
		supporting = 3
	}
	v := base + 0.1*float64(supporting)
	if inContradiction {
		v -= 0.3
	}
	if v < 0.1 {
		return 0.1
	}
	if v > 1.0 {
		return 1.0
	}
	return v
}
