// Package signals implements the Signals Analyzer: a pure function over a
// conversation's message list that reports turn count, efficiency, and
// repair/frustration/repetition/escalation/positive-feedback counts, used as
// span attributes on the active LLM or agent span.
package signals

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/archplane/core/runtime/agent/model"
)

type (
	// Severity is the 0-3 escalation scale shared by frustration and
	// repetition signals.
	Severity int

	// Quality classifies the overall conversation health.
	Quality string

	// SignalBundle is the deterministic output of Analyze.
	SignalBundle struct {
		TurnCount int
		Efficiency float64

		RepairCount int

		FrustrationCount    int
		FrustrationSeverity Severity

		RepetitionCount      int
		RepetitionExactCount int
		RepetitionSeverity   Severity

		Escalation bool

		PositiveFeedbackCount int

		Quality Quality
	}
)

const (
	// SeverityNone through SeverityHigh mirror the frustration/repetition
	// count bands: 0, 1-2, 3-4, >=5.
	SeverityNone Severity = 0
	SeverityLow  Severity = 1
	SeverityMid  Severity = 2
	SeverityHigh Severity = 3
)

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityNeutral   Quality = "neutral"
	QualityPoor      Quality = "poor"
	QualitySevere    Quality = "severe"
)

// efficiencyBaseline is the turn count above which efficiency starts to
// decay.
const efficiencyBaseline = 5

// similarityThreshold is the bigram-Jaccard similarity above which one turn
// is considered a near-duplicate of another.
const similarityThreshold = 0.50

// exactSimilarityThreshold additionally records near-verbatim repetition.
const exactSimilarityThreshold = 0.85

// fuzzyMatchThreshold is the Jaro-Winkler score above which a user turn is
// considered a fuzzy match against a phrase-library entry, supplementing
// exact substring matching against typos and paraphrase.
const fuzzyMatchThreshold = 0.88

var foldCaser = cases.Fold()

// Analyze computes a SignalBundle for messages. It is a pure function: equal
// inputs always produce an equal bundle. Phrase and similarity matching
// compare text after Unicode normalization and case folding; the all-caps
// frustration check reads the original case.
func Analyze(messages []*model.Message) SignalBundle {
	userTurns := turnsByRole(messages, model.ConversationRoleUser)
	assistantTurns := turnsByRole(messages, model.ConversationRoleAssistant)

	bundle := SignalBundle{TurnCount: len(userTurns)}
	bundle.Efficiency = efficiency(bundle.TurnCount)

	bundle.RepairCount = countRepairs(userTurns)

	bundle.FrustrationCount = countFrustration(userTurns)
	bundle.FrustrationSeverity = severityForCount(bundle.FrustrationCount)

	bundle.RepetitionCount, bundle.RepetitionExactCount = countRepetition(assistantTurns)
	bundle.RepetitionSeverity = severityForCount(bundle.RepetitionCount)

	bundle.Escalation = anyMatches(userTurns, escalationPhrases)
	bundle.PositiveFeedbackCount = countMatches(userTurns, positivePhrases)

	bundle.Quality = classify(bundle)
	return bundle
}

// QualityFlag returns the marker appended to the span operation name when
// the conversation's quality warrants attention, or "" otherwise.
func (b SignalBundle) QualityFlag() string {
	if b.Escalation || b.Quality == QualityPoor || b.Quality == QualitySevere {
		return "flagged"
	}
	return ""
}

func efficiency(turns int) float64 {
	over := turns - efficiencyBaseline
	if over < 0 {
		over = 0
	}
	return 1 / (1 + 0.3*float64(over))
}

func classify(b SignalBundle) Quality {
	repairRatio := 0.0
	if b.TurnCount > 0 {
		repairRatio = float64(b.RepairCount) / float64(b.TurnCount)
	}

	switch {
	case b.Escalation || b.FrustrationSeverity == SeverityHigh || b.RepetitionSeverity == SeverityHigh || b.TurnCount > 12:
		return QualitySevere
	case repairRatio > 0.3 || b.FrustrationSeverity == SeverityMid || b.RepetitionSeverity == SeverityMid:
		return QualityPoor
	case b.PositiveFeedbackCount >= 2 && b.Efficiency >= 0.9 && b.FrustrationSeverity == SeverityNone:
		return QualityExcellent
	case b.PositiveFeedbackCount >= 1 && b.FrustrationSeverity <= SeverityLow && b.TurnCount <= 7:
		return QualityGood
	default:
		return QualityNeutral
	}
}

func severityForCount(count int) Severity {
	switch {
	case count == 0:
		return SeverityNone
	case count <= 2:
		return SeverityLow
	case count <= 4:
		return SeverityMid
	default:
		return SeverityHigh
	}
}

func turnsByRole(messages []*model.Message, role model.ConversationRole) []string {
	var turns []string
	for _, m := range messages {
		if m == nil || m.Role != role {
			continue
		}
		var b strings.Builder
		for _, p := range m.Parts {
			if tp, ok := p.(model.TextPart); ok {
				b.WriteString(tp.Text)
			}
		}
		turns = append(turns, b.String())
	}
	return turns
}

func countRepairs(userTurns []string) int {
	count := 0
	for i, turn := range userTurns {
		if matchesAny(turn, repairPhrases) {
			count++
			continue
		}
		if similarToEarlier(turn, userTurns[:i], similarityThreshold) {
			count++
		}
	}
	return count
}

func countFrustration(userTurns []string) int {
	count := 0
	for _, turn := range userTurns {
		if matchesAny(turn, frustrationPhrases) || hasShoutedToken(turn) || hasRepeatedPunctuation(turn) {
			count++
		}
	}
	return count
}

// countRepetition returns the number of assistant turns that are a
// near-duplicate (>=0.50 bigram-Jaccard) of an earlier assistant turn, and
// how many of those are near-verbatim (>=0.85).
func countRepetition(assistantTurns []string) (near, exact int) {
	for i, turn := range assistantTurns {
		best := 0.0
		for j := 0; j < i; j++ {
			if s := bigramJaccard(normalizeForCompare(turn), normalizeForCompare(assistantTurns[j])); s > best {
				best = s
			}
		}
		if best >= similarityThreshold {
			near++
		}
		if best >= exactSimilarityThreshold {
			exact++
		}
	}
	return near, exact
}

func similarToEarlier(turn string, earlier []string, threshold float64) bool {
	normTurn := normalizeForCompare(turn)
	for _, e := range earlier {
		if bigramJaccard(normTurn, normalizeForCompare(e)) >= threshold {
			return true
		}
	}
	return false
}

func anyMatches(turns []string, phrases []string) bool {
	for _, turn := range turns {
		if matchesAny(turn, phrases) {
			return true
		}
	}
	return false
}

func countMatches(turns []string, phrases []string) int {
	count := 0
	for _, turn := range turns {
		if matchesAny(turn, phrases) {
			count++
		}
	}
	return count
}

// matchesAny reports whether turn contains any phrase exactly (after
// normalization) or fuzzily matches one via Jaro-Winkler, supplementing
// exact matching against typos and minor paraphrase.
func matchesAny(turn string, phrases []string) bool {
	norm := normalizeForCompare(turn)
	for _, phrase := range phrases {
		if strings.Contains(norm, phrase) {
			return true
		}
		if fuzzyContains(norm, phrase) {
			return true
		}
	}
	return false
}

// normalizeForCompare applies NFC Unicode normalization and case folding so
// that equivalent text compares equal regardless of composition or case,
// matching the determinism requirement.
func normalizeForCompare(s string) string {
	return foldCaser.String(norm.NFC.String(s))
}

func hasShoutedToken(turn string) bool {
	for _, token := range strings.Fields(turn) {
		if isShoutedToken(token) {
			return true
		}
	}
	return false
}

func isShoutedToken(token string) bool {
	var alpha, upper int
	for _, r := range token {
		if !unicode.IsLetter(r) {
			continue
		}
		alpha++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if alpha < 10 {
		return false
	}
	return float64(upper)/float64(alpha) >= 0.80
}

func hasRepeatedPunctuation(turn string) bool {
	runCount := 0
	var last rune
	for _, r := range turn {
		if r == '!' || r == '?' {
			if r == last {
				runCount++
			} else {
				runCount = 1
			}
			last = r
			if runCount >= 3 {
				return true
			}
		} else {
			runCount = 0
			last = 0
		}
	}
	return false
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"to": {}, "of": {}, "in": {}, "on": {}, "for": {}, "and": {}, "or": {},
	"it": {}, "this": {}, "that": {}, "i": {}, "you": {}, "me": {}, "my": {},
	"do": {}, "does": {}, "did": {}, "be": {}, "with": {}, "at": {}, "as": {},
}

// bigramJaccard computes the Jaccard similarity of the character-bigram sets
// of a and b after stopword removal, per the repair/repetition detection
// rule.
func bigramJaccard(a, b string) float64 {
	bigramsA := bigramSet(stripStopwords(a))
	bigramsB := bigramSet(stripStopwords(b))
	if len(bigramsA) == 0 && len(bigramsB) == 0 {
		return 0
	}
	intersection := 0
	for bg := range bigramsA {
		if _, ok := bigramsB[bg]; ok {
			intersection++
		}
	}
	union := len(bigramsA) + len(bigramsB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func stripStopwords(s string) string {
	fields := strings.Fields(s)
	kept := fields[:0]
	for _, f := range fields {
		if _, ok := stopwords[f]; ok {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

func bigramSet(s string) map[string]struct{} {
	runes := []rune(s)
	set := make(map[string]struct{}, len(runes))
	for i := 0; i+1 < len(runes); i++ {
		set[string(runes[i:i+2])] = struct{}{}
	}
	return set
}

// fuzzyContains reports whether any word or word-pair window in turn scores
// above fuzzyMatchThreshold against phrase under Jaro-Winkler similarity,
// catching typos and minor rewording that substring matching would miss.
func fuzzyContains(turn, phrase string) bool {
	phraseWords := strings.Fields(phrase)
	turnWords := strings.Fields(turn)
	windowSize := len(phraseWords)
	if windowSize == 0 || len(turnWords) < windowSize {
		return false
	}
	for i := 0; i+windowSize <= len(turnWords); i++ {
		window := strings.Join(turnWords[i:i+windowSize], " ")
		if matchr.JaroWinkler(window, phrase, false) >= fuzzyMatchThreshold {
			return true
		}
	}
	return false
}
