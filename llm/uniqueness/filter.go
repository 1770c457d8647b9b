package uniqueness

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jakeyflow/core/internal/metrics"
)

const (
	minTokensToConsider = 4

	baseThreshold           = 0.75
	frequencyBoost          = 0.05
	frequencyBoostThreshold = 0.1
	complexityBoost         = 0.05
	complexityBoostThreshold = 0.7
	vocabularyBoost         = 0.03
	vocabularyBoostThreshold = 50
	thresholdCap            = 0.85

	conceptualTopicOverlapThreshold = 0.4
	conceptualSimilarityThreshold   = 0.65

	vocabularyWordMinLen = 4
	topicWordMinLen      = 3

	cleanupInterval  = 10 * time.Minute
	cacheSoftLimit   = 1000
	cacheTrimKeep    = 500

	enhanceVocabularyThreshold = 10
	enhanceLengthThreshold     = 20
	enhanceMinReplies          = 3
)

// Filter is the Response-Uniqueness Filter (C5). It tracks one
// userResponseWindow per user and decides whether a candidate reply is too
// similar to what that user has recently been shown.
type Filter struct {
	windowsMu sync.RWMutex
	windows   map[string]*userResponseWindow

	cacheMu sync.Mutex
	cache   *signatureCache

	gcMu   sync.Mutex
	lastGC time.Time

	metrics *metrics.Collector
	logger  *zap.Logger
}

// Config configures a Filter at construction.
type Config struct {
	Metrics *metrics.Collector
	Logger  *zap.Logger
}

// New constructs an empty Filter.
func New(cfg Config) *Filter {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filter{
		windows: make(map[string]*userResponseWindow),
		cache:   newSignatureCache(),
		metrics: cfg.Metrics,
		logger:  logger,
	}
}

func (f *Filter) windowFor(userID string) *userResponseWindow {
	f.windowsMu.RLock()
	w, ok := f.windows[userID]
	f.windowsMu.RUnlock()
	if ok {
		return w
	}

	f.windowsMu.Lock()
	defer f.windowsMu.Unlock()
	if w, ok := f.windows[userID]; ok {
		return w
	}
	w = newUserResponseWindow()
	f.windows[userID] = w
	return w
}

// ShouldEnhance decides whether candidate is similar enough to userID's
// recent replies that the caller should regenerate rather than send it as
// is. Short candidates (fewer than four tokens) are always allowed through
// unmodified — there isn't enough signal to judge them.
func (f *Filter) ShouldEnhance(userID, candidate string) bool {
	tokens := tokenize(candidate)
	if len(tokens) < minTokensToConsider {
		return false
	}

	w := f.windowFor(userID)
	w.mu.Lock()
	defer w.mu.Unlock()

	hash := hashContent(candidate)
	if w.hasExactMatch(hash) {
		f.recordRegeneration()
		return true
	}

	if len(w.ring) == 0 {
		return false
	}

	candidateSig := newSignature(candidate)
	threshold := f.adaptiveThreshold(userID, w)

	recent := w.lastN(3)
	for _, sig := range recent {
		if similarity(candidateSig, sig) >= threshold {
			f.recordRegeneration()
			return true
		}
	}

	topicKeywords := longWords(candidateSig.Words, topicWordMinLen)
	if len(topicKeywords) > 0 {
		for _, sig := range recent {
			overlap := topicOverlap(topicKeywords, sig.Words)
			if overlap > conceptualTopicOverlapThreshold &&
				candidateSig.WordCount == sig.WordCount &&
				similarity(candidateSig, sig) > conceptualSimilarityThreshold {
				f.recordRegeneration()
				return true
			}
		}
	}

	return false
}

func (f *Filter) recordRegeneration() {
	if f.metrics != nil {
		f.metrics.RecordRegeneration()
	}
}

// adaptiveThreshold computes userID's current similarity threshold and
// publishes it to metrics. Callers must hold w.mu.
func (f *Filter) adaptiveThreshold(userID string, w *userResponseWindow) float64 {
	threshold := baseThreshold
	if w.interactionFrequency > frequencyBoostThreshold {
		threshold += frequencyBoost
	}
	if w.complexity > complexityBoostThreshold {
		threshold += complexityBoost
	}
	if len(w.vocabularySet) > vocabularyBoostThreshold {
		threshold += vocabularyBoost
	}
	if threshold > thresholdCap {
		threshold = thresholdCap
	}
	if f.metrics != nil {
		f.metrics.SetUniquenessThreshold(userID, threshold)
	}
	return threshold
}

// similarity scores how alike two signatures are: token-set Jaccard
// overlap, plus a smaller contribution from shared phrase bigrams and from
// the two replies being a similar length, clamped to 1.0.
func similarity(a, b ResponseSignature) float64 {
	jac := jaccard(a.Words, b.Words)
	phrase := phraseOverlap(a.Bigrams, b.Bigrams)
	lengthDiff := relativeLengthDiff(a.WordCount, b.WordCount)

	score := jac + 0.2*phrase + 0.1*(1-lengthDiff)
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for w := range a {
		if _, ok := b[w]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func phraseOverlap(a, b [][2]string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	bSet := make(map[[2]string]struct{}, len(b))
	for _, p := range b {
		bSet[p] = struct{}{}
	}
	matches := 0
	for _, p := range a {
		if _, ok := bSet[p]; ok {
			matches++
		}
	}
	denom := len(a)
	if len(b) > denom {
		denom = len(b)
	}
	return float64(matches) / float64(denom)
}

func relativeLengthDiff(a, b int) float64 {
	denom := a
	if b > denom {
		denom = b
	}
	if denom == 0 {
		return 0
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return float64(diff) / float64(denom)
}

func longWords(words map[string]struct{}, minLen int) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for w := range words {
		if len(w) > minLen {
			out[w] = struct{}{}
		}
	}
	return out
}

func topicOverlap(topicKeywords, words map[string]struct{}) float64 {
	if len(topicKeywords) == 0 {
		return 0
	}
	intersection := 0
	for w := range topicKeywords {
		if _, ok := words[w]; ok {
			intersection++
		}
	}
	return float64(intersection) / float64(len(topicKeywords))
}

// EnhanceSystemPrompt conditionally appends an internal-guidance section to
// basePrompt when userID's window shows enough signal to warrant it: a rich
// vocabulary, long replies, a non-neutral mood, or an established
// conversation (at least three replies seen). It never touches the reply
// text itself — only the system prompt that shapes the next one.
func (f *Filter) EnhanceSystemPrompt(userID, basePrompt string) string {
	w := f.windowFor(userID)
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.ring) == 0 {
		return basePrompt
	}

	warrant := len(w.vocabularySet) >= enhanceVocabularyThreshold ||
		w.avgReplyLength >= enhanceLengthThreshold ||
		w.sentiment != sentimentNeutral ||
		len(w.ring) >= enhanceMinReplies

	if !warrant {
		return basePrompt
	}

	guidance := "\n\n**Internal Guidance:** This user has an established conversational pattern"
	switch w.sentiment {
	case sentimentPositive:
		guidance += " with a generally positive tone"
	case sentimentNegative:
		guidance += " with a generally negative tone"
	}
	guidance += ". Vary your phrasing and sentence structure from your recent replies to this user rather than repeating the same wording or structure."

	return basePrompt + guidance
}

// RecordResponse folds one reply's text into userID's window: it updates
// the signature ring, vocabulary, length/frequency EMAs, sentiment, and
// complexity, then opportunistically runs the lazy garbage collector.
func (f *Filter) RecordResponse(userID, content string, now time.Time) {
	sig := f.cacheGetOrCompute(content)
	tokens := tokenize(content)

	w := f.windowFor(userID)
	w.mu.Lock()
	w.pushSignature(sig)
	w.recordVocabulary(longWords(sig.Words, vocabularyWordMinLen))
	w.updateLength(sig.WordCount)
	w.updateFrequency(now)
	w.updateSentiment(sig.Words)
	w.updateComplexity(tokens)
	w.mu.Unlock()

	f.maybeCollect(now)
}

func (f *Filter) cacheGetOrCompute(content string) ResponseSignature {
	f.cacheMu.Lock()
	defer f.cacheMu.Unlock()
	sig := f.cache.getOrCompute(content)
	if f.metrics != nil {
		f.metrics.SetUniquenessCacheSize(f.cache.size())
	}
	return sig
}

// maybeCollect runs the lazy garbage collector at most once per
// cleanupInterval: it drops windows idle for over an hour and, once the
// signature cache has grown past its soft limit, evicts entries no live
// window still references.
func (f *Filter) maybeCollect(now time.Time) {
	f.gcMu.Lock()
	if !f.lastGC.IsZero() && now.Sub(f.lastGC) < cleanupInterval {
		f.gcMu.Unlock()
		return
	}
	f.lastGC = now
	f.gcMu.Unlock()

	live := make(map[string]struct{})

	f.windowsMu.Lock()
	for userID, w := range f.windows {
		w.mu.Lock()
		expired := w.expired(now)
		if !expired {
			for _, sig := range w.ring {
				live[sig.Hash] = struct{}{}
			}
		}
		w.mu.Unlock()
		if expired {
			delete(f.windows, userID)
		}
	}
	f.windowsMu.Unlock()

	f.cacheMu.Lock()
	if f.cache.size() > cacheSoftLimit {
		f.cache.evictUnreferenced(live, cacheTrimKeep)
	}
	if f.metrics != nil {
		f.metrics.SetUniquenessCacheSize(f.cache.size())
	}
	f.cacheMu.Unlock()
}
