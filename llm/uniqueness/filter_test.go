package uniqueness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedTime(offsetSeconds int) time.Time {
	return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(offsetSeconds) * time.Second)
}

// Candidates under four tokens are always allowed through, regardless of
// history.
func TestShouldEnhance_ShortCandidateNeverEnhanced(t *testing.T) {
	f := New(Config{})
	f.RecordResponse("u1", "sure thing, happy to help with that today", fixedTime(0))
	assert.False(t, f.ShouldEnhance("u1", "ok sure"))
}

// S4 — exact repetition: a reply whose hash matches one still in the ring
// is always flagged, independent of the adaptive threshold.
func TestShouldEnhance_ExactRepetitionShortCircuits(t *testing.T) {
	f := New(Config{})
	reply := "Here is a detailed explanation of how the scheduler works internally."
	f.RecordResponse("u1", reply, fixedTime(0))
	assert.True(t, f.ShouldEnhance("u1", reply))
}

// A brand-new user with no recorded history is never flagged, since there
// is nothing yet to be similar to.
func TestShouldEnhance_NoHistoryNeverEnhanced(t *testing.T) {
	f := New(Config{})
	assert.False(t, f.ShouldEnhance("new-user", "this is a reasonably long first reply to them"))
}

// Two near-identical phrasings of the same sentence score above the base
// threshold and trigger enhancement even without an exact hash match.
func TestShouldEnhance_HighSimilarityTriggersEnhancement(t *testing.T) {
	f := New(Config{})
	f.RecordResponse("u1", "The deployment finished successfully without any errors reported.", fixedTime(0))
	assert.True(t, f.ShouldEnhance("u1", "The deployment finished successfully without any errors found."))
}

// Two replies about unrelated topics never trigger enhancement.
func TestShouldEnhance_UnrelatedContentNotEnhanced(t *testing.T) {
	f := New(Config{})
	f.RecordResponse("u1", "The weather in Lisbon this week looks mild and sunny.", fixedTime(0))
	assert.False(t, f.ShouldEnhance("u1", "Here is how you configure a PostgreSQL connection pool."))
}

// EnhanceSystemPrompt never rewrites the reply itself — only the prompt —
// and leaves a fresh user's prompt untouched.
func TestEnhanceSystemPrompt_NoHistoryLeavesPromptUnchanged(t *testing.T) {
	f := New(Config{})
	base := "You are a helpful assistant."
	assert.Equal(t, base, f.EnhanceSystemPrompt("new-user", base))
}

// Once a window has enough replies, EnhanceSystemPrompt appends guidance
// without altering the original text.
func TestEnhanceSystemPrompt_EstablishedConversationAppendsGuidance(t *testing.T) {
	f := New(Config{})
	base := "You are a helpful assistant."
	for i := 0; i < enhanceMinReplies; i++ {
		f.RecordResponse("u1", "a reasonably long reply to keep the window populated", fixedTime(i))
	}
	enhanced := f.EnhanceSystemPrompt("u1", base)
	require.Contains(t, enhanced, base)
	assert.Contains(t, enhanced, "Internal Guidance")
}

// The ring keeps at most seven signatures and evicts in FIFO order.
func TestRecordResponse_RingCapsAtSevenFIFO(t *testing.T) {
	f := New(Config{})
	for i := 0; i < 10; i++ {
		f.RecordResponse("u1", replyText(i), fixedTime(i))
	}
	w := f.windowFor("u1")
	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.ring, ringCapacity)
	assert.Equal(t, hashContent(replyText(3)), w.ring[0].Hash)
	assert.Equal(t, hashContent(replyText(9)), w.ring[len(w.ring)-1].Hash)
}

func replyText(i int) string {
	switch i % 3 {
	case 0:
		return "Here is a unique and specific answer about topic alpha today."
	case 1:
		return "Here is a completely different answer concerning topic beta now."
	default:
		return "And finally a third distinct answer regarding topic gamma here."
	}
}

// Vocabulary tracking stays bounded at 100 distinct long words.
func TestRecordResponse_VocabularyCapped(t *testing.T) {
	f := New(Config{})
	for i := 0; i < 200; i++ {
		f.RecordResponse("u1", "word"+string(rune('a'+i%26))+"xyzzy plus filler text here today", fixedTime(i))
	}
	w := f.windowFor("u1")
	w.mu.Lock()
	defer w.mu.Unlock()
	assert.LessOrEqual(t, len(w.vocabulary), vocabularyCapacity)
}
