package uniqueness

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

// Signatures are a pure function of content: computing one twice for the
// same text always yields an equal result.
func TestNewSignature_Deterministic(t *testing.T) {
	content := "Here is a moderately long sentence used to test determinism."
	a := newSignature(content)
	b := newSignature(content)
	assert.Equal(t, a.Hash, b.Hash)
	assert.Equal(t, a.WordCount, b.WordCount)
	assert.Equal(t, a.Bigrams, b.Bigrams)
	assert.Equal(t, len(a.Words), len(b.Words))
}

func TestNewSignature_CaseInsensitive(t *testing.T) {
	a := newSignature("Hello World")
	b := newSignature("hello world")
	assert.Equal(t, a.Words, b.Words)
}

func TestNewSignature_ShortContentHasNoBigrams(t *testing.T) {
	sig := newSignature("hi")
	assert.Nil(t, sig.Bigrams)
	assert.Equal(t, 1, sig.WordCount)
}

func TestNewSignature_BigramsCappedAndSorted(t *testing.T) {
	words := make([]string, 40)
	for i := range words {
		words[i] = "tok" + string(rune('a'+i%26))
	}
	sig := newSignature(strings.Join(words, " "))
	assert.LessOrEqual(t, len(sig.Bigrams), maxSampledBigrams)
	for i := 1; i < len(sig.Bigrams); i++ {
		prev, cur := sig.Bigrams[i-1], sig.Bigrams[i]
		less := prev[0] < cur[0] || (prev[0] == cur[0] && prev[1] < cur[1])
		assert.True(t, less, "bigrams must be sorted")
	}
}

// Property: a user's signature ring never exceeds its fixed capacity, and
// the oldest entries are the ones evicted first, regardless of how many
// replies are recorded.
func TestProperty_RingNeverExceedsCapacityAndEvictsFIFO(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 30).Draw(t, "n")
		w := newUserResponseWindow()

		var pushed []string
		for i := 0; i < n; i++ {
			content := rapid.StringN(1, 40, -1).Draw(t, "content")
			sig := newSignature(content)
			w.pushSignature(sig)
			pushed = append(pushed, sig.Hash)

			if len(w.ring) > ringCapacity {
				t.Fatalf("ring grew past capacity: %d", len(w.ring))
			}
		}

		want := pushed
		if len(want) > ringCapacity {
			want = want[len(want)-ringCapacity:]
		}
		if len(want) != len(w.ring) {
			t.Fatalf("ring length %d, want %d", len(w.ring), len(want))
		}
		for i, hash := range want {
			if w.ring[i].Hash != hash {
				t.Fatalf("ring[%d] = %s, want %s (FIFO order violated)", i, w.ring[i].Hash, hash)
			}
		}
	})
}
