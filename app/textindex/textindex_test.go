package textindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		want  []string
	}{
		{"Stop words and case", "In the beginning God created", []string{"beginning", "god", "created"}},
		{"Punctuation", "And God said, Let there be light: and there was light.", []string{"god", "said", "let", "light"}},
		{"Single characters dropped", "O LORD, I cry", []string{"lord", "cry"}},
		{"Apostrophes joined", "the LORD’s house and Jacob's well", []string{"lords", "house", "jacobs", "well"}},
		{"Empty", "", []string{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Tokenize(tc.input))
		})
	}
}

func TestTokenize_NoShortOrStopTokens(t *testing.T) {
	for _, term := range Tokenize("In the beginning God created the heaven and the earth. A voice, O man.") {
		assert.GreaterOrEqual(t, len([]rune(term)), MinTokenLength, term)
		assert.NotContains(t, StopWords, term)
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "god", Normalize("God"))
	assert.Equal(t, "", Normalize("the"))
	assert.Equal(t, "", Normalize("a"))
	assert.Equal(t, "", Normalize("two words"))
}

func TestPostings(t *testing.T) {
	p := NewPostings()
	p.AddVerse("Genesis-1:1", "In the beginning God created the heaven and the earth.")
	p.AddVerse("Genesis-1:3", "And God said, Let there be light: and there was light.")
	p.AddVerse("Genesis-1:3", "And God said, Let there be light: and there was light.")
	p.AddVerse("John-1:1", "In the beginning was the Word, and the Word was with God.")

	assert.Equal(t, []string{"Genesis-1:1", "Genesis-1:3", "John-1:1"}, p.Get("god"))
	assert.Equal(t, []string{"Genesis-1:3"}, p.Get("light"))
	assert.Equal(t, []string{"Genesis-1:1", "John-1:1"}, p.Get("beginning"))
	assert.Nil(t, p.Get("the"))
	assert.Contains(t, p.Words(), "word")
	assert.Equal(t, len(p.Words()), p.Len())
}

func TestIntersect(t *testing.T) {
	a := []string{"x", "y", "z", "w"}
	b := []string{"w", "y"}
	c := []string{"y", "w", "q"}

	assert.Equal(t, []string{"y", "w"}, Intersect(a, b, c))
	assert.Equal(t, a, Intersect(a))
	assert.Nil(t, Intersect(a, []string{"none"}))
}
