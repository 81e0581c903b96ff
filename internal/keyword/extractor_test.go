package keyword

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract_KeywordsInOrderDeduplicated(t *testing.T) {
	keywords, _ := Extract("Great Dashboard", "The dashboard is great and fast.")
	assert.Equal(t, []string{"great", "dashboard", "fast"}, keywords)
}

func TestExtract_LengthBounds(t *testing.T) {
	long := strings.Repeat("x", maxTokenLength+1)
	keywords, _ := Extract("ok", "go abc "+long+" "+strings.Repeat("y", maxTokenLength))
	assert.Equal(t, []string{"abc", strings.Repeat("y", maxTokenLength)}, keywords)
}

func TestExtract_DropsStopWordsAndNumbers(t *testing.T) {
	keywords, _ := Extract("", "this product would cost 2024 dollars")
	assert.Equal(t, []string{"product", "cost", "dollars"}, keywords)
}

func TestExtract_CapsKeywords(t *testing.T) {
	words := make([]string, 0, 30)
	for i := 0; i < 30; i++ {
		words = append(words, "word"+string(rune('a'+i%26))+string(rune('a'+i/26)))
	}
	keywords, _ := Extract("", strings.Join(words, " "))
	assert.Len(t, keywords, maxKeywords)
	assert.Equal(t, words[:maxKeywords], keywords)
}

func TestExtract_Mentions(t *testing.T) {
	_, mentions := Extract(
		"Solid pricing",
		"Onboarding was smooth. Reports load quickly and the reports are accurate.",
	)
	assert.Equal(t, []string{"pricing", "onboarding", "reports"}, mentions)
}

func TestExtract_MentionsSubsetOfKeywords(t *testing.T) {
	keywords, mentions := Extract("Integration API support", "integration integration api docs docs")
	for _, m := range mentions {
		assert.Contains(t, keywords, m)
	}
	assert.LessOrEqual(t, len(mentions), maxMentions)
}

func TestExtract_NormalizesUnicode(t *testing.T) {
	// "ﬁ" ligature composes to "fi" under NFKC; upper-case letters fold.
	keywords, _ := Extract("", "ＤＡＳＨＢＯＡＲＤ ﬁle Überblick")
	assert.Equal(t, []string{"dashboard", "file", "überblick"}, keywords)
}

func TestExtract_Pure(t *testing.T) {
	title, content := "Pricing and support", "Support team resolved our billing issue; support is great."
	k1, m1 := Extract(title, content)
	_, _ = Extract("unrelated", "other text entirely with dashboard dashboard")
	k2, m2 := Extract(title, content)

	assert.Equal(t, k1, k2)
	assert.Equal(t, m1, m2)
}

func TestExtract_Empty(t *testing.T) {
	keywords, mentions := Extract("", "")
	assert.Empty(t, keywords)
	assert.Empty(t, mentions)
}

func TestIsBusinessTerm(t *testing.T) {
	assert.True(t, IsBusinessTerm("Pricing"))
	assert.False(t, IsBusinessTerm("banana"))
}
