package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeQuestion_StripsHTML(t *testing.T) {
	got := SanitizeQuestion(`<div><b>What</b> is the &amp; symbol called?</div>`)
	assert.Equal(t, "What is the & symbol called?", got)
}

func TestSanitizeQuestion_ClozeBecomesBlank(t *testing.T) {
	got := SanitizeQuestion("The capital of France is {{c1::Paris}}.")
	assert.Equal(t, "The capital of France is blank.", got)

	got = SanitizeQuestion("{{c1::Mitochondria::organelle}} produce ATP.")
	assert.Equal(t, "blank produce ATP.", got)
}

func TestSanitizeAnswer_ClozeRevealed(t *testing.T) {
	got := SanitizeAnswer("The capital of France is {{c1::Paris}}.")
	assert.Equal(t, "The capital of France is Paris.", got)

	got = SanitizeAnswer("{{c1::Mitochondria::organelle}} produce ATP.")
	assert.Equal(t, "Mitochondria produce ATP.", got)
}

func TestSanitize_LatexToSpoken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`$x^2$`, "x squared"},
		{`$x^3$`, "x cubed"},
		{`$x^5$`, "x to the power of 5"},
		{`$\frac{a}{b}$`, "a over b"},
		{`$\sqrt{x}$`, "square root of x"},
		{`$\alpha + \beta$`, "alpha + beta"},
		{`$a \times b$`, "a times b"},
		{`$x \neq y$`, "x not equal to y"},
		{`$$\sum x$$`, "sum of x"},
		{`\(\pi\)`, "pi"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeAnswer(tt.in), "input %q", tt.in)
	}
}

func TestSanitize_WhitespaceNormalized(t *testing.T) {
	got := SanitizeQuestion("What   is\n\nthe  answer?")
	assert.Equal(t, "What is the answer?", got)
}

func TestSanitize_Empty(t *testing.T) {
	assert.Equal(t, "", SanitizeQuestion(""))
	assert.Equal(t, "", SanitizeAnswer(""))
}

func TestIsReadable(t *testing.T) {
	assert.True(t, IsReadable("What is photosynthesis?"))
	assert.False(t, IsReadable(`<img src="diagram.jpg">`))
	assert.False(t, IsReadable(""))
}

func TestProgressiveHint_FirstSentence(t *testing.T) {
	answer := "The powerhouse of the cell. It produces ATP through respiration."

	got := ProgressiveHint(answer, 0)

	assert.Equal(t, "Here's a hint: The powerhouse of the cell...", got)
}

func TestProgressiveHint_HalfReveal(t *testing.T) {
	answer := "Photosynthesis converts light energy into chemical energy stored in glucose"

	got := ProgressiveHint(answer, 1)

	assert.True(t, strings.HasPrefix(got, "More detail: "))
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Less(t, len(got), len("More detail: ")+len(answer))
}

func TestProgressiveHint_FullReveal(t *testing.T) {
	got := ProgressiveHint("Paris", 2)
	assert.Equal(t, "The answer is: Paris", got)
}

func TestProgressiveHint_EmptyAnswer(t *testing.T) {
	got := ProgressiveHint("<br>", 0)
	assert.Equal(t, "I don't have a hint for this one.", got)
}
