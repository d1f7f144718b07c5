package services

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

// Card text arrives as HTML with optional cloze markup and LaTeX; TTS
// needs plain speakable text. All transforms here are pure.

var (
	htmlTagRe = regexp.MustCompile(`<[^>]+>`)

	clozeAnswerRe = regexp.MustCompile(`\{\{c\d+::(.*?)(?:::.*?)?\}\}`)
	clozeBlankRe  = regexp.MustCompile(`\{\{c\d+::.*?(?:::.*?)?\}\}`)

	displayMathRe = regexp.MustCompile(`(?s)\$\$(.*?)\$\$`)
	inlineMathRe  = regexp.MustCompile(`\$(.*?)\$`)
	bracketMathRe = regexp.MustCompile(`(?s)\\\[(.*?)\\\]`)
	parenMathRe   = regexp.MustCompile(`\\\((.*?)\\\)`)

	latexCmdRe    = regexp.MustCompile(`\\(?:textbf|textit|emph|text)\{(.*?)\}`)
	fracRe        = regexp.MustCompile(`\\frac\{(.*?)\}\{(.*?)\}`)
	sqrtRe        = regexp.MustCompile(`\\sqrt\{(.*?)\}`)
	superscriptRe = regexp.MustCompile(`\^{?(\d+)}?`)

	whitespaceRe = regexp.MustCompile(`\s+`)
)

var greekLetters = []struct {
	re     *regexp.Regexp
	spoken string
}{
	{regexp.MustCompile(`\\alpha\b`), "alpha"},
	{regexp.MustCompile(`\\beta\b`), "beta"},
	{regexp.MustCompile(`\\gamma\b`), "gamma"},
	{regexp.MustCompile(`\\delta\b`), "delta"},
	{regexp.MustCompile(`\\epsilon\b`), "epsilon"},
	{regexp.MustCompile(`\\theta\b`), "theta"},
	{regexp.MustCompile(`\\lambda\b`), "lambda"},
	{regexp.MustCompile(`\\mu\b`), "mu"},
	{regexp.MustCompile(`\\pi\b`), "pi"},
	{regexp.MustCompile(`\\sigma\b`), "sigma"},
	{regexp.MustCompile(`\\omega\b`), "omega"},
}

var mathSymbols = []struct {
	re     *regexp.Regexp
	spoken string
}{
	{regexp.MustCompile(`\\sum\b`), "sum of"},
	{regexp.MustCompile(`\\int\b`), "integral of"},
	{regexp.MustCompile(`\\infty\b`), "infinity"},
	{regexp.MustCompile(`\\pm\b`), "plus or minus"},
	{regexp.MustCompile(`\\times\b`), "times"},
	{regexp.MustCompile(`\\div\b`), "divided by"},
	{regexp.MustCompile(`\\neq\b`), "not equal to"},
	{regexp.MustCompile(`\\leq\b`), "less than or equal to"},
	{regexp.MustCompile(`\\geq\b`), "greater than or equal to"},
	{regexp.MustCompile(`\\approx\b`), "approximately"},
}

func stripHTML(text string) string {
	return html.UnescapeString(htmlTagRe.ReplaceAllString(text, ""))
}

func latexToSpoken(text string) string {
	text = displayMathRe.ReplaceAllString(text, "$1")
	text = inlineMathRe.ReplaceAllString(text, "$1")
	text = bracketMathRe.ReplaceAllString(text, "$1")
	text = parenMathRe.ReplaceAllString(text, "$1")

	text = latexCmdRe.ReplaceAllString(text, "$1")

	text = fracRe.ReplaceAllString(text, "$1 over $2")
	text = sqrtRe.ReplaceAllString(text, "square root of $1")

	text = strings.ReplaceAll(text, "^2", " squared")
	text = strings.ReplaceAll(text, "^3", " cubed")
	text = superscriptRe.ReplaceAllString(text, " to the power of $1")

	for _, g := range greekLetters {
		text = g.re.ReplaceAllString(text, g.spoken)
	}
	for _, m := range mathSymbols {
		text = m.re.ReplaceAllString(text, m.spoken)
	}
	return text
}

func normalizeWhitespace(text string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

// SanitizeQuestion prepares card front text for TTS, replacing cloze
// deletions with "blank" so the answer is not spoiled.
func SanitizeQuestion(text string) string {
	if text == "" {
		return ""
	}
	text = stripHTML(text)
	text = clozeBlankRe.ReplaceAllString(text, "blank")
	text = latexToSpoken(text)
	return normalizeWhitespace(text)
}

// SanitizeAnswer prepares card back text for TTS, revealing cloze
// deletions.
func SanitizeAnswer(text string) string {
	if text == "" {
		return ""
	}
	text = stripHTML(text)
	text = clozeAnswerRe.ReplaceAllString(text, "$1")
	text = latexToSpoken(text)
	return normalizeWhitespace(text)
}

// IsReadable reports whether the card front has enough text to read
// aloud. Image-only cards fail this check.
func IsReadable(front string) bool {
	return len(SanitizeAnswer(front)) >= 3
}

// ProgressiveHint reveals the answer in steps when the LLM is
// unavailable: first sentence, then first half, then everything.
func ProgressiveHint(answer string, hintLevel int) string {
	clean := SanitizeAnswer(answer)
	if clean == "" {
		return "I don't have a hint for this one."
	}

	switch {
	case hintLevel == 0:
		if idx := strings.Index(clean, "."); idx >= 0 {
			firstSentence := strings.TrimSpace(clean[:idx])
			if len(firstSentence) > 10 {
				return fmt.Sprintf("Here's a hint: %s...", firstSentence)
			}
		}
		if len(clean) > 60 {
			if cutoff := strings.LastIndex(clean[:60], " "); cutoff > 20 {
				return fmt.Sprintf("Here's a hint: %s...", clean[:cutoff])
			}
		}
		return fmt.Sprintf("Here's a hint: %s...", clean[:min(60, len(clean))])

	case hintLevel == 1:
		half := len(clean) / 2
		if cutoff := strings.LastIndex(clean[:half], " "); cutoff > 20 {
			return fmt.Sprintf("More detail: %s...", clean[:cutoff])
		}
		return fmt.Sprintf("More detail: %s...", clean[:half])

	default:
		return fmt.Sprintf("The answer is: %s", clean)
	}
}
