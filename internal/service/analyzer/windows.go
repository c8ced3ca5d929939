package analyzer

import (
	"regexp"
	"strings"
)

// Window is a contiguous slice of the submission text, addressed by byte
// offsets into the original document so matches can be mapped back to it.
type Window struct {
	Start int
	End   int
	Text  string
}

var sentenceEnd = regexp.MustCompile(`[.!?]+[\s"')\]]*`)

type sentenceSpan struct {
	start int
	end   int
}

// splitSentences finds sentence boundaries and returns byte spans covering the
// text. Trailing text without a terminator counts as a final sentence.
func splitSentences(text string) []sentenceSpan {
	var spans []sentenceSpan

	prev := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		end := loc[1]
		if strings.TrimSpace(text[prev:end]) != "" {
			spans = append(spans, sentenceSpan{start: prev, end: end})
		}
		prev = end
	}

	if prev < len(text) && strings.TrimSpace(text[prev:]) != "" {
		spans = append(spans, sentenceSpan{start: prev, end: len(text)})
	}

	return spans
}

// SplitWindows groups sentences into overlapping windows. Each window holds up
// to windowSentences sentences and at most maxChars bytes; consecutive windows
// share overlap sentences. A single sentence longer than maxChars becomes its
// own window rather than being dropped.
func SplitWindows(text string, windowSentences, overlap, maxChars int) []Window {
	if windowSentences <= 0 {
		windowSentences = 1
	}
	if overlap >= windowSentences {
		overlap = windowSentences - 1
	}
	if overlap < 0 {
		overlap = 0
	}

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var windows []Window

	i := 0
	for i < len(sentences) {
		start := sentences[i].start
		end := sentences[i].end
		count := 1

		for j := i + 1; j < len(sentences) && count < windowSentences; j++ {
			if maxChars > 0 && sentences[j].end-start > maxChars {
				break
			}
			end = sentences[j].end
			count++
		}

		windows = append(windows, Window{
			Start: start,
			End:   end,
			Text:  text[start:end],
		})

		if i+count >= len(sentences) {
			break
		}

		// Advance past the sentences consumed, keeping the overlap. A window
		// cut short by the char budget still moves forward.
		advance := count - overlap
		if advance < 1 {
			advance = 1
		}
		i += advance
	}

	return trimWindows(windows)
}

// trimWindows tightens each window span to exclude leading and trailing
// whitespace so excerpts and offsets point at actual content.
func trimWindows(windows []Window) []Window {
	out := windows[:0]
	for _, w := range windows {
		trimmed := strings.TrimLeft(w.Text, " \t\r\n")
		w.Start += len(w.Text) - len(trimmed)
		trimmed = strings.TrimRight(trimmed, " \t\r\n")
		w.End = w.Start + len(trimmed)
		w.Text = trimmed
		if w.Text != "" {
			out = append(out, w)
		}
	}
	return out
}
