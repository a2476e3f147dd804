// Package chunker splits streaming LLM text at safe sentence boundaries so
// partial output can be flushed to speech synthesis before the full reply is
// available.
//
// Split is language-aware: each language has a minimum chunk length
// calibrated to its information density, and a set of terminator characters
// at which a split may occur. A candidate split is rejected when it would cut
// through a numeral, a time or date literal, an abbreviation, a hyphenated
// compound, an ellipsis, or (for Arabic) the definite article or a tatweel
// connector.
package chunker

import "unicode"

// minChunkSizes maps a language tag to the minimum chunk length in runes.
var minChunkSizes = map[string]int{
	"zh-CN": 10,
	"en-US": 30,
	"ar-SA": 10,
}

// defaultMinChunkSize applies to unrecognized language tags.
const defaultMinChunkSize = 30

// terminators is the set of characters after which a chunk may end.
var terminators = map[rune]bool{
	// Latin
	'.': true, '?': true, '!': true, ';': true, ':': true, ',': true, '-': true,
	// Chinese
	'。': true, '？': true, '！': true, '，': true, '：': true, '；': true, '—': true,
	// Arabic
	'؟': true, '؛': true, '،': true, 'ـ': true, '۔': true,
	// Ellipses and line breaks
	'…': true, '⋯': true, '\n': true,
}

const tatweel = 'ـ'

// MinChunkSize returns the minimum chunk length in runes for the given
// language tag.
func MinChunkSize(language string) int {
	if n, ok := minChunkSizes[language]; ok {
		return n
	}
	return defaultMinChunkSize
}

// Split finds the earliest index at or beyond the language's minimum chunk
// size where text can be safely divided after a terminator character. It
// returns the chunk and the remainder; the chunk is empty when no safe split
// exists. Concatenating chunk and rest always reproduces text.
func Split(text, language string) (chunk, rest string) {
	runes := []rune(text)
	min := MinChunkSize(language)
	if len(runes) < min {
		return "", text
	}

	for i := min; i <= len(runes); i++ {
		if terminators[runes[i-1]] && safeSplit(runes, i) {
			return string(runes[:i]), string(runes[i:])
		}
	}
	return "", text
}

// safeSplit reports whether dividing runes before index idx avoids cutting
// through a construct that must stay intact. runes[idx-1] is the terminator
// candidate.
func safeSplit(runes []rune, idx int) bool {
	r := runes[idx-1]

	var prev, next rune
	if idx >= 2 {
		prev = runes[idx-2]
	}
	if idx < len(runes) {
		next = runes[idx]
	}

	switch r {
	case '.', ',':
		// Decimal points and digit grouping: 3.14, 1,000.
		if isDigit(prev) && isDigit(next) {
			return false
		}
	}

	switch r {
	case ':', '-':
		// Time and date literals: 12:30, 2023-01-01.
		if isDigit(prev) && isDigit(next) {
			return false
		}
	}

	if r == '.' {
		// Abbreviations with upper-case initials: U.S., J. Smith.
		if unicode.IsUpper(prev) {
			return false
		}
		// More periods follow: inside an ellipsis or repeated periods.
		if next == '.' {
			return false
		}
	}

	// Hyphen-joined compounds: voice-gateway.
	if r == '-' && unicode.IsLetter(prev) && unicode.IsLetter(next) {
		return false
	}

	// Unicode ellipsis runs.
	if (r == '…' || r == '⋯') && (next == '…' || next == '⋯') {
		return false
	}

	// Arabic: never split immediately before the definite article.
	if next == 'ا' && idx+1 < len(runes) && runes[idx+1] == 'ل' {
		return false
	}
	// Arabic: never split across a tatweel connector.
	if next == tatweel {
		return false
	}
	if r == tatweel && next != 0 && !unicode.IsSpace(next) {
		return false
	}

	return true
}

// isDigit reports whether r is an ASCII, Arabic-Indic, or extended
// Arabic-Indic digit.
func isDigit(r rune) bool {
	switch {
	case r >= '0' && r <= '9':
		return true
	case r >= '٠' && r <= '٩': // ٠..٩
		return true
	case r >= '۰' && r <= '۹': // ۰..۹
		return true
	}
	return false
}
