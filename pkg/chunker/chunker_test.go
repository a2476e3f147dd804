package chunker_test

import (
	"testing"

	"github.com/voxgatehq/voxgate/pkg/chunker"
)

func TestSplitEnglishSentence(t *testing.T) {
	t.Parallel()

	text := "The weather in Nanjing is sunny today. Tomorrow will be cloudy."
	chunk, rest := chunker.Split(text, "en-US")

	if chunk != "The weather in Nanjing is sunny today." {
		t.Errorf("chunk = %q", chunk)
	}
	if rest != " Tomorrow will be cloudy." {
		t.Errorf("rest = %q", rest)
	}
}

func TestSplitBelowMinimum(t *testing.T) {
	t.Parallel()

	chunk, rest := chunker.Split("Short text.", "en-US")
	if chunk != "" {
		t.Errorf("chunk = %q, want empty", chunk)
	}
	if rest != "Short text." {
		t.Errorf("rest = %q", rest)
	}
}

func TestSplitSkipsDecimal(t *testing.T) {
	t.Parallel()

	text := "The measured value of the constant is 3.14159, you know."
	chunk, _ := chunker.Split(text, "en-US")

	if chunk != "The measured value of the constant is 3.14159," {
		t.Errorf("chunk = %q, split cut through the numeral", chunk)
	}
}

func TestSplitSkipsTimeLiteral(t *testing.T) {
	t.Parallel()

	text := "Our next meeting begins at 12:30 tomorrow, we hope."
	chunk, _ := chunker.Split(text, "en-US")

	if chunk != "Our next meeting begins at 12:30 tomorrow," {
		t.Errorf("chunk = %q, split cut through the time", chunk)
	}
}

func TestSplitSkipsAbbreviation(t *testing.T) {
	t.Parallel()

	text := "Mr. Smith arrived yesterday evening at the U.S. embassy, then left."
	chunk, _ := chunker.Split(text, "en-US")

	if chunk != "Mr. Smith arrived yesterday evening at the U.S. embassy," {
		t.Errorf("chunk = %q, split cut through the abbreviation", chunk)
	}
}

func TestSplitSkipsEllipsis(t *testing.T) {
	t.Parallel()

	text := "He paused for quite a long while... and then he spoke."
	chunk, _ := chunker.Split(text, "en-US")

	if chunk != "He paused for quite a long while..." {
		t.Errorf("chunk = %q, split landed inside the ellipsis", chunk)
	}
}

func TestSplitChinese(t *testing.T) {
	t.Parallel()

	text := "今天天气很好，适合出门。我们走吧。"
	chunk, rest := chunker.Split(text, "zh-CN")

	if chunk != "今天天气很好，适合出门。" {
		t.Errorf("chunk = %q", chunk)
	}
	if rest != "我们走吧。" {
		t.Errorf("rest = %q", rest)
	}
}

func TestSplitArabic(t *testing.T) {
	t.Parallel()

	text := "مرحبا بكم في المدينة، اليوم جميل"
	chunk, rest := chunker.Split(text, "ar-SA")

	if chunk != "مرحبا بكم في المدينة،" {
		t.Errorf("chunk = %q", chunk)
	}
	if rest != " اليوم جميل" {
		t.Errorf("rest = %q", rest)
	}
}

func TestSplitArabicDefiniteArticle(t *testing.T) {
	t.Parallel()

	// The comma is directly followed by the definite article; splitting
	// there would detach it from its noun.
	text := "مرحبا بكم في مدينة،الجميلة"
	chunk, rest := chunker.Split(text, "ar-SA")

	if chunk != "" {
		t.Errorf("chunk = %q, want no split before the definite article", chunk)
	}
	if rest != text {
		t.Errorf("rest = %q, want full input", rest)
	}
}

func TestSplitConcatenationIdentity(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"",
		"no terminators here at all just words and words and words",
		"First sentence ends here today. Second sentence follows it.",
		"Value 1,000.50 appears mid-sentence, then the text continues on.",
		"今天天气很好，适合出门。我们走吧。",
		"مرحبا بكم في المدينة، اليوم جميل",
	}
	for _, lang := range []string{"en-US", "zh-CN", "ar-SA", "fr-FR"} {
		for _, in := range inputs {
			chunk, rest := chunker.Split(in, lang)
			if chunk+rest != in {
				t.Errorf("lang %s: chunk %q + rest %q != input %q", lang, chunk, rest, in)
			}
		}
	}
}

func TestSplitStreamReassembly(t *testing.T) {
	t.Parallel()

	// Feed a long text in small increments the way the stream processor
	// does: accumulate, split when possible, keep the remainder.
	text := "The gateway accepted the call. The session started cleanly. " +
		"Audio frames flowed upstream, and synthesized speech flowed back down."

	var pending, out string
	for i := 0; i < len(text); i += 7 {
		end := i + 7
		if end > len(text) {
			end = len(text)
		}
		pending += text[i:end]
		for {
			chunk, rest := chunker.Split(pending, "en-US")
			if chunk == "" {
				break
			}
			out += chunk
			pending = rest
		}
	}
	out += pending

	if out != text {
		t.Errorf("reassembled %q != input %q", out, text)
	}
}

func TestMinChunkSize(t *testing.T) {
	t.Parallel()

	cases := map[string]int{
		"zh-CN": 10,
		"en-US": 30,
		"ar-SA": 10,
		"xx-XX": 30,
	}
	for lang, want := range cases {
		if got := chunker.MinChunkSize(lang); got != want {
			t.Errorf("MinChunkSize(%q) = %d, want %d", lang, got, want)
		}
	}
}
