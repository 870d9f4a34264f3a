package chunker

import (
	"math/rand"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitEmpty(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\t "} {
		if chunks := Split(in, DefaultMaxLength); len(chunks) != 0 {
			t.Fatalf("Split(%q) = %q, want no chunks", in, chunks)
		}
	}
}

func TestSplitSingleSentence(t *testing.T) {
	chunks := Split("   The quick brown fox jumps over the lazy dog.  ", DefaultMaxLength)
	want := []string{"The quick brown fox jumps over the lazy dog."}
	if !reflect.DeepEqual(chunks, want) {
		t.Fatalf("Split() = %q, want %q", chunks, want)
	}
}

func TestSplitPacksSentences(t *testing.T) {
	text := "One two. Three four! Five six? Seven eight."
	chunks := Split(text, 20)
	want := []string{"One two. Three four!", "Five six?", "Seven eight."}
	if !reflect.DeepEqual(chunks, want) {
		t.Fatalf("Split() = %q, want %q", chunks, want)
	}
}

func TestSplitSentenceRequiresWhitespaceAfterTerminal(t *testing.T) {
	got := splitSentences("Version 1.5 is out.Next sentence? Yes.")
	want := []string{"Version 1.5 is out.Next sentence?", "Yes."}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("splitSentences() = %q, want %q", got, want)
	}
}

func TestSplitLongSentenceFallsBackToCommas(t *testing.T) {
	text := "alpha beta gamma, delta epsilon zeta, eta theta iota"
	chunks := Split(text, 25)
	want := []string{"alpha beta gamma,", "delta epsilon zeta,", "eta theta iota"}
	if !reflect.DeepEqual(chunks, want) {
		t.Fatalf("Split() = %q, want %q", chunks, want)
	}
}

func TestSplitLongSentenceWithoutCommasFallsBackToWords(t *testing.T) {
	words := make([]string, 0, 200)
	for i := 0; i < 200; i++ {
		words = append(words, "word")
	}
	text := strings.Join(words, " ") + "."
	chunks := Split(text, 50)
	if len(chunks) < 2 {
		t.Fatalf("expected word-level split into several chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n > 50 {
			t.Fatalf("chunk %d has %d code points, limit 50: %q", i, n, c)
		}
	}
	if got := strings.Join(chunks, " "); got != text {
		t.Fatalf("rejoined text differs:\n got %q\nwant %q", got, text)
	}
}

func TestSplitOversizedWordIsEmittedAlone(t *testing.T) {
	long := strings.Repeat("x", 30)
	chunks := Split("short "+long+" tail", 10)
	want := []string{"short", long, "tail"}
	if !reflect.DeepEqual(chunks, want) {
		t.Fatalf("Split() = %q, want %q", chunks, want)
	}
}

func TestSplitSentenceExactlyAtLimit(t *testing.T) {
	sentence := strings.Repeat("a", 9) + "."
	chunks := Split(sentence+" "+sentence, 10)
	want := []string{sentence, sentence}
	if !reflect.DeepEqual(chunks, want) {
		t.Fatalf("Split() = %q, want %q", chunks, want)
	}
}

func TestSplitCountsCodePoints(t *testing.T) {
	text := "日本語の文章です。 " + strings.Repeat("é", 8) + "."
	chunks := Split(text, 10)
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n > 10 {
			t.Fatalf("chunk %d has %d code points: %q", i, n, c)
		}
	}
	if len(chunks) != 1 && len(chunks) != 2 {
		t.Fatalf("unexpected chunk count %d: %q", len(chunks), chunks)
	}
}

func TestSplitDefaultLimitWhenNonPositive(t *testing.T) {
	text := strings.Repeat("lorem ipsum ", 100)
	for i, c := range Split(text, 0) {
		if n := utf8.RuneCountInString(c); n > DefaultMaxLength {
			t.Fatalf("chunk %d has %d code points", i, n)
		}
	}
}

func TestSplitIsLosslessAndBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for iter := 0; iter < 200; iter++ {
		text := randomText(rng)
		max := 5 + rng.Intn(80)
		chunks := Split(text, max)

		for i, c := range chunks {
			if c == "" {
				t.Fatalf("iter %d: chunk %d is empty", iter, i)
			}
			if n := utf8.RuneCountInString(c); n > max && strings.ContainsAny(c, " \t\n") {
				t.Fatalf("iter %d: chunk %d exceeds %d with more than one word: %q", iter, i, max, c)
			}
		}
		got := strings.Fields(strings.Join(chunks, " "))
		want := strings.Fields(text)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("iter %d: words differ after rejoin\n got %q\nwant %q", iter, got, want)
		}
	}
}

func randomText(rng *rand.Rand) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	puncts := []string{"", "", "", "", ",", ".", "!", "?"}
	n := rng.Intn(120)
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			if rng.Intn(10) == 0 {
				b.WriteString("\n")
			} else {
				b.WriteString(" ")
			}
		}
		wordLen := 1 + rng.Intn(12)
		if rng.Intn(40) == 0 {
			wordLen = 60 + rng.Intn(40)
		}
		for j := 0; j < wordLen; j++ {
			b.WriteByte(letters[rng.Intn(len(letters))])
		}
		b.WriteString(puncts[rng.Intn(len(puncts))])
	}
	return b.String()
}
