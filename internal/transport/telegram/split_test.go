package telegram

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		in    string
		limit int
		want  []string
	}{
		{name: "fits", in: "hello", limit: 10, want: []string{"hello"}},
		{name: "empty", in: "", limit: 10, want: []string{""}},
		{name: "hard cut without newline", in: "abcdefghij", limit: 4, want: []string{"abcd", "efgh", "ij"}},
		{name: "prefers newline", in: "aaaa\nbbbbbb", limit: 8, want: []string{"aaaa", "bbbbbb"}},
		{name: "ignores newline that leaves a tiny chunk", in: "a\nbcdefghijk", limit: 9, want: []string{"a\nbcdefgh", "ijk"}},
		{name: "drops blank lines between chunks", in: "aaaa\n\n\nbbbb", limit: 6, want: []string{"aaaa", "bbbb"}},
		{name: "counts runes not bytes", in: "жжжжжж", limit: 4, want: []string{"жжжж", "жж"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitText(tt.in, tt.limit)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
				t.Fatalf("SplitText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSplitTextDefaultLimit(t *testing.T) {
	t.Parallel()
	line := strings.Repeat("é", 99) + "\n"
	in := strings.Repeat(line, 100) // 10000 runes
	chunks := SplitText(in, 0)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	total := 0
	for i, c := range chunks {
		n := utf8.RuneCountInString(c)
		if n > TextLimit {
			t.Fatalf("chunk %d has %d runes", i, n)
		}
		if !utf8.ValidString(c) || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk %d malformed: %q", i, c[len(c)-8:])
		}
		total += n
	}
	// each chunk loses only its trailing newline
	if want := 10000 - (len(chunks) - 1) - 1; total != want {
		t.Fatalf("total runes = %d, want %d", total, want)
	}
}
