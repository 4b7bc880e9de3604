package vocab

import (
	"reflect"
	"testing"
)

func TestReservedIDs(t *testing.T) {
	v := New([]string{"the", "cat", "the"}, DefaultNormalizer())
	if v.Size() != 4 {
		t.Fatalf("Size() = %d, want 4", v.Size())
	}
	if v.Token(PadID) != PadToken || v.Token(OOVID) != OOVToken {
		t.Fatalf("reserved tokens = %q, %q", v.Token(0), v.Token(1))
	}
	if v.ID(PadToken) != OOVID || v.ID(OOVToken) != OOVID {
		t.Fatal("reserved token strings must not resolve from input")
	}

	already := New([]string{PadToken, OOVToken, "x"}, Normalizer{})
	if already.Size() != 3 || already.ID("x") != 2 {
		t.Fatalf("reserved prefix duplicated: %v", already.Tokens())
	}
}

func TestEncodeDecode(t *testing.T) {
	v := New([]string{"in", "german", "school", "caf\u00e9"}, DefaultNormalizer())
	tests := []struct {
		word string
		want int
	}{
		{"in", 2},
		{"German", 3},
		{"GERMAN", 3},
		{"school", 4},
		{"Tesla", OOVID},
		{"", OOVID},
		{"cafe\u0301", 5}, // NFKC composes the accent
	}
	for _, tt := range tests {
		if got := v.ID(tt.word); got != tt.want {
			t.Errorf("ID(%q) = %d, want %d", tt.word, got, tt.want)
		}
	}

	ids := v.Encode([]string{"classes", "in", "German"})
	if !reflect.DeepEqual(ids, []int{OOVID, 2, 3}) {
		t.Fatalf("Encode = %v", ids)
	}
	words := v.Decode([]int{2, 3, PadID, OOVID})
	if !reflect.DeepEqual(words, []string{"in", "german", OOVToken}) {
		t.Fatalf("Decode = %v", words)
	}
	if v.Token(99) != "" || v.Token(-1) != "" {
		t.Fatal("out-of-range ids must decode to empty strings")
	}
}

func TestNormalizer(t *testing.T) {
	tests := []struct {
		name string
		n    Normalizer
		in   string
		want string
	}{
		{"identity", Normalizer{}, "Ÿes", "Ÿes"},
		{"lowercase", NewNormalizer(true, false, false), "HeLLo", "hello"},
		{"accents", NewNormalizer(false, true, false), "Sekulić", "Sekulic"},
		{"nfkc", NewNormalizer(false, false, true), "ﬁne", "fine"},
		{"all", NewNormalizer(true, true, true), "Ｃafé", "cafe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.n.Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
	if (Normalizer{}).Enabled() {
		t.Error("zero normalizer reports enabled")
	}
}

func TestFromTokens(t *testing.T) {
	v, err := FromTokens([]string{PadToken, OOVToken, "a", "b"}, Normalizer{})
	if err != nil {
		t.Fatal(err)
	}
	if v.ID("b") != 3 {
		t.Fatalf("ID(b) = %d", v.ID("b"))
	}
	if _, err := FromTokens([]string{"a", "b"}, Normalizer{}); err == nil {
		t.Error("expected error without reserved prefix")
	}
	if _, err := FromTokens([]string{PadToken, OOVToken, "a", "a"}, Normalizer{}); err == nil {
		t.Error("expected error for duplicate token")
	}
}

func TestCharVocab(t *testing.T) {
	words := []string{"ab", "ba", "c"}
	cv := CharVocab(words)
	if cv.Size() != 5 {
		t.Fatalf("Size() = %d, want 5", cv.Size())
	}
	got := cv.EncodeChars([]string{"abc", "zzz", "cab"}, 2)
	want := [][]int{{2, 3}, {OOVID, OOVID}, {4, 2}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("EncodeChars = %v, want %v", got, want)
	}
	if full := cv.EncodeChars([]string{"abc"}, 0); len(full[0]) != 3 {
		t.Fatalf("untruncated = %v", full)
	}
}

func TestSplitWords(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Why did Tesla go to Karlovac?", []string{"Why", "did", "Tesla", "go", "to", "Karlovac", "?"}},
		{"at Tesla's school", []string{"at", "Tesla", "'s", "school"}},
		{"a four-year term, in 1873.:33", []string{"a", "four-year", "term", ",", "in", "1873", ".", ":", "33"}},
		{"cost 1,000 (approx)", []string{"cost", "1,000", "(", "approx", ")"}},
		{"'quoted'", []string{"'", "quoted", "'"}},
		{"Martin Sekulić.", []string{"Martin", "Sekulić", "."}},
		{"   ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := SplitWords(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitWords(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
