package textnorm

import (
	"reflect"
	"testing"
)

func TestNewValidatesLanguage(t *testing.T) {
	if _, err := New("klingon"); err == nil {
		t.Fatal("expected error for unsupported language")
	}
	n, err := New("  English ")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if n.Language() != "english" {
		t.Fatalf("Language() = %q, want english", n.Language())
	}
}

func TestTokens(t *testing.T) {
	n, err := New("english")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "stems and lowercases",
			text: "Running RUNS jumped",
			want: []string{"run", "run", "jump"},
		},
		{
			name: "splits on punctuation and digits",
			text: "hello,world...testing123done",
			want: []string{"hello", "world", "test", "done"},
		},
		{
			name: "drops single letters",
			text: "a hello b world",
			want: []string{"hello", "world"},
		},
		{
			name: "drops overlong runs",
			text: "hello abcdefghijklmnopqrstuvwxyz world",
			want: []string{"hello", "world"},
		},
		{
			name: "strips accents",
			text: "naïve résumé",
			want: []string{"naiv", "resum"},
		},
		{
			name: "empty input",
			text: "   \n\t ",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := n.Tokens(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Tokens(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestTokensSharedAcrossQueries(t *testing.T) {
	n, err := New("english")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// The same surface forms must always normalize identically, otherwise
	// training and query vocabularies drift apart.
	first := n.Tokens("The cats were running")
	second := n.Tokens("the CATS were RUNNING!!!")
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("normalization not stable: %v vs %v", first, second)
	}
}
