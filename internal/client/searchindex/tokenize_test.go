package searchindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"latin words", "hello world", []string{"hello", "world"}},
		{"short words dropped", "a bc d", []string{"bc"}},
		{"digits", "room 42 x", []string{"room", "42"}},
		{"punctuation splits", "foo-bar,baz", []string{"foo", "bar", "baz"}},
		{"cjk ngrams", "中文搜索", []string{"中文", "文搜", "搜索", "中文搜", "文搜索"}},
		{"single cjk", "中", nil},
		{"mixed", "go语言", []string{"go", "语言"}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.in))
		})
	}
}

func TestIndexTokens_AddsPrefixes(t *testing.T) {
	got := indexTokens("hello")
	assert.Equal(t, []string{"hello", "he", "hel", "hell"}, got)

	assert.Equal(t, Tokenize("中文"), indexTokens("中文"))
}
