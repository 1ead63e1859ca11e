package moderation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterCheckWords(t *testing.T) {
	f := NewFilter([]string{"badword", "offensive"})

	tests := []struct {
		name    string
		input   string
		blocked bool
		term    string
	}{
		{"exact match", "badword", true, "badword"},
		{"in sentence", "this is badword here", true, "badword"},
		{"case insensitive", "BADWORD", true, "badword"},
		{"mixed case", "BaDwOrD", true, "badword"},
		{"with punctuation", "hello, badword!", true, "badword"},
		{"clean message", "hello world", false, ""},
		{"prefix not blocked", "badwording is fine", false, ""},
		{"substring not blocked", "mybadword", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.Check(tt.input)
			assert.Equal(t, tt.blocked, res.Blocked)
			if tt.blocked {
				assert.Equal(t, tt.term, res.Term)
			}
		})
	}
}

func TestFilterCheckPhrases(t *testing.T) {
	f := NewFilter([]string{"kill yourself", "go die"})

	tests := []struct {
		name    string
		input   string
		blocked bool
	}{
		{"exact phrase", "kill yourself", true},
		{"phrase in sentence", "just go die already", true},
		{"case insensitive", "KILL YOURSELF", true},
		{"words apart", "kill the process yourself", false},
		{"partial phrase", "go dies", false},
		{"clean", "have a nice day", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.blocked, f.Check(tt.input).Blocked)
		})
	}
}

func TestFilterApplyReplacesEntireContent(t *testing.T) {
	f := NewFilter([]string{"badword"})

	out, res := f.Apply("only part is badword but all goes")
	require.True(t, res.Blocked)
	assert.Equal(t, Sentinel, out)
}

func TestFilterApplyStripsMarkup(t *testing.T) {
	f := NewFilter([]string{"badword"})

	// Tags cannot hide a term from the scan.
	out, res := f.Apply("bad<b>word</b>")
	assert.True(t, res.Blocked)
	assert.Equal(t, Sentinel, out)

	out, res = f.Apply("<script>alert(1)</script>hello")
	assert.False(t, res.Blocked)
	assert.NotContains(t, out, "<script>")
}

func TestFilterApplyCleanPassthrough(t *testing.T) {
	f := NewFilter([]string{"badword"})

	out, res := f.Apply("hello world")
	assert.False(t, res.Blocked)
	assert.Equal(t, "hello world", out)
}
