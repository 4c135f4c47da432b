package directive

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatchbot/internal/domain"
)

func TestTokenizeQuotes(t *testing.T) {
	got := Tokenize(`!send -p "Client A" -c 'alpha beta' x\ y ""`)
	assert.Equal(t, []string{"!send", "-p", "Client A", "-c", "alpha beta", "x y", ""}, got)
	assert.Nil(t, Tokenize("   "))
}

func TestSplitBody(t *testing.T) {
	head, body, ok := SplitBody(`!send -p "a|b" -c x \| y | hello | world`)
	require.True(t, ok)
	assert.Equal(t, `!send -p "a|b" -c x \| y `, head)
	assert.Equal(t, " hello | world", body)

	_, _, ok = SplitBody("!send -p acme hello")
	assert.False(t, ok)
}

func TestParseGroups(t *testing.T) {
	d, err := Parse(`!send -p "Acme" -c alpha -c beta -p Globex -c -all -all | Hello there`, 0)
	require.NoError(t, err)

	assert.Equal(t, "!send", d.Verb)
	assert.Equal(t, "Hello there", d.Content)
	require.Len(t, d.Groups, 3)

	assert.Equal(t, Group{Partner: "Acme", Channels: []string{"alpha", "beta"}, SendSpecific: true}, d.Groups[0])
	assert.Equal(t, Group{Partner: "Globex", SendAll: true}, d.Groups[1])
	assert.Equal(t, Group{Partner: AllPartners}, d.Groups[2])
	assert.True(t, d.Groups[1].Broadcast())
	assert.False(t, d.Groups[0].Broadcast())
}

func TestParseQuotedAllSelector(t *testing.T) {
	d, err := Parse(`send -p "-all" | Ping`, 0)
	require.NoError(t, err)
	require.Len(t, d.Groups, 1)
	assert.Equal(t, AllPartners, d.Groups[0].Partner)
}

func TestParseExplicitChannelsWinOverAll(t *testing.T) {
	d, err := Parse(`send -p acme -c -all -c alpha | hi`, 0)
	require.NoError(t, err)
	g := d.Groups[0]
	assert.True(t, g.SendAll)
	assert.True(t, g.SendSpecific)
	assert.False(t, g.Broadcast())
}

func TestParseContentIsNotRetokenized(t *testing.T) {
	d, err := Parse(`send -p acme |   -p "quoted" | pipes stay  `, 0)
	require.NoError(t, err)
	assert.Equal(t, `-p "quoted" | pipes stay`, d.Content)
	require.Len(t, d.Groups, 1)
}

func TestParseSyntaxErrors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		flag string
	}{
		{"missing separator", "send -p acme hello", ""},
		{"dangling -p", "send -p | hi", "-p"},
		{"dangling -c", "send -p acme -c | hi", "-c"},
		{"-p followed by flag", "send -p -c alpha | hi", "-p"},
		{"channel before partner", "send -c alpha -p acme | hi", "-c"},
		{"no groups", "send | hi", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.raw, 0)
			var se *domain.SyntaxError
			require.True(t, errors.As(err, &se), "got %v", err)
			assert.Equal(t, tc.flag, se.Flag)
		})
	}
}

func TestParseContentValidation(t *testing.T) {
	_, err := Parse("send -p acme |    ", 0)
	assert.True(t, errors.Is(err, domain.ErrEmptyContent))

	long := strings.Repeat("é", 2001)
	_, err = Parse("send -p acme | "+long, 0)
	assert.True(t, errors.Is(err, domain.ErrContentTooLong))

	ok := strings.Repeat("é", 2000)
	d, err := Parse("send -p acme | "+ok, 0)
	require.NoError(t, err)
	assert.Equal(t, ok, d.Content)

	// content is checked before selectors
	_, err = Parse("send -c x | ", 0)
	assert.True(t, errors.Is(err, domain.ErrEmptyContent))
}
