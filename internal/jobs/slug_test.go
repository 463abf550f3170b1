// SPDX-License-Identifier: MIT

package jobs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{name: "plain", title: "Beef Stew", want: "beef-stew"},
		{name: "accents fold", title: "Crème Brûlée", want: "creme-brulee"},
		{name: "umlauts expand", title: "Käsespätzle", want: "kaesespaetzle"},
		{name: "decomposed accents compose first", title: "Crème Brûlée", want: "creme-brulee"},
		{name: "punctuation collapses", title: "Grandma's  BEST!! Cookies", want: "grandma-s-best-cookies"},
		{name: "leading and trailing junk", title: "  ~Tacos~  ", want: "tacos"},
		{name: "empty falls back", title: "", want: "recipe"},
		{name: "symbols only fall back", title: "!!!", want: "recipe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, slugify(tt.title))
		})
	}
}

func TestSlugifyCapsLength(t *testing.T) {
	long := strings.Repeat("very-long-title ", 10)
	slug := slugify(long)
	assert.LessOrEqual(t, len(slug), 50)
	assert.False(t, strings.HasSuffix(slug, "-"))
}

func TestShortHash(t *testing.T) {
	a := shortHash("https://example.com/a")
	b := shortHash("https://example.com/b")

	assert.Len(t, a, 6)
	assert.Equal(t, a, shortHash("https://example.com/a"))
	assert.NotEqual(t, a, b)
}
