// Package paragraph splits rendered markup into paragraph units and splices
// a fragment in after every Nth unit.
//
// Units are located with the golang.org/x/net/html tokenizer so that a
// closing </p> inside a comment or a raw-text element such as <script> does
// not end a paragraph. Units are always sub-slices of the input, so joining
// them reproduces the original bytes exactly.
package paragraph

import (
	"strings"

	"golang.org/x/net/html"
)

// Units splits markup into paragraph units. Each unit ends with (and
// includes) a closing </p> tag. Any content after the last closing tag,
// whitespace included, forms one more unit. Empty input has no units.
func Units(markup string) []string {
	if markup == "" {
		return nil
	}

	var units []string
	z := html.NewTokenizer(strings.NewReader(markup))
	start, pos := 0, 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		pos += len(z.Raw())
		if tt != html.EndTagToken {
			continue
		}
		if name, _ := z.TagName(); string(name) == "p" {
			units = append(units, markup[start:pos])
			start = pos
		}
	}

	if rest := markup[start:]; rest != "" {
		units = append(units, rest)
	}
	return units
}

// Wrap returns fragment as its own paragraph unit.
func Wrap(fragment string) string {
	return "<p>" + fragment + "</p>"
}

// Inject inserts the wrapped fragment after every interval-th paragraph unit
// of markup. The input is returned unchanged when fragment is empty, when
// markup has no units, or when interval is not smaller than the number of
// units. An interval below 1 is treated as 1.
//
// Inject is meant to run once per render on the unmodified source markup;
// applying it to its own output inserts the fragment again.
func Inject(markup, fragment string, interval int) string {
	if fragment == "" {
		return markup
	}
	if interval < 1 {
		interval = 1
	}

	units := Units(markup)
	if len(units) == 0 || interval >= len(units) {
		return markup
	}

	block := Wrap(fragment)
	var b strings.Builder
	b.Grow(len(markup) + (len(units)/interval)*len(block))
	for i, u := range units {
		b.WriteString(u)
		if (i+1)%interval == 0 {
			b.WriteString(block)
		}
	}
	return b.String()
}

// Count returns how many fragment copies Inject would insert into markup.
func Count(markup string, interval int) int {
	if interval < 1 {
		interval = 1
	}
	n := len(Units(markup))
	if n == 0 || interval >= n {
		return 0
	}
	return n / interval
}
