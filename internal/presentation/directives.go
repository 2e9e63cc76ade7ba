package presentation

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Directive is an effect request embedded in an AI reply, written as
// [[name key=value ...]].
type Directive struct {
	Name string
	Args map[string]string
}

var (
	directivePattern = regexp.MustCompile(`\[\[\s*([A-Za-z]\w*)([^\]]*)\]\]`)
	argPattern       = regexp.MustCompile(`([A-Za-z]\w*)=("[^"]*"|[^\s]+)`)
	extraSpaces      = regexp.MustCompile(`[ \t]{2,}`)
)

// ParseDirectives returns the directives in text, in order of appearance.
func ParseDirectives(text string) []Directive {
	matches := directivePattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	out := make([]Directive, 0, len(matches))
	for _, m := range matches {
		d := Directive{Name: m[1], Args: map[string]string{}}
		for _, a := range argPattern.FindAllStringSubmatch(m[2], -1) {
			d.Args[a[1]] = strings.Trim(a[2], `"`)
		}
		out = append(out, d)
	}
	return out
}

// StripDirectives removes every directive from text, leaving what should be
// shown and spoken.
func StripDirectives(text string) string {
	if !strings.Contains(text, "[[") {
		return strings.TrimSpace(text)
	}
	text = directivePattern.ReplaceAllString(text, "")
	text = extraSpaces.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// seconds reads a positive duration argument given in seconds.
func (d Directive) seconds(key string, def time.Duration) time.Duration {
	v, ok := d.Args[key]
	if !ok {
		return def
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs <= 0 {
		return def
	}
	return time.Duration(secs * float64(time.Second))
}

func (d Directive) arg(key, def string) string {
	if v := d.Args[key]; v != "" {
		return v
	}
	return def
}
