package locator

import (
	"fmt"
	"strings"
)

// Kind is the selector engine a locator resolves with.
type Kind string

const (
	CSS   Kind = "css"
	Text  Kind = "text"
	XPath Kind = "xpath"
)

// Locator is a parsed query expression. Raw keeps the original string so
// engines that understand it natively can use it unchanged.
type Locator struct {
	Raw   string
	Kind  Kind
	Query string
}

// Parse understands the "id=", "text=", "css=" and "xpath=" prefixes. A
// string starting with "//" is XPath and anything else is CSS.
func Parse(s string) Locator {
	raw := s
	s = strings.TrimSpace(s)

	switch {
	case strings.HasPrefix(s, "id="):
		return Locator{Raw: raw, Kind: CSS, Query: "#" + escapeIdent(strings.TrimPrefix(s, "id="))}
	case strings.HasPrefix(s, "text="):
		return Locator{Raw: raw, Kind: Text, Query: unquote(strings.TrimPrefix(s, "text="))}
	case strings.HasPrefix(s, "xpath="):
		return Locator{Raw: raw, Kind: XPath, Query: strings.TrimPrefix(s, "xpath=")}
	case strings.HasPrefix(s, "//"):
		return Locator{Raw: raw, Kind: XPath, Query: s}
	case strings.HasPrefix(s, "css="):
		return Locator{Raw: raw, Kind: CSS, Query: strings.TrimPrefix(s, "css=")}
	default:
		return Locator{Raw: raw, Kind: CSS, Query: s}
	}
}

func (l Locator) String() string {
	return l.Raw
}

// XPathQuery renders the locator for engines that only take XPath or CSS.
// A text locator becomes the deepest elements whose normalized text contains
// the query, ignoring case. CSS locators have no XPath form.
func (l Locator) XPathQuery() (string, error) {
	switch l.Kind {
	case XPath:
		return l.Query, nil
	case Text:
		needle := xpathLiteral(strings.ToLower(l.Query))
		lower := "translate(normalize-space(.), 'ABCDEFGHIJKLMNOPQRSTUVWXYZ', 'abcdefghijklmnopqrstuvwxyz')"
		return fmt.Sprintf("//body//*[contains(%s, %s) and not(*[contains(translate(normalize-space(.), 'ABCDEFGHIJKLMNOPQRSTUVWXYZ', 'abcdefghijklmnopqrstuvwxyz'), %s)])]",
			lower, needle, needle), nil
	default:
		return "", fmt.Errorf("locator %q has no xpath form", l.Raw)
	}
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// escapeIdent escapes characters that are not valid in a bare CSS identifier.
func escapeIdent(id string) string {
	var b strings.Builder
	for i, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == '-', r >= 0x80:
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				fmt.Fprintf(&b, "\\%x ", r)
			} else {
				b.WriteRune(r)
			}
		default:
			b.WriteRune('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	return "concat('" + strings.Join(parts, `', "'", '`) + "')"
}
