package locator

import (
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input     string
		wantKind  Kind
		wantQuery string
	}{
		{input: "id=username", wantKind: CSS, wantQuery: "#username"},
		{input: "id=log-in", wantKind: CSS, wantQuery: "#log-in"},
		{input: "id=a.b", wantKind: CSS, wantQuery: `#a\.b`},
		{input: "text=Add Account", wantKind: Text, wantQuery: "Add Account"},
		{input: `text="Pay Now"`, wantKind: Text, wantQuery: "Pay Now"},
		{input: "div.avatar-w img", wantKind: CSS, wantQuery: "div.avatar-w img"},
		{input: "css=span.status-pill + span", wantKind: CSS, wantQuery: "span.status-pill + span"},
		{input: "xpath=//ul/li", wantKind: XPath, wantQuery: "//ul/li"},
		{input: "//div[@id='time']", wantKind: XPath, wantQuery: "//div[@id='time']"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			l := Parse(tt.input)
			if l.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", l.Kind, tt.wantKind)
			}
			if l.Query != tt.wantQuery {
				t.Errorf("Query = %q, want %q", l.Query, tt.wantQuery)
			}
			if l.String() != tt.input {
				t.Errorf("String() = %q, want raw input %q", l.String(), tt.input)
			}
		})
	}
}

func TestXPathQuery(t *testing.T) {
	x, err := Parse("text=Make Payment").XPathQuery()
	if err != nil {
		t.Fatalf("XPathQuery() error = %v", err)
	}
	want := "//body//*[contains(translate(normalize-space(.), 'ABCDEFGHIJKLMNOPQRSTUVWXYZ', 'abcdefghijklmnopqrstuvwxyz'), 'make payment') and not(*[contains(translate(normalize-space(.), 'ABCDEFGHIJKLMNOPQRSTUVWXYZ', 'abcdefghijklmnopqrstuvwxyz'), 'make payment')])]"
	if x != want {
		t.Errorf("XPathQuery() = %s", x)
	}

	if _, err := Parse("ul.main-menu").XPathQuery(); err == nil {
		t.Error("Expected error for css locator")
	}
}

func TestXPathLiteral(t *testing.T) {
	tests := map[string]string{
		"plain": "'plain'",
		"it's":  `"it's"`,
		`a'b"c`: `concat('a', "'", 'b"c')`,
	}
	for in, want := range tests {
		if got := xpathLiteral(in); got != want {
			t.Errorf("xpathLiteral(%q) = %s, want %s", in, got, want)
		}
	}
}
