// Package site selects which variant of the demo application a run targets.
package site

import (
	"os"
	"strings"
)

const (
	EnvVar = "DEMO_SITE"

	DefaultBaseURL = "https://demo.applitools.com"
	alternatePage  = "/index_v2.html"
)

type Variant int

const (
	Original Variant = iota
	V2
)

func (v Variant) String() string {
	if v == V2 {
		return "v2"
	}
	return "original"
}

// Suffix is appended to the base URL to reach the variant's login page.
func (v Variant) Suffix() string {
	if v == V2 {
		return alternatePage
	}
	return ""
}

func (v Variant) URL(base string) string {
	return strings.TrimRight(base, "/") + v.Suffix()
}

// Resolve maps the raw DEMO_SITE value to a variant. An absent or empty
// value and "original" select the original page; anything else selects the
// alternate page.
func Resolve(raw string, present bool) Variant {
	if !present || raw == "" || raw == "original" {
		return Original
	}
	return V2
}

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// FromEnv reads DEMO_SITE once through lookup, or the process environment
// when lookup is nil.
func FromEnv(lookup LookupFunc) Variant {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return Resolve(lookup(EnvVar))
}
