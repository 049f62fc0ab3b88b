package filters

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Filter is a composable LDAP search filter fragment.
type Filter interface {
	String() string
}

type rawFilter string

func (f rawFilter) String() string {
	return string(f)
}

// Logical operators

type andFilter struct {
	parts []Filter
}

func And(parts ...Filter) Filter {
	return andFilter{parts: parts}
}

func (f andFilter) String() string {
	var parts []string
	for _, p := range f.parts {
		parts = append(parts, p.String())
	}
	return "(&" + strings.Join(parts, "") + ")"
}

type orFilter struct {
	parts []Filter
}

func Or(parts ...Filter) Filter {
	return orFilter{parts: parts}
}

func (f orFilter) String() string {
	var parts []string
	for _, p := range f.parts {
		parts = append(parts, p.String())
	}
	return "(|" + strings.Join(parts, "") + ")"
}

type notFilter struct {
	part Filter
}

func Not(f Filter) Filter {
	return notFilter{part: f}
}

func (f notFilter) String() string {
	return "(!" + f.part.String() + ")"
}

// Comparisons

func Eq(attr, value string) Filter {
	return rawFilter("(" + attr + "=" + ldap.EscapeFilter(value) + ")")
}

func Present(attr string) Filter {
	return rawFilter("(" + attr + "=*)")
}

type geFilter struct {
	attr  string
	value int64
}

func Ge(attr string, value int64) Filter {
	return geFilter{attr: attr, value: value}
}

func (f geFilter) String() string {
	return fmt.Sprintf("(%s>=%d)", f.attr, f.value)
}

type gtFilter struct {
	attr  string
	value int64
}

// Gt builds a strict greater-than as NOT(attr<=value); LDAP has no native >.
func Gt(attr string, value int64) Filter {
	return gtFilter{attr: attr, value: value}
}

func (f gtFilter) String() string {
	return fmt.Sprintf("(!(%s<=%d))", f.attr, f.value)
}
