package resolver

import (
	"net"
	"regexp"
	"strconv"
	"strings"
)

// Field selects which part of a dependency's endpoint a placeholder renders.
type Field string

const (
	FieldURL     Field = "url"
	FieldAddress Field = "address"
	FieldHost    Field = "host"
	FieldPort    Field = "port"
)

// placeholderPattern matches ${field:service} and the $${ escape.
var placeholderPattern = regexp.MustCompile(`\$\$\{|\$\{(url|address|host|port):([a-z0-9](?:[a-z0-9-]*[a-z0-9])?)\}`)

// Endpoint is where a healthy dependency can be reached in the active
// environment.
type Endpoint struct {
	Host string
	Port int
	URL  string
}

// Address renders host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) render(f Field) string {
	switch f {
	case FieldURL:
		return e.URL
	case FieldAddress:
		return e.Address()
	case FieldHost:
		return e.Host
	case FieldPort:
		return strconv.Itoa(e.Port)
	}
	return ""
}

// Reference is one placeholder occurrence.
type Reference struct {
	Field   Field
	Service string
}

// References lists the placeholders in s in order of appearance.
func References(s string) []Reference {
	var refs []Reference
	for _, m := range placeholderPattern.FindAllStringSubmatch(s, -1) {
		if m[0] == "$${" {
			continue
		}
		refs = append(refs, Reference{Field: Field(m[1]), Service: m[2]})
	}
	return refs
}

// expand substitutes every placeholder using render. Unrecognized ${...}
// sequences are left untouched.
func expand(s string, render func(Reference) (string, error)) (string, error) {
	matches := placeholderPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		last = m[1]

		if s[m[0]:m[1]] == "$${" {
			b.WriteString("${")
			continue
		}
		v, err := render(Reference{Field: Field(s[m[2]:m[3]]), Service: s[m[4]:m[5]]})
		if err != nil {
			return "", err
		}
		b.WriteString(v)
	}
	b.WriteString(s[last:])
	return b.String(), nil
}
