// Package uri parses endpoint URIs and expands {{NAME}} / {{NAME|default('x')}}
// placeholders against an environment snapshot before delegating to
// net/url for scheme/host/path/query parsing.
//
// The placeholder scanner generalizes the key=value token splitting used by
// the engine's configuration loader (config.parseAttributePairs) from flat
// comma-separated pairs to a small grammar with an optional default value.
package uri

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/flowctl/flowctl/pkg/ferrors"
)

// Endpoint is a resolved endpoint URI: scheme, host, port, path, query
// parameters, with all {{...}} placeholders already expanded.
type Endpoint struct {
	Raw      string
	Scheme   string
	User     string
	Password string
	Host     string
	Port     string
	Path     string
	Query    url.Values
}

// Env is a read-only snapshot of environment variables used to expand
// placeholders. Captured once at engine start (see pkg/config).
type Env map[string]string

// Parse expands placeholders in raw against env, then parses the result as
// a standard URI. ConfigError is returned for an unresolved placeholder
// with no default, or a URI that fails to parse.
func Parse(raw string, env Env) (Endpoint, error) {
	expanded, err := Expand(raw, env)
	if err != nil {
		return Endpoint{}, err
	}

	u, err := url.Parse(expanded)
	if err != nil {
		return Endpoint{}, ferrors.Configf("uri.parse", "invalid uri %q: %v", raw, err)
	}

	password, _ := u.User.Password()
	return Endpoint{
		Raw:      expanded,
		Scheme:   u.Scheme,
		User:     u.User.Username(),
		Password: password,
		Host:     u.Hostname(),
		Port:     u.Port(),
		Path:     u.Path,
		Query:    u.Query(),
	}, nil
}

// QueryInt reads a query parameter as an int, returning def if absent or
// unparsable.
func (e Endpoint) QueryInt(key string, def int) int {
	v := e.Query.Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// QueryFloat reads a query parameter as a float64, returning def if absent
// or unparsable.
func (e Endpoint) QueryFloat(key string, def float64) float64 {
	v := e.Query.Get(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// QueryBool reads a query parameter as a bool ("1"/"true"), returning def
// if absent or unparsable.
func (e Endpoint) QueryBool(key string, def bool) bool {
	v := e.Query.Get(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Authority returns host:port, or just host when port is empty.
func (e Endpoint) Authority() string {
	if e.Port == "" {
		return e.Host
	}
	return e.Host + ":" + e.Port
}

// Expand replaces every {{NAME}} or {{NAME|default('value')}} placeholder
// in s with its value from env, or the literal default when env has no
// entry for NAME. A string with no placeholders is returned unchanged
// (idempotent over already-expanded strings, since there is nothing left
// to scan).
func Expand(s string, env Env) (string, error) {
	var b strings.Builder
	i := 0
	for {
		start := strings.Index(s[i:], "{{")
		if start < 0 {
			b.WriteString(s[i:])
			break
		}
		start += i
		b.WriteString(s[i:start])

		end := strings.Index(s[start:], "}}")
		if end < 0 {
			return "", ferrors.Configf("uri.expand", "unterminated placeholder in %q", s)
		}
		end += start

		inner := s[start+2 : end]
		val, err := resolvePlaceholder(inner, env)
		if err != nil {
			return "", err
		}
		b.WriteString(val)

		i = end + 2
	}
	return b.String(), nil
}

func resolvePlaceholder(inner string, env Env) (string, error) {
	name := inner
	var def string
	hasDefault := false

	if idx := strings.Index(inner, "|"); idx >= 0 {
		name = strings.TrimSpace(inner[:idx])
		rest := strings.TrimSpace(inner[idx+1:])
		const prefix = "default("
		if !strings.HasPrefix(rest, prefix) || !strings.HasSuffix(rest, ")") {
			return "", ferrors.Configf("uri.expand", "malformed modifier %q in placeholder %q", rest, inner)
		}
		literal := rest[len(prefix) : len(rest)-1]
		literal = strings.TrimSpace(literal)
		if len(literal) >= 2 && (literal[0] == '\'' || literal[0] == '"') && literal[len(literal)-1] == literal[0] {
			literal = literal[1 : len(literal)-1]
		}
		def = literal
		hasDefault = true
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return "", ferrors.Configf("uri.expand", "empty placeholder name in %q", inner)
	}

	if v, ok := env[name]; ok {
		return v, nil
	}
	if hasDefault {
		return def, nil
	}
	return "", ferrors.Config("uri.expand", fmt.Errorf("no value for %q and no default", name))
}
