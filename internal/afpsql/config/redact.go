package config

import "strings"

// RedactedSentinel replaces any "_secret"-suffixed field whenever
// configuration is echoed (spec §3, "Redacted fields never appear in
// cleartext in any emitted event").
const RedactedSentinel = "***"

// RedactConnectionSpec returns a copy of spec with every *_secret field
// replaced by the redaction sentinel, if it was set. "_secret" is a suffix
// contract on the field name (spec design note "Secret redaction"): any
// field whose canonical name ends in "_secret" is covered by it, which is
// exactly DSNSecret, ConninfoSecret and PasswordSecret here.
func RedactConnectionSpec(spec ConnectionSpec) ConnectionSpec {
	out := spec
	if out.DSNSecret != "" {
		out.DSNSecret = RedactedSentinel
	}
	if out.ConninfoSecret != "" {
		out.ConninfoSecret = RedactedSentinel
	}
	if out.PasswordSecret != "" {
		out.PasswordSecret = RedactedSentinel
	}
	return out
}

// RedactSessions applies RedactConnectionSpec to every entry of a sessions
// map, returning a new map.
func RedactSessions(sessions map[string]ConnectionSpec) map[string]ConnectionSpec {
	out := make(map[string]ConnectionSpec, len(sessions))
	for name, spec := range sessions {
		out[name] = RedactConnectionSpec(spec)
	}
	return out
}

// IsSecretField reports whether a canonical (snake_case) field name is
// subject to redaction under the "_secret" suffix contract.
func IsSecretField(name string) bool {
	return strings.HasSuffix(name, "_secret")
}
