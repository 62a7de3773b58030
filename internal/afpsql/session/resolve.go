package session

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/agentfirst/afpsql/internal/afpsql/config"
	"github.com/agentfirst/afpsql/internal/afpsql/protocol"
)

// Resolved is the outcome of resolving a query request's target session: the
// pool name to Get from the Registry, and the spec to connect it with if it
// is not already open.
type Resolved struct {
	Name string
	Spec config.ConnectionSpec
	// Ephemeral marks a one-off session synthesized from inline connection
	// fields (spec §4.3): it is forgotten from the registry once the query
	// that created it completes, rather than kept around under its
	// synthesized name.
	Ephemeral bool
}

// ResolveSpec picks the session a query request targets, per spec §3's
// precedence: inline request fields (one-off, ephemeral session) take
// priority over a named, already-registered session, which takes priority
// over the snapshot's default session.
func ResolveSpec(snap *config.Snapshot, requestSession string, inline protocol.ConnSpecFields) (Resolved, error) {
	if inline.HasAny() {
		return Resolved{
			Name:      "inline-" + uuid.NewString(),
			Spec:      toConnectionSpec(inline),
			Ephemeral: true,
		}, nil
	}

	name := requestSession
	if name == "" {
		name = snap.DefaultSession
	}

	spec, ok := snap.Sessions[name]
	if !ok {
		return Resolved{}, fmt.Errorf("session %q is not configured", name)
	}

	return Resolved{Name: name, Spec: spec}, nil
}

func toConnectionSpec(f protocol.ConnSpecFields) config.ConnectionSpec {
	return config.ConnectionSpec{
		DSNSecret:      f.DSNSecret,
		ConninfoSecret: f.ConninfoSecret,
		Host:           f.Host,
		Port:           f.Port,
		User:           f.User,
		DBName:         f.DBName,
		PasswordSecret: f.PasswordSecret,
	}
}
