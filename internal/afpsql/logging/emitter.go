// Package logging emits the AFD "log" protocol event (spec §4.8): a
// category-filtered diagnostic channel on stdout, entirely separate from the
// process's stderr diagnostics (see internal/afpsql/diag). A log event never
// reaches stderr, and stderr never carries a protocol event — the two sinks
// are not interchangeable.
package logging

import (
	"strings"

	"github.com/agentfirst/afpsql/internal/afpsql/protocol"
)

// Emitter writes "log" events for categories enabled in the current
// configuration snapshot.
type Emitter struct {
	writer *protocol.Writer
}

// NewEmitter builds an Emitter writing through w, the same output writer
// every other AFD event is written through, so log events interleave with
// result/error events in emission order.
func NewEmitter(w *protocol.Writer) *Emitter {
	return &Emitter{writer: w}
}

// Enabled reports whether category is covered by the configured set, per
// spec §4.8's match rules: empty set disables, "all"/"*" enables all, exact
// match, or group-prefix match on the category's first dotted segment.
func Enabled(categories map[string]struct{}, category string) bool {
	if len(categories) == 0 {
		return false
	}
	if _, ok := categories["all"]; ok {
		return true
	}
	if _, ok := categories["*"]; ok {
		return true
	}
	if _, ok := categories[category]; ok {
		return true
	}
	group, _, found := strings.Cut(category, ".")
	if !found {
		return false
	}
	_, ok := categories[group]
	return ok
}

// Emit writes a log event for category if it is enabled, silently doing
// nothing otherwise. Pointer fields left nil on evt are omitted from the wire
// object via their omitempty tags; trace is always present.
func (e *Emitter) Emit(categories map[string]struct{}, category string, evt protocol.LogEvent) error {
	if !Enabled(categories, category) {
		return nil
	}
	evt.Code = protocol.CodeLog
	evt.Event = category
	return e.writer.Emit(evt)
}
