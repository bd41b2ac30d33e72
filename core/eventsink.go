package core

import "pkt.systems/kconsole/schema"

// EventSink receives view changes from the core service. Calls happen on the
// event loop and must not block.
type EventSink interface {
	OnGroups(event schema.GroupsEvent)
	OnTerminal(event schema.TerminalEvent)
	OnStatus(event schema.StatusEvent)
}

type nopSink struct{}

func (nopSink) OnGroups(schema.GroupsEvent)     {}
func (nopSink) OnTerminal(schema.TerminalEvent) {}
func (nopSink) OnStatus(schema.StatusEvent)     {}
