package kconsole

import (
	"pkt.systems/kconsole/core"
	"pkt.systems/kconsole/schema"
)

type eventFanout struct {
	sinks []core.EventSink
}

func (f eventFanout) OnGroups(event schema.GroupsEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnGroups(event)
	}
}

func (f eventFanout) OnTerminal(event schema.TerminalEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnTerminal(event)
	}
}

func (f eventFanout) OnStatus(event schema.StatusEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnStatus(event)
	}
}
