package reconcile

import (
	"github.com/any-listen/any-listen-extension-store/core/extension"
	"github.com/any-listen/any-listen-extension-store/core/i18n"
	"github.com/any-listen/any-listen-extension-store/core/index"
	"github.com/any-listen/any-listen-extension-store/core/infra/logging"
)

// Accumulator builds the next index from the prior one. Outcomes must be
// applied by a single goroutine, in source order.
type Accumulator struct {
	prior    *index.Snapshot
	list     []extension.ListEntry
	pos      map[string]int
	registry map[string]*extension.Record
	messages i18n.Messages
	touched  map[string]struct{}
}

// NewAccumulator starts from the prior list and the base messages. The
// registry starts empty; ids not applied or retained are retained when the
// snapshot is taken.
func NewAccumulator(prior *index.Snapshot, base i18n.Messages) *Accumulator {
	if prior == nil {
		prior = index.Empty()
	}
	a := &Accumulator{
		prior:    prior,
		list:     make([]extension.ListEntry, len(prior.List)),
		pos:      make(map[string]int, len(prior.List)),
		registry: make(map[string]*extension.Record, len(prior.Registry)),
		messages: base.Clone(),
		touched:  map[string]struct{}{},
	}
	copy(a.list, prior.List)
	for i, e := range a.list {
		a.pos[e.ID] = i
	}
	return a
}

// Apply folds one outcome into the next index.
func (a *Accumulator) Apply(o *Outcome) {
	if o == nil || o.Record == nil {
		return
	}
	a.touched[o.ID] = struct{}{}
	a.registry[o.ID] = o.Record

	switch o.Action {
	case ActionUnchanged:
		i18n.CarryOver(a.messages, a.prior.Messages, o.ID)
		return
	case ActionInsert, ActionUpdate, ActionRefresh:
		a.put(o.Record.Entry())
	}
	if o.Carry {
		i18n.CarryOver(a.messages, a.prior.Messages, o.ID)
	}
	i18n.Merge(a.messages, o.ID, o.Fragment)
}

// Retain keeps the prior state of id untouched, as if it had never been
// reconciled in this run. Ids absent from the list are not retained.
func (a *Accumulator) Retain(id string) {
	a.touched[id] = struct{}{}
	if _, listed := a.pos[id]; !listed {
		return
	}
	rec, ok := a.prior.Record(id)
	if !ok {
		return
	}
	a.registry[id] = rec
	i18n.CarryOver(a.messages, a.prior.Messages, id)
}

// Snapshot returns the next index. Prior entries nobody touched are retained.
// List entries without a record and records without a list entry are dropped.
func (a *Accumulator) Snapshot() *index.Snapshot {
	for _, e := range a.prior.List {
		if _, ok := a.touched[e.ID]; !ok {
			a.Retain(e.ID)
		}
	}
	list := make([]extension.ListEntry, 0, len(a.list))
	for _, e := range a.list {
		if _, ok := a.registry[e.ID]; !ok {
			logging.Warn("reconcile", "dropping list entry without registry record", "id", e.ID)
			continue
		}
		list = append(list, e)
	}
	registry := make(map[string]*extension.Record, len(list))
	for _, e := range list {
		registry[e.ID] = a.registry[e.ID]
	}
	for id := range a.registry {
		if _, ok := registry[id]; !ok {
			logging.Warn("reconcile", "dropping unlisted registry record", "id", id)
		}
	}
	return &index.Snapshot{
		List:     list,
		Registry: registry,
		Messages: a.messages.Clone(),
	}
}

func (a *Accumulator) put(e extension.ListEntry) {
	if i, ok := a.pos[e.ID]; ok {
		a.list[i] = e
		return
	}
	a.pos[e.ID] = len(a.list)
	a.list = append(a.list, e)
}
