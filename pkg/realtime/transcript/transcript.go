package transcript

import (
	"time"

	"github.com/parlance-ai/parlance/pkg/core"
)

// Status of a transcript item.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

// Item is one stable conversation entry reconstructed from the event
// stream. Text grows by delta-append while in progress; the done event's
// value replaces it and is final.
type Item struct {
	ID        string
	Role      string
	Text      string
	Status    Status
	CreatedAt time.Time
}

// Aggregator folds incremental transcript events into ordered items. It is
// written only by the session's dispatch flow and is not safe for
// concurrent mutation; readers get copies.
type Aggregator struct {
	items map[string]*Item
	order []string
	now   func() time.Time
}

// New creates an empty aggregator. now defaults to time.Now.
func New(now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{
		items: make(map[string]*Item),
		now:   now,
	}
}

// ItemCreated registers an item id. Duplicate creation for an existing id
// is a no-op. The returned bool reports whether the item is new.
func (a *Aggregator) ItemCreated(id, role string) (Item, bool) {
	if existing, ok := a.items[id]; ok {
		return *existing, false
	}
	item := &Item{
		ID:        id,
		Role:      role,
		Status:    StatusInProgress,
		CreatedAt: a.now(),
	}
	a.items[id] = item
	a.order = append(a.order, id)
	return *item, true
}

// AppendDelta appends a transcript fragment to the item. A delta referencing
// an unseen id synthesizes an assistant item first; degenerate streams may
// deliver deltas before the creation event. Deltas for a DONE item are
// dropped. The returned bool reports whether the item changed.
func (a *Aggregator) AppendDelta(id, delta string) (Item, bool) {
	item, ok := a.items[id]
	if !ok {
		created, _ := a.ItemCreated(id, core.RoleAssistant)
		item = a.items[created.ID]
	}
	if item.Status == StatusDone {
		return *item, false
	}
	item.Text += delta
	return *item, true
}

// Complete sets the item's final text and marks it DONE. The done value is
// authoritative: it replaces whatever the deltas accumulated. Completion is
// terminal; a duplicate done for the id is a no-op. An unseen id synthesizes
// an assistant item first.
func (a *Aggregator) Complete(id, finalText string) (Item, bool) {
	item, ok := a.items[id]
	if !ok {
		created, _ := a.ItemCreated(id, core.RoleAssistant)
		item = a.items[created.ID]
	}
	if item.Status == StatusDone {
		return *item, false
	}
	item.Text = finalText
	item.Status = StatusDone
	return *item, true
}

// Get returns a copy of the item, if present.
func (a *Aggregator) Get(id string) (Item, bool) {
	item, ok := a.items[id]
	if !ok {
		return Item{}, false
	}
	return *item, true
}

// Items returns copies of all items in creation order.
func (a *Aggregator) Items() []Item {
	out := make([]Item, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, *a.items[id])
	}
	return out
}

// Messages converts completed-or-growing items with text into plain
// conversation messages, oldest first. Function call records never enter
// the transcript, so the result is already message-only history.
func (a *Aggregator) Messages() []core.Message {
	out := make([]core.Message, 0, len(a.order))
	for _, id := range a.order {
		item := a.items[id]
		if item.Text == "" {
			continue
		}
		out = append(out, core.Message{Role: item.Role, Content: item.Text})
	}
	return out
}

// LastUserText returns the text of the most recent user item, if any.
func (a *Aggregator) LastUserText() (string, bool) {
	for i := len(a.order) - 1; i >= 0; i-- {
		item := a.items[a.order[i]]
		if item.Role == core.RoleUser && item.Text != "" {
			return item.Text, true
		}
	}
	return "", false
}
