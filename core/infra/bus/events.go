package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/any-listen/any-listen-extension-store/core/extension"
)

// DefaultSubject prefixes every change event subject.
const DefaultSubject = "extstore.events"

// Event announces that an extension record changed in the published index.
type Event struct {
	EventID     string    `json:"event_id"`
	Action      string    `json:"action"`
	ID          string    `json:"id"`
	Version     string    `json:"version"`
	DownloadURL string    `json:"download_url"`
	At          time.Time `json:"at"`
}

// Publisher is the transport the notifier writes to.
type Publisher interface {
	Publish(subject, msgID string, data []byte) error
}

// Notifier turns index changes into events on <subject>.<action>.
type Notifier struct {
	pub     Publisher
	subject string
	now     func() time.Time
}

func NewNotifier(pub Publisher, subject string) *Notifier {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Notifier{pub: pub, subject: subject, now: time.Now}
}

// Notify publishes one event for rec.
func (n *Notifier) Notify(action string, rec *extension.Record) (Event, error) {
	if n == nil || n.pub == nil {
		return Event{}, errNilBus
	}
	if rec == nil {
		return Event{}, fmt.Errorf("nil record")
	}
	evt := Event{
		EventID:     uuid.NewString(),
		Action:      action,
		ID:          rec.ID,
		Version:     rec.Version,
		DownloadURL: rec.DownloadURL,
		At:          n.now().UTC(),
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return Event{}, err
	}
	if err := n.pub.Publish(n.Subject(action), evt.EventID, data); err != nil {
		return Event{}, fmt.Errorf("publish %s event for %s: %w", action, rec.ID, err)
	}
	return evt, nil
}

// Subject returns the subject events for action are published on.
func (n *Notifier) Subject(action string) string {
	return n.subject + "." + action
}
