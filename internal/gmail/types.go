package gmail

import (
	"errors"
	"strconv"
	"time"
)

// MessageID identifies a single message in a tenant's mailbox.
type MessageID string

// LabelID identifies a label (folder) in a tenant's mailbox.
type LabelID string

// Well-known system labels.
const (
	LabelInbox  LabelID = "INBOX"
	LabelUnread LabelID = "UNREAD"
)

// HistoryID is a position in the mailbox change log. Positions are
// totally ordered; a larger value is strictly newer.
type HistoryID uint64

// ParseHistoryID parses the decimal string form used on the wire.
func ParseHistoryID(s string) (HistoryID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return HistoryID(v), nil
}

func (h HistoryID) String() string { return strconv.FormatUint(uint64(h), 10) }

// Label kinds as reported by the provider.
const (
	LabelKindUser   = "user"
	LabelKindSystem = "system"
)

// Label is one mailbox folder.
type Label struct {
	ID   LabelID
	Name string
	Kind string
}

// MessageMeta is the minimal metadata view of a message: its current
// labels plus the requested headers, keyed by canonical header name.
type MessageMeta struct {
	ID      MessageID
	Labels  []LabelID
	Headers map[string]string
	Date    time.Time
}

// HasLabel reports whether the message currently carries the label.
func (m MessageMeta) HasLabel(id LabelID) bool {
	for _, l := range m.Labels {
		if l == id {
			return true
		}
	}
	return false
}

// LabelChange records labels added to one message in a change record.
type LabelChange struct {
	Message MessageID
	Labels  []LabelID
}

// ChangeRecord is one entry in the mailbox change log. A record can
// carry any combination of added messages and label additions.
type ChangeRecord struct {
	ID            HistoryID
	MessagesAdded []MessageID
	LabelsAdded   []LabelChange
}

// HistoryPage is one page of the change log. HistoryID is the
// provider's current newest position at the time of the call.
type HistoryPage struct {
	Records       []ChangeRecord
	NextPageToken string
	HistoryID     HistoryID
}

// ListPage is one page of message ids from a search or label listing.
type ListPage struct {
	IDs           []MessageID
	NextPageToken string
}

// ModifyOps describes a label mutation applied to one or more messages.
type ModifyOps struct {
	Add    []LabelID
	Remove []LabelID
}

// Empty reports whether the mutation would be a no-op.
func (o ModifyOps) Empty() bool { return len(o.Add) == 0 && len(o.Remove) == 0 }

// Query is a raw provider search expression, already formed
// (e.g. `label:"@Blackhole" older_than:7d`).
type Query struct {
	Raw string
}

// Watch describes an active push subscription: the baseline change-log
// position at subscribe time and when the subscription lapses.
type Watch struct {
	HistoryID  HistoryID
	Expiration time.Time
}

// Profile is the provider's view of the mailbox itself.
type Profile struct {
	Email     string
	HistoryID HistoryID
}

// Sentinel errors surfaced by Client implementations.
var (
	// ErrHistoryExpired means the requested change-log start position is
	// no longer available and the caller must re-baseline.
	ErrHistoryExpired = errors.New("gmail: history position expired")

	// ErrAuthExpired means the tenant's credential was rejected and the
	// tenant needs re-authorization.
	ErrAuthExpired = errors.New("gmail: authorization expired")

	// ErrNotFound means the referenced message or label no longer
	// exists; under at-least-once delivery this is routine and callers
	// usually skip the event.
	ErrNotFound = errors.New("gmail: not found")
)
