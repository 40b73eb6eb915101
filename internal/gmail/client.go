package gmail

import "context"

// Client is the narrow mailbox surface required by autosort. One
// Client is bound to one tenant's credentials.
type Client interface {
	// Profile returns the mailbox address and its current newest
	// change-log position.
	Profile(ctx context.Context) (Profile, error)

	// History returns one page of change records at or after start.
	History(ctx context.Context, start HistoryID, pageToken string) (HistoryPage, error)

	// GetMetadata fetches a message's current labels and the named headers.
	GetMetadata(ctx context.Context, id MessageID, headers []string) (MessageMeta, error)

	// Modify applies a label mutation to a single message.
	Modify(ctx context.Context, id MessageID, ops ModifyOps) error

	// BatchModify applies a label mutation to many messages at once.
	// Callers chunk ids to MaxBatchSize; implementations reject larger
	// sets.
	BatchModify(ctx context.Context, ids []MessageID, ops ModifyOps) error

	// Trash moves a message to the trash.
	Trash(ctx context.Context, id MessageID) error

	// BatchDelete permanently deletes messages, bypassing the trash.
	BatchDelete(ctx context.Context, ids []MessageID) error

	// Search returns one page of message ids matching a raw query.
	Search(ctx context.Context, q Query, pageToken string, pageSize int) (ListPage, error)

	// ListLabels returns every label in the mailbox.
	ListLabels(ctx context.Context) ([]Label, error)

	// CreateLabel creates a user label with the given name.
	CreateLabel(ctx context.Context, name string) (Label, error)

	// DeleteLabel removes a label from the mailbox.
	DeleteLabel(ctx context.Context, id LabelID) error

	// Watch subscribes the mailbox to the push channel and returns the
	// baseline position plus the subscription expiration.
	Watch(ctx context.Context, topic string) (Watch, error)

	// StopWatch tears down the push subscription.
	StopWatch(ctx context.Context) error
}

// Connector opens a Client for one tenant, resolving stored
// credentials. Open returns ErrAuthExpired when the tenant has no
// usable credential.
type Connector interface {
	Open(ctx context.Context, tenant string) (Client, error)
}

// MaxBatchSize is the largest id set the provider accepts for
// BatchModify and BatchDelete.
const MaxBatchSize = 1000
