// Package gmailtest provides an in-memory mailbox fake for tests.
package gmailtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/joshsymonds/autosort/internal/gmail"
)

// Message is one message held by the fake mailbox.
type Message struct {
	ID      gmail.MessageID
	From    string
	Labels  []gmail.LabelID
	Trashed bool
}

// HistoryStep is one scripted response from History. Steps are consumed
// in call order; after the script runs out History returns an empty
// page at the profile's position.
type HistoryStep struct {
	Page gmail.HistoryPage
	Err  error
}

// Fake implements gmail.Client against in-memory state. Mutations are
// applied to Messages so follow-up reads observe them, and every
// destructive call is recorded for assertions.
type Fake struct {
	mu sync.Mutex

	ProfileResult gmail.Profile
	ProfileErr    error

	Messages map[gmail.MessageID]*Message
	Labels   []gmail.Label

	HistoryScript []HistoryStep
	historyIdx    int

	// SearchResults maps a raw query to the ids it returns, split into
	// pages of the requested size.
	SearchResults map[string][]gmail.MessageID
	SearchQueries []string

	WatchResult gmail.Watch
	WatchErr    error

	ModifyErr error

	BatchModifies []BatchModifyCall
	BatchDeletes  [][]gmail.MessageID
	TrashedIDs    []gmail.MessageID
	DeletedLabels []gmail.LabelID
	CreatedLabels []string
	WatchTopics   []string
	Stopped       int

	nextLabel int
}

// BatchModifyCall records one BatchModify invocation.
type BatchModifyCall struct {
	IDs []gmail.MessageID
	Ops gmail.ModifyOps
}

// New returns an empty fake mailbox.
func New() *Fake {
	return &Fake{
		Messages:      map[gmail.MessageID]*Message{},
		SearchResults: map[string][]gmail.MessageID{},
	}
}

// Add puts a message into the mailbox.
func (f *Fake) Add(m Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := m
	f.Messages[m.ID] = &cp
}

func (f *Fake) Profile(ctx context.Context) (gmail.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ProfileErr != nil {
		return gmail.Profile{}, f.ProfileErr
	}
	return f.ProfileResult, nil
}

func (f *Fake) History(ctx context.Context, start gmail.HistoryID, pageToken string) (gmail.HistoryPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyIdx >= len(f.HistoryScript) {
		return gmail.HistoryPage{HistoryID: f.ProfileResult.HistoryID}, nil
	}
	step := f.HistoryScript[f.historyIdx]
	f.historyIdx++
	if step.Err != nil {
		return gmail.HistoryPage{}, step.Err
	}
	return step.Page, nil
}

func (f *Fake) GetMetadata(ctx context.Context, id gmail.MessageID, headers []string) (gmail.MessageMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.Messages[id]
	if !ok || m.Trashed {
		return gmail.MessageMeta{}, fmt.Errorf("%w: message %s", gmail.ErrNotFound, id)
	}
	meta := gmail.MessageMeta{
		ID:      id,
		Labels:  append([]gmail.LabelID(nil), m.Labels...),
		Headers: map[string]string{},
	}
	if m.From != "" {
		meta.Headers["From"] = m.From
	}
	return meta, nil
}

func (f *Fake) Modify(ctx context.Context, id gmail.MessageID, ops gmail.ModifyOps) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ModifyErr != nil {
		return f.ModifyErr
	}
	m, ok := f.Messages[id]
	if !ok {
		return fmt.Errorf("%w: message %s", gmail.ErrNotFound, id)
	}
	f.applyLocked(m, ops)
	return nil
}

func (f *Fake) BatchModify(ctx context.Context, ids []gmail.MessageID, ops gmail.ModifyOps) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(ids) > gmail.MaxBatchSize {
		return fmt.Errorf("batch of %d exceeds limit", len(ids))
	}
	f.BatchModifies = append(f.BatchModifies, BatchModifyCall{
		IDs: append([]gmail.MessageID(nil), ids...),
		Ops: ops,
	})
	for _, id := range ids {
		if m, ok := f.Messages[id]; ok {
			f.applyLocked(m, ops)
		}
	}
	return nil
}

func (f *Fake) applyLocked(m *Message, ops gmail.ModifyOps) {
	for _, rm := range ops.Remove {
		for i, l := range m.Labels {
			if l == rm {
				m.Labels = append(m.Labels[:i], m.Labels[i+1:]...)
				break
			}
		}
	}
	for _, add := range ops.Add {
		present := false
		for _, l := range m.Labels {
			if l == add {
				present = true
				break
			}
		}
		if !present {
			m.Labels = append(m.Labels, add)
		}
	}
}

func (f *Fake) Trash(ctx context.Context, id gmail.MessageID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.Messages[id]
	if !ok {
		return fmt.Errorf("%w: message %s", gmail.ErrNotFound, id)
	}
	m.Trashed = true
	f.TrashedIDs = append(f.TrashedIDs, id)
	return nil
}

func (f *Fake) BatchDelete(ctx context.Context, ids []gmail.MessageID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(ids) > gmail.MaxBatchSize {
		return fmt.Errorf("batch of %d exceeds limit", len(ids))
	}
	f.BatchDeletes = append(f.BatchDeletes, append([]gmail.MessageID(nil), ids...))
	for _, id := range ids {
		delete(f.Messages, id)
	}
	return nil
}

func (f *Fake) Search(ctx context.Context, q gmail.Query, pageToken string, pageSize int) (gmail.ListPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SearchQueries = append(f.SearchQueries, q.Raw)
	ids := f.SearchResults[q.Raw]
	offset := 0
	if pageToken != "" {
		fmt.Sscanf(pageToken, "%d", &offset)
	}
	if offset >= len(ids) {
		return gmail.ListPage{}, nil
	}
	end := len(ids)
	next := ""
	if pageSize > 0 && offset+pageSize < end {
		end = offset + pageSize
		next = fmt.Sprintf("%d", end)
	}
	return gmail.ListPage{
		IDs:           append([]gmail.MessageID(nil), ids[offset:end]...),
		NextPageToken: next,
	}, nil
}

func (f *Fake) ListLabels(ctx context.Context) ([]gmail.Label, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gmail.Label(nil), f.Labels...), nil
}

func (f *Fake) CreateLabel(ctx context.Context, name string) (gmail.Label, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextLabel++
	l := gmail.Label{
		ID:   gmail.LabelID(fmt.Sprintf("Label_%d", f.nextLabel)),
		Name: name,
		Kind: gmail.LabelKindUser,
	}
	f.Labels = append(f.Labels, l)
	f.CreatedLabels = append(f.CreatedLabels, name)
	return l, nil
}

func (f *Fake) DeleteLabel(ctx context.Context, id gmail.LabelID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, l := range f.Labels {
		if l.ID == id {
			f.Labels = append(f.Labels[:i], f.Labels[i+1:]...)
			f.DeletedLabels = append(f.DeletedLabels, id)
			return nil
		}
	}
	return fmt.Errorf("%w: label %s", gmail.ErrNotFound, id)
}

func (f *Fake) Watch(ctx context.Context, topic string) (gmail.Watch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.WatchTopics = append(f.WatchTopics, topic)
	if f.WatchErr != nil {
		return gmail.Watch{}, f.WatchErr
	}
	return f.WatchResult, nil
}

func (f *Fake) StopWatch(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Stopped++
	return nil
}

// Message returns a copy of the stored message for assertions.
func (f *Fake) Message(id gmail.MessageID) (Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.Messages[id]
	if !ok {
		return Message{}, false
	}
	return *m, true
}

// Connector hands out pre-built clients by tenant.
type Connector struct {
	Clients map[string]gmail.Client
	Errs    map[string]error
}

// Open returns the scripted client or error for the tenant.
func (c *Connector) Open(ctx context.Context, tenant string) (gmail.Client, error) {
	if err := c.Errs[tenant]; err != nil {
		return nil, err
	}
	client, ok := c.Clients[tenant]
	if !ok {
		return nil, fmt.Errorf("%w: unknown tenant %s", gmail.ErrAuthExpired, tenant)
	}
	return client, nil
}

var (
	_ gmail.Client    = (*Fake)(nil)
	_ gmail.Connector = (*Connector)(nil)
)
