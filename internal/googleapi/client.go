// Package googleapi adapts *gmail.Service from google.golang.org/api
// to the narrow mailbox surface in internal/gmail.
package googleapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	gc "github.com/joshsymonds/autosort/internal/gmail"
)

const me = "me"

type client struct {
	svc *gapi.Service
}

// NewClient wraps an authenticated *gmail.Service.
func NewClient(svc *gapi.Service) gc.Client { return &client{svc: svc} }

// mapErr translates provider status codes into the package sentinels
// so callers can branch without knowing the transport.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %v", gc.ErrAuthExpired, err)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", gc.ErrNotFound, err)
		}
	}
	return err
}

func (c *client) Profile(ctx context.Context) (gc.Profile, error) {
	p, err := c.svc.Users.GetProfile(me).Context(ctx).Do()
	if err != nil {
		return gc.Profile{}, mapErr(err)
	}
	return gc.Profile{Email: p.EmailAddress, HistoryID: gc.HistoryID(p.HistoryId)}, nil
}

func (c *client) History(ctx context.Context, start gc.HistoryID, pageToken string) (gc.HistoryPage, error) {
	call := c.svc.Users.History.List(me).
		StartHistoryId(uint64(start)).
		HistoryTypes("messageAdded", "labelAdded")
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			// The provider garbage-collected the log before start.
			return gc.HistoryPage{}, fmt.Errorf("%w: start %s", gc.ErrHistoryExpired, start)
		}
		return gc.HistoryPage{}, mapErr(err)
	}
	page := gc.HistoryPage{
		NextPageToken: res.NextPageToken,
		HistoryID:     gc.HistoryID(res.HistoryId),
	}
	for _, h := range res.History {
		rec := gc.ChangeRecord{ID: gc.HistoryID(h.Id)}
		for _, ma := range h.MessagesAdded {
			if ma.Message == nil || ma.Message.Id == "" {
				continue
			}
			rec.MessagesAdded = append(rec.MessagesAdded, gc.MessageID(ma.Message.Id))
		}
		for _, la := range h.LabelsAdded {
			if la.Message == nil || la.Message.Id == "" || len(la.LabelIds) == 0 {
				continue
			}
			rec.LabelsAdded = append(rec.LabelsAdded, gc.LabelChange{
				Message: gc.MessageID(la.Message.Id),
				Labels:  toLabelIDs(la.LabelIds),
			})
		}
		if len(rec.MessagesAdded) > 0 || len(rec.LabelsAdded) > 0 {
			page.Records = append(page.Records, rec)
		}
	}
	return page, nil
}

func (c *client) GetMetadata(ctx context.Context, id gc.MessageID, headers []string) (gc.MessageMeta, error) {
	call := c.svc.Users.Messages.Get(me, string(id)).Format("metadata")
	if len(headers) > 0 {
		call = call.MetadataHeaders(headers...)
	}
	msg, err := call.Context(ctx).Do()
	if err != nil {
		return gc.MessageMeta{}, mapErr(err)
	}
	meta := gc.MessageMeta{
		ID:      id,
		Labels:  toLabelIDs(msg.LabelIds),
		Headers: map[string]string{},
	}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			meta.Headers[h.Name] = h.Value
		}
	}
	if msg.InternalDate > 0 {
		meta.Date = time.UnixMilli(msg.InternalDate).UTC()
	}
	return meta, nil
}

func (c *client) Modify(ctx context.Context, id gc.MessageID, ops gc.ModifyOps) error {
	if ops.Empty() {
		return nil
	}
	req := &gapi.ModifyMessageRequest{
		AddLabelIds:    toStrings(ops.Add),
		RemoveLabelIds: toStrings(ops.Remove),
	}
	_, err := c.svc.Users.Messages.Modify(me, string(id), req).Context(ctx).Do()
	return mapErr(err)
}

func (c *client) BatchModify(ctx context.Context, ids []gc.MessageID, ops gc.ModifyOps) error {
	if len(ids) == 0 || ops.Empty() {
		return nil
	}
	if len(ids) > gc.MaxBatchSize {
		return fmt.Errorf("batch modify of %d ids exceeds limit %d", len(ids), gc.MaxBatchSize)
	}
	req := &gapi.BatchModifyMessagesRequest{
		Ids:            messageIDStrings(ids),
		AddLabelIds:    toStrings(ops.Add),
		RemoveLabelIds: toStrings(ops.Remove),
	}
	return mapErr(c.svc.Users.Messages.BatchModify(me, req).Context(ctx).Do())
}

func (c *client) Trash(ctx context.Context, id gc.MessageID) error {
	_, err := c.svc.Users.Messages.Trash(me, string(id)).Context(ctx).Do()
	return mapErr(err)
}

func (c *client) BatchDelete(ctx context.Context, ids []gc.MessageID) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) > gc.MaxBatchSize {
		return fmt.Errorf("batch delete of %d ids exceeds limit %d", len(ids), gc.MaxBatchSize)
	}
	req := &gapi.BatchDeleteMessagesRequest{Ids: messageIDStrings(ids)}
	return mapErr(c.svc.Users.Messages.BatchDelete(me, req).Context(ctx).Do())
}

func (c *client) Search(ctx context.Context, q gc.Query, pageToken string, pageSize int) (gc.ListPage, error) {
	if pageSize <= 0 || pageSize > 500 {
		pageSize = 500
	}
	call := c.svc.Users.Messages.List(me).Q(q.Raw).MaxResults(int64(pageSize))
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Context(ctx).Do()
	if err != nil {
		return gc.ListPage{}, mapErr(err)
	}
	page := gc.ListPage{NextPageToken: res.NextPageToken}
	for _, m := range res.Messages {
		page.IDs = append(page.IDs, gc.MessageID(m.Id))
	}
	return page, nil
}

func (c *client) ListLabels(ctx context.Context) ([]gc.Label, error) {
	res, err := c.svc.Users.Labels.List(me).Context(ctx).Do()
	if err != nil {
		return nil, mapErr(err)
	}
	labels := make([]gc.Label, 0, len(res.Labels))
	for _, l := range res.Labels {
		kind := gc.LabelKindUser
		if l.Type == "system" {
			kind = gc.LabelKindSystem
		}
		labels = append(labels, gc.Label{ID: gc.LabelID(l.Id), Name: l.Name, Kind: kind})
	}
	return labels, nil
}

func (c *client) CreateLabel(ctx context.Context, name string) (gc.Label, error) {
	created, err := c.svc.Users.Labels.Create(me, &gapi.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		return gc.Label{}, fmt.Errorf("create label %q: %w", name, mapErr(err))
	}
	return gc.Label{ID: gc.LabelID(created.Id), Name: created.Name, Kind: gc.LabelKindUser}, nil
}

func (c *client) DeleteLabel(ctx context.Context, id gc.LabelID) error {
	return mapErr(c.svc.Users.Labels.Delete(me, string(id)).Context(ctx).Do())
}

func (c *client) Watch(ctx context.Context, topic string) (gc.Watch, error) {
	res, err := c.svc.Users.Watch(me, &gapi.WatchRequest{
		TopicName:           topic,
		LabelIds:            []string{string(gc.LabelInbox)},
		LabelFilterBehavior: "INCLUDE",
	}).Context(ctx).Do()
	if err != nil {
		return gc.Watch{}, mapErr(err)
	}
	return gc.Watch{
		HistoryID:  gc.HistoryID(res.HistoryId),
		Expiration: time.UnixMilli(res.Expiration).UTC(),
	}, nil
}

func (c *client) StopWatch(ctx context.Context) error {
	return mapErr(c.svc.Users.Stop(me).Context(ctx).Do())
}

func toLabelIDs(ids []string) []gc.LabelID {
	if len(ids) == 0 {
		return nil
	}
	out := make([]gc.LabelID, len(ids))
	for i, id := range ids {
		out[i] = gc.LabelID(id)
	}
	return out
}

func toStrings(ids []gc.LabelID) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func messageIDStrings(ids []gc.MessageID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

var _ gc.Client = (*client)(nil)
