// Package realtime carries table change events over Redis pub/sub so
// notification counts stay fresh without polling.
package realtime

import (
	"encoding/json"
	"fmt"
)

// Tables with a change channel. One pub/sub channel per table.
const (
	TableMessages    = "messages"
	TableRFIs        = "rfis"
	TableDocuments   = "documents"
	TableTenders     = "tenders"
	TableMemberships = "project_memberships"
)

const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

// Row is the subset of columns a change event carries. Only the fields the
// listeners filter on are included; consumers needing the full row query
// the store.
type Row struct {
	ID         string `json:"id,omitempty"`
	ProjectID  string `json:"project_id,omitempty"`
	SenderID   string `json:"sender_id,omitempty"`
	UploadedBy string `json:"uploaded_by,omitempty"`
	AssignedTo string `json:"assigned_to,omitempty"`
	UserID     string `json:"user_id,omitempty"`
	Status     string `json:"status,omitempty"`
}

// ChangeEvent mirrors the {table, event, new-row, old-row} shape of a
// database change feed.
type ChangeEvent struct {
	Table string `json:"table"`
	Event string `json:"event"`
	New   *Row   `json:"new,omitempty"`
	Old   *Row   `json:"old,omitempty"`
}

// ChannelFor returns the pub/sub channel name for a table.
func ChannelFor(table string) string {
	return "changes:" + table
}

// Channels lists every change channel, in a stable order.
func Channels() []string {
	return []string{
		ChannelFor(TableMessages),
		ChannelFor(TableRFIs),
		ChannelFor(TableDocuments),
		ChannelFor(TableTenders),
		ChannelFor(TableMemberships),
	}
}

func (e ChangeEvent) encode() ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode change event: %w", err)
	}
	return payload, nil
}

func decodeEvent(payload string) (ChangeEvent, error) {
	var event ChangeEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return ChangeEvent{}, fmt.Errorf("decode change event: %w", err)
	}
	if event.Table == "" || event.Event == "" {
		return ChangeEvent{}, fmt.Errorf("decode change event: missing table or event")
	}
	return event, nil
}

// author returns whoever created the row, for the cheap "not me" filter.
// Empty for tables without an author column worth filtering on.
func (e ChangeEvent) author() string {
	if e.New == nil {
		return ""
	}
	switch e.Table {
	case TableMessages:
		return e.New.SenderID
	case TableDocuments:
		return e.New.UploadedBy
	default:
		return ""
	}
}
