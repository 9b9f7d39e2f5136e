// Package notifications builds the canonical envelopes pushed to subscribers
// after a domain mutation commits. One pure builder per entity; callers pass
// only the fields the consuming client needs, never raw database rows.
// Optional fields are omitted entirely when absent.
package notifications

import (
	"maps"

	"github.com/pitabwire/frame/data"

	"github.com/hausops/service-realtime/apps/realtime/service/business"
)

// Well-known topics. The generic passthrough accepts free-form topics too.
const (
	TopicHouses    = "houses"
	TopicTasks     = "tasks"
	TopicNotes     = "notes"
	TopicInventory = "inventory"
)

// Action names the domain mutation being announced.
type Action string

const (
	ActionCreate       Action = "create"
	ActionUpdate       Action = "update"
	ActionDelete       Action = "delete"
	ActionAssign       Action = "assign"
	ActionComplete     Action = "complete"
	ActionUpdateStatus Action = "update_status"
	ActionRestock      Action = "restock"
)

const (
	entityHouse     = "house"
	entityTask      = "task"
	entityNote      = "note"
	entityInventory = "inventory_item"
)

// HouseEvent carries the fields for a house notification. Name, Status,
// Changes and ActorName are optional.
type HouseEvent struct {
	HouseID        int64
	Action         Action
	Name           string
	Status         string
	Changes        data.JSONMap
	ActorName      string
	SourceClientID string
}

func House(evt HouseEvent) business.Notification {
	payload := data.JSONMap{
		"action": string(evt.Action),
		"entity": entityHouse,
		"id":     evt.HouseID,
	}
	if evt.Name != "" {
		payload["name"] = evt.Name
	}
	if evt.Status != "" {
		payload["status"] = evt.Status
	}
	if len(evt.Changes) > 0 {
		payload["changes"] = evt.Changes
	}
	if evt.ActorName != "" {
		payload["updated_by"] = evt.ActorName
	}

	return business.Notification{
		Topic:          TopicHouses,
		Data:           payload,
		SourceClientID: evt.SourceClientID,
	}
}

// TaskEvent carries the fields for a task notification. HouseID, Title,
// AssignedTo, CompletedBy and ActorName are optional.
type TaskEvent struct {
	TaskID         int64
	Action         Action
	HouseID        int64
	Title          string
	AssignedTo     []string
	CompletedBy    string
	ActorName      string
	SourceClientID string
}

func Task(evt TaskEvent) business.Notification {
	payload := data.JSONMap{
		"action":  string(evt.Action),
		"entity":  entityTask,
		"task_id": evt.TaskID,
	}
	if evt.HouseID != 0 {
		payload["house_id"] = evt.HouseID
	}
	if evt.Title != "" {
		payload["title"] = evt.Title
	}
	if len(evt.AssignedTo) > 0 {
		payload["assigned_to"] = evt.AssignedTo
	}
	if evt.CompletedBy != "" {
		payload["completed_by"] = evt.CompletedBy
	}
	if evt.ActorName != "" {
		payload["updated_by"] = evt.ActorName
	}

	return business.Notification{
		Topic:          TopicTasks,
		Data:           payload,
		SourceClientID: evt.SourceClientID,
	}
}

// NoteEvent carries the fields for a note notification. HouseID, Category
// and Author are optional.
type NoteEvent struct {
	NoteID         int64
	Action         Action
	HouseID        int64
	Category       string
	Author         string
	SourceClientID string
}

func Note(evt NoteEvent) business.Notification {
	payload := data.JSONMap{
		"action":  string(evt.Action),
		"entity":  entityNote,
		"note_id": evt.NoteID,
	}
	if evt.HouseID != 0 {
		payload["house_id"] = evt.HouseID
	}
	if evt.Category != "" {
		payload["category"] = evt.Category
	}
	if evt.Author != "" {
		payload["author"] = evt.Author
	}

	return business.Notification{
		Topic:          TopicNotes,
		Data:           payload,
		SourceClientID: evt.SourceClientID,
	}
}

// InventoryEvent carries the fields for an inventory item notification.
// HouseID and Name are optional; Quantity is included when non-nil so a zero
// stock level still comes through.
type InventoryEvent struct {
	ItemID         int64
	Action         Action
	HouseID        int64
	Name           string
	Quantity       *int
	SourceClientID string
}

func Inventory(evt InventoryEvent) business.Notification {
	payload := data.JSONMap{
		"action":  string(evt.Action),
		"entity":  entityInventory,
		"item_id": evt.ItemID,
	}
	if evt.HouseID != 0 {
		payload["house_id"] = evt.HouseID
	}
	if evt.Name != "" {
		payload["name"] = evt.Name
	}
	if evt.Quantity != nil {
		payload["quantity"] = *evt.Quantity
	}

	return business.Notification{
		Topic:          TopicInventory,
		Data:           payload,
		SourceClientID: evt.SourceClientID,
	}
}

// Generic is the passthrough for the REST notify endpoint and queue ingestion:
// the caller supplies topic and payload as-is. The payload map is copied so
// the envelope stays immutable once built.
func Generic(topic string, payload data.JSONMap, sourceClientID string) business.Notification {
	copied := make(data.JSONMap, len(payload))
	maps.Copy(copied, payload)

	return business.Notification{
		Topic:          topic,
		Data:           copied,
		SourceClientID: sourceClientID,
	}
}
