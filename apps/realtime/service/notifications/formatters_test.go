package notifications_test

import (
	"testing"

	"github.com/pitabwire/frame/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hausops/service-realtime/apps/realtime/service/notifications"
)

func TestHouse_AllFields(t *testing.T) {
	notification := notifications.House(notifications.HouseEvent{
		HouseID:        1,
		Action:         notifications.ActionUpdate,
		Name:           "Los Pinares 12",
		Status:         "occupied",
		Changes:        data.JSONMap{"status": "occupied"},
		ActorName:      "ana",
		SourceClientID: "u42",
	})

	assert.Equal(t, notifications.TopicHouses, notification.Topic)
	assert.Equal(t, "u42", notification.SourceClientID)

	assert.Equal(t, "update", notification.Data["action"])
	assert.Equal(t, "house", notification.Data["entity"])
	assert.Equal(t, int64(1), notification.Data["id"])
	assert.Equal(t, "Los Pinares 12", notification.Data["name"])
	assert.Equal(t, "occupied", notification.Data["status"])
	assert.Equal(t, data.JSONMap{"status": "occupied"}, notification.Data["changes"])
	assert.Equal(t, "ana", notification.Data["updated_by"])
}

func TestHouse_OmitsOptionalFields(t *testing.T) {
	notification := notifications.House(notifications.HouseEvent{
		HouseID: 1,
		Action:  notifications.ActionDelete,
	})

	assert.Equal(t, "delete", notification.Data["action"])
	assert.Equal(t, int64(1), notification.Data["id"])
	assert.NotContains(t, notification.Data, "name")
	assert.NotContains(t, notification.Data, "status")
	assert.NotContains(t, notification.Data, "changes")
	assert.NotContains(t, notification.Data, "updated_by")
	assert.Empty(t, notification.SourceClientID)
}

func TestTask_AllFields(t *testing.T) {
	notification := notifications.Task(notifications.TaskEvent{
		TaskID:         7,
		Action:         notifications.ActionAssign,
		HouseID:        3,
		Title:          "Clean the pool",
		AssignedTo:     []string{"ana", "luis"},
		ActorName:      "marta",
		SourceClientID: "u42",
	})

	assert.Equal(t, notifications.TopicTasks, notification.Topic)
	assert.Equal(t, "assign", notification.Data["action"])
	assert.Equal(t, "task", notification.Data["entity"])
	assert.Equal(t, int64(7), notification.Data["task_id"])
	assert.Equal(t, int64(3), notification.Data["house_id"])
	assert.Equal(t, "Clean the pool", notification.Data["title"])
	assert.Equal(t, []string{"ana", "luis"}, notification.Data["assigned_to"])
	assert.Equal(t, "marta", notification.Data["updated_by"])
	assert.NotContains(t, notification.Data, "completed_by")
}

func TestTask_Complete(t *testing.T) {
	notification := notifications.Task(notifications.TaskEvent{
		TaskID:      7,
		Action:      notifications.ActionComplete,
		CompletedBy: "luis",
	})

	assert.Equal(t, "complete", notification.Data["action"])
	assert.Equal(t, "luis", notification.Data["completed_by"])
	assert.NotContains(t, notification.Data, "house_id")
	assert.NotContains(t, notification.Data, "title")
	assert.NotContains(t, notification.Data, "assigned_to")
}

func TestNote_AllFields(t *testing.T) {
	notification := notifications.Note(notifications.NoteEvent{
		NoteID:         11,
		Action:         notifications.ActionCreate,
		HouseID:        3,
		Category:       "maintenance",
		Author:         "ana",
		SourceClientID: "u42",
	})

	assert.Equal(t, notifications.TopicNotes, notification.Topic)
	assert.Equal(t, "create", notification.Data["action"])
	assert.Equal(t, "note", notification.Data["entity"])
	assert.Equal(t, int64(11), notification.Data["note_id"])
	assert.Equal(t, int64(3), notification.Data["house_id"])
	assert.Equal(t, "maintenance", notification.Data["category"])
	assert.Equal(t, "ana", notification.Data["author"])
}

func TestNote_OmitsOptionalFields(t *testing.T) {
	notification := notifications.Note(notifications.NoteEvent{
		NoteID: 11,
		Action: notifications.ActionDelete,
	})

	assert.NotContains(t, notification.Data, "house_id")
	assert.NotContains(t, notification.Data, "category")
	assert.NotContains(t, notification.Data, "author")
}

func TestInventory_AllFields(t *testing.T) {
	qty := 5
	notification := notifications.Inventory(notifications.InventoryEvent{
		ItemID:   21,
		Action:   notifications.ActionRestock,
		HouseID:  3,
		Name:     "Pool chlorine",
		Quantity: &qty,
	})

	assert.Equal(t, notifications.TopicInventory, notification.Topic)
	assert.Equal(t, "restock", notification.Data["action"])
	assert.Equal(t, "inventory_item", notification.Data["entity"])
	assert.Equal(t, int64(21), notification.Data["item_id"])
	assert.Equal(t, int64(3), notification.Data["house_id"])
	assert.Equal(t, "Pool chlorine", notification.Data["name"])
	assert.Equal(t, 5, notification.Data["quantity"])
}

func TestInventory_ZeroQuantityIncluded(t *testing.T) {
	qty := 0
	notification := notifications.Inventory(notifications.InventoryEvent{
		ItemID:   21,
		Action:   notifications.ActionUpdate,
		Quantity: &qty,
	})

	require.Contains(t, notification.Data, "quantity")
	assert.Equal(t, 0, notification.Data["quantity"])
}

func TestInventory_NilQuantityOmitted(t *testing.T) {
	notification := notifications.Inventory(notifications.InventoryEvent{
		ItemID: 21,
		Action: notifications.ActionDelete,
	})

	assert.NotContains(t, notification.Data, "quantity")
}

func TestGeneric_CopiesPayload(t *testing.T) {
	payload := data.JSONMap{"custom": "value"}

	notification := notifications.Generic("announcements", payload, "u42")

	assert.Equal(t, "announcements", notification.Topic)
	assert.Equal(t, "u42", notification.SourceClientID)
	assert.Equal(t, "value", notification.Data["custom"])

	// Mutating the caller's map afterwards must not leak into the envelope
	payload["custom"] = "changed"
	assert.Equal(t, "value", notification.Data["custom"])
}

func TestGeneric_EmptyPayload(t *testing.T) {
	notification := notifications.Generic("announcements", nil, "")

	assert.NotNil(t, notification.Data)
	assert.Empty(t, notification.Data)
}
