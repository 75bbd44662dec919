package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventra/notify/internal/domain"
)

func TestUnread(t *testing.T) {
	n := &domain.Notification{ID: "n1"}
	assert.True(t, n.Unread())

	now := time.Now()
	n.OpenedAt = &now
	assert.False(t, n.Unread())
}

func TestDecodePayloadKnownTags(t *testing.T) {
	n := &domain.Notification{
		Type: domain.TypeTaskAssigned,
		Data: domain.Map{
			"task_id":       "t1",
			"task_name":     "Set up stage",
			"assigner_name": "Dana",
			"event_name":    "Spring Gala",
			"link":          "/events/e1/tasks/t1",
		},
	}

	p, ok := n.DecodePayload()
	require.True(t, ok)
	payload, ok := p.(*domain.TaskAssignedPayload)
	require.True(t, ok)
	assert.Equal(t, "Set up stage", payload.TaskName)
	assert.Equal(t, "Dana", payload.Assigner)
	assert.Equal(t, "Spring Gala", payload.EventName)
}

func TestDecodePayloadUnknownTagPreservesRaw(t *testing.T) {
	n := &domain.Notification{
		Type: "brand-new-kind",
		Data: domain.Map{"anything": "goes"},
	}

	_, ok := n.DecodePayload()
	assert.False(t, ok, "unknown tags fall back to the raw map")
	assert.Equal(t, "goes", n.Data["anything"])
}

func TestDeepLink(t *testing.T) {
	n := &domain.Notification{Data: domain.Map{"link": "/events/e1"}}
	assert.Equal(t, "/events/e1", n.DeepLink())

	assert.Empty(t, (&domain.Notification{}).DeepLink())
	assert.Empty(t, (&domain.Notification{Data: domain.Map{"link": 42}}).DeepLink())
}
