package queues_test

import (
	"context"
	"testing"

	"github.com/pitabwire/frame/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/hausops/service-realtime/apps/realtime/config"
	"github.com/hausops/service-realtime/apps/realtime/service/business"
	"github.com/hausops/service-realtime/apps/realtime/service/queues"
)

type RealtimeDeliveryTestSuite struct {
	suite.Suite
	cfg *config.RealtimeConfig
}

func TestRealtimeDeliveryTestSuite(t *testing.T) {
	suite.Run(t, new(RealtimeDeliveryTestSuite))
}

func (s *RealtimeDeliveryTestSuite) SetupTest() {
	s.cfg = &config.RealtimeConfig{
		QueueRealtimeEventDeliveryName: "realtime.event.delivery",
	}
}

func (s *RealtimeDeliveryTestSuite) TestHandle_ValidEvent_Publishes() {
	mockCM := &mockConnectionManager{delivered: 2}
	handler := queues.NewRealtimeEventsQueueHandler(s.cfg, mockCM)

	payload := []byte(`{"topic":"houses","data":{"action":"create","id":1},"sourceClientId":"u42"}`)

	err := handler.Handle(context.Background(), nil, payload)
	require.NoError(s.T(), err)

	require.Len(s.T(), mockCM.published, 1)
	published := mockCM.published[0]
	assert.Equal(s.T(), "houses", published.Topic)
	assert.Equal(s.T(), "u42", published.SourceClientID)
	assert.Equal(s.T(), data.JSONMap{"action": "create", "id": float64(1)}, published.Data)
}

func (s *RealtimeDeliveryTestSuite) TestHandle_MalformedPayload_Dropped() {
	mockCM := &mockConnectionManager{}
	handler := queues.NewRealtimeEventsQueueHandler(s.cfg, mockCM)

	// Malformed JSON must be consumed, never retried
	err := handler.Handle(context.Background(), nil, []byte("not json at all"))
	assert.NoError(s.T(), err)
	assert.Empty(s.T(), mockCM.published)
}

func (s *RealtimeDeliveryTestSuite) TestHandle_MissingTopic_Dropped() {
	mockCM := &mockConnectionManager{}
	handler := queues.NewRealtimeEventsQueueHandler(s.cfg, mockCM)

	err := handler.Handle(context.Background(), nil, []byte(`{"data":{"id":1}}`))
	assert.NoError(s.T(), err)
	assert.Empty(s.T(), mockCM.published)
}

func (s *RealtimeDeliveryTestSuite) TestHandle_MissingData_Dropped() {
	mockCM := &mockConnectionManager{}
	handler := queues.NewRealtimeEventsQueueHandler(s.cfg, mockCM)

	err := handler.Handle(context.Background(), nil, []byte(`{"topic":"houses"}`))
	assert.NoError(s.T(), err)
	assert.Empty(s.T(), mockCM.published)
}

func (s *RealtimeDeliveryTestSuite) TestHandle_NoSubscribers_StillConsumed() {
	mockCM := &mockConnectionManager{delivered: 0}
	handler := queues.NewRealtimeEventsQueueHandler(s.cfg, mockCM)

	err := handler.Handle(context.Background(), nil, []byte(`{"topic":"tasks","data":{"task_id":7}}`))
	assert.NoError(s.T(), err)
	assert.Len(s.T(), mockCM.published, 1)
}

// Mock implementations

type mockConnectionManager struct {
	published []business.Notification
	delivered int
}

func (m *mockConnectionManager) HandleConnection(
	_ context.Context,
	_ *business.Metadata,
	_ business.Transport,
) error {
	return nil
}

func (m *mockConnectionManager) Publish(_ context.Context, n business.Notification) int {
	m.published = append(m.published, n)
	return m.delivered
}

func (m *mockConnectionManager) ActiveConnections() int32 {
	return 0
}

func (m *mockConnectionManager) DrainConnections(_ context.Context) {}

func (m *mockConnectionManager) Shutdown(_ context.Context) error {
	return nil
}
