package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockSNS struct {
	mock.Mock
}

func (m *MockSNS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	args := m.Called(ctx, params)
	return &sns.PublishOutput{}, args.Error(0)
}

func TestSNSPublisher(t *testing.T) {
	client := new(MockSNS)
	client.On("Publish", mock.Anything, mock.MatchedBy(func(in *sns.PublishInput) bool {
		return *in.TopicArn == "arn:aws:sns:eu-west-1:1:deferred" &&
			*in.MessageAttributes["event_type"].StringValue == string(TokenSold) &&
			strings.Contains(*in.Message, `"contract_id":7`)
	})).Return(nil)

	p := NewSNSPublisher(client, "arn:aws:sns:eu-west-1:1:deferred", zap.NewNop())
	p.Publish(context.Background(), Event{Type: TokenSold, ContractID: 7})

	client.AssertExpectations(t)
}

type recorder struct {
	events []Event
}

func (r *recorder) Publish(ctx context.Context, event Event) {
	r.events = append(r.events, event)
}

func TestFanout(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Fanout(a, b).Publish(context.Background(), Event{Type: ContractClosed, ContractID: 1})

	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}

func TestHubDeliversFollowedContracts(t *testing.T) {
	hub := NewHub(zap.NewNop())
	defer hub.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.HandleConnection(w, r, "alice")
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(SubscribeMessage{Type: "subscribe", ContractIDs: []uint64{2}}))
	require.Eventually(t, func() bool { return hub.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)
	// let the subscription land before publishing
	time.Sleep(50 * time.Millisecond)

	hub.Publish(context.Background(), Event{Type: TokenSold, ContractID: 1})
	hub.Publish(context.Background(), Event{Type: ContractClosed, ContractID: 2})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got Event
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, ContractClosed, got.Type)
	assert.Equal(t, uint64(2), got.ContractID)
}
