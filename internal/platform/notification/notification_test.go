package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	done bool
	err  error
}

func (t *fakeToken) Wait() bool                     { return t.done }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if t.done {
		close(ch)
	}
	return ch
}

type publishCall struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient implements only the mqtt.Client methods the publisher uses.
type fakeClient struct {
	mqtt.Client
	token        *fakeToken
	published    []publishCall
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.published = append(c.published, publishCall{topic, qos, retained, payload.([]byte)})
	return c.token
}

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func TestMQTTPublisher_Publish(t *testing.T) {
	client := &fakeClient{token: &fakeToken{done: true}}
	p := NewMQTTPublisher(client, "hospadmin")

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	err := p.Publish(context.Background(), StreamFeedback, Event{Event: FeedbackCreated, ID: 42, At: at})
	require.NoError(t, err)

	require.Len(t, client.published, 1)
	call := client.published[0]
	assert.Equal(t, "hospadmin/feedback", call.topic)
	assert.Equal(t, byte(1), call.qos)
	assert.False(t, call.retained)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(call.payload, &got))
	assert.Equal(t, "feedback.created", got["event"])
	assert.Equal(t, float64(42), got["id"])
	assert.Equal(t, "2024-05-01T10:00:00Z", got["at"])
}

func TestMQTTPublisher_BrokerError(t *testing.T) {
	client := &fakeClient{token: &fakeToken{done: true, err: errors.New("not connected")}}
	p := NewMQTTPublisher(client, "hospadmin")

	err := p.Publish(context.Background(), StreamComplaints, NewEvent(ComplaintDeleted, 3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hospadmin/complaints")
}

func TestMQTTPublisher_Timeout(t *testing.T) {
	client := &fakeClient{token: &fakeToken{done: false}}
	p := NewMQTTPublisher(client, "")

	err := p.Publish(context.Background(), StreamComplaints, NewEvent(ComplaintCreated, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Equal(t, "complaints", client.published[0].topic)
}

func TestMQTTPublisher_Close(t *testing.T) {
	client := &fakeClient{token: &fakeToken{done: true}}
	NewMQTTPublisher(client, "x").Close()
	assert.True(t, client.disconnected)
}

func TestMockPublisher(t *testing.T) {
	m := &MockPublisher{}
	require.NoError(t, m.Publish(context.Background(), StreamFeedback, NewEvent(FeedbackUpdated, 9)))

	m.ShouldFail = true
	assert.Error(t, m.Publish(context.Background(), StreamFeedback, NewEvent(FeedbackDeleted, 9)))

	assert.Equal(t, []string{FeedbackUpdated, FeedbackDeleted}, m.Names())
	assert.Equal(t, StreamFeedback, m.Calls()[0].Stream)
}

func TestNoop(t *testing.T) {
	var p Publisher = Noop{}
	assert.NoError(t, p.Publish(context.Background(), StreamFeedback, NewEvent(FeedbackCreated, 1)))
}
