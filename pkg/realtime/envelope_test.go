package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeEnvelopeCarriesTimestamp(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	payload, err := encodeEnvelope(EventChatMessage, ChatTextData{Text: "hi"}, at)
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.Unmarshal(payload, &env))
	assert.Equal(t, EventChatMessage, env.Type)
	assert.True(t, env.Timestamp.Equal(at))

	var data ChatTextData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "hi", data.Text)
}

func TestKindOfPassthrough(t *testing.T) {
	assert.Equal(t, KindChatStream, KindOf("chat_stream"))
	assert.Equal(t, KindPong, KindOf("pong"))
	assert.Equal(t, KindUnknown, KindOf("someday_maybe"))
}

func TestMessageDecodeErrors(t *testing.T) {
	msg := Message{Type: EventTaskUpdate}
	var data TaskUpdateData
	assert.Error(t, msg.Decode(&data), "empty payload")

	msg.Data = []byte(`{"taskId":"t1","status":"running"}`)
	require.NoError(t, msg.Decode(&data))
	assert.Equal(t, "t1", data.TaskID)
	assert.Equal(t, "running", data.Status)
}
