package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/jaishree29/slaaang-omegle-feature-backend/messages"
	"github.com/jaishree29/slaaang-omegle-feature-backend/metrics"
	"github.com/jaishree29/slaaang-omegle-feature-backend/server"
)

func newTestListener(t *testing.T) (*Listener, *httptest.Server) {
	t.Helper()
	appMetrics, err := metrics.NewAppMetrics(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	engine := server.New(appMetrics, 0)
	l := NewListener(":0", engine, []string{"*"})

	ts := httptest.NewServer(l.Handler())
	t.Cleanup(ts.Close)
	return l, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/connect"
	conn, resp, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) *messages.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	env := &messages.Envelope{}
	require.NoError(t, json.Unmarshal(data, env))
	return env
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, env *messages.Envelope) {
	t.Helper()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func TestConnect_ReceivesWelcomeWithId(t *testing.T) {
	l, ts := newTestListener(t)

	conn := dial(t, ts)
	welcome := readEnvelope(t, conn)
	require.Equal(t, messages.KindWelcome, welcome.Kind)

	var body messages.WelcomeBody
	require.NoError(t, json.Unmarshal(welcome.Body, &body))
	assert.NotEmpty(t, body.PeerID)
	assert.Equal(t, 1, l.engine.PeerCount())
}

func TestTwoClients_MatchAndRelayOverSockets(t *testing.T) {
	_, ts := newTestListener(t)

	conn1 := dial(t, ts)
	welcome1 := readEnvelope(t, conn1)
	var id1 messages.WelcomeBody
	require.NoError(t, json.Unmarshal(welcome1.Body, &id1))

	conn2 := dial(t, ts)
	welcome2 := readEnvelope(t, conn2)
	var id2 messages.WelcomeBody
	require.NoError(t, json.Unmarshal(welcome2.Body, &id2))

	writeEnvelope(t, conn1, &messages.Envelope{Kind: messages.KindMatch})
	writeEnvelope(t, conn2, &messages.Envelope{Kind: messages.KindMatch})

	paired1 := readEnvelope(t, conn1)
	require.Equal(t, messages.KindPaired, paired1.Kind)
	var body1 messages.PairedBody
	require.NoError(t, json.Unmarshal(paired1.Body, &body1))
	assert.Equal(t, id2.PeerID, body1.PartnerID)
	assert.True(t, body1.IsInitiator)

	paired2 := readEnvelope(t, conn2)
	require.Equal(t, messages.KindPaired, paired2.Kind)
	var body2 messages.PairedBody
	require.NoError(t, json.Unmarshal(paired2.Body, &body2))
	assert.Equal(t, id1.PeerID, body2.PartnerID)
	assert.False(t, body2.IsInitiator)

	writeEnvelope(t, conn1, &messages.Envelope{
		Kind: messages.KindOffer,
		To:   id2.PeerID,
		Body: json.RawMessage(`{"sdp":"v=0"}`),
	})
	offer := readEnvelope(t, conn2)
	assert.Equal(t, messages.KindOffer, offer.Kind)
	assert.Equal(t, id1.PeerID, offer.From)
}

func TestSocketClose_TriggersLeave(t *testing.T) {
	l, ts := newTestListener(t)

	conn := dial(t, ts)
	readEnvelope(t, conn)
	require.Equal(t, 1, l.engine.PeerCount())

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))

	require.Eventually(t, func() bool {
		return l.engine.PeerCount() == 0
	}, 2*time.Second, 10*time.Millisecond, "a closed socket must leave the registry")
}

func TestUnparseableFrame_KeepsSessionAlive(t *testing.T) {
	l, ts := newTestListener(t)

	conn := dial(t, ts)
	readEnvelope(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("{not json")))

	// the next valid operation still works
	writeEnvelope(t, conn, &messages.Envelope{Kind: messages.KindMatch})
	require.Eventually(t, func() bool {
		return l.engine.WaitingCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, l.engine.PeerCount())
}
