package channels

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/fiffu/uptimesync/config"
	"github.com/fiffu/uptimesync/lib/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func testBase() base {
	cfg := &config.Config{}
	cfg.Regions.PushTimeoutSecs = 5
	return base{zap.NewNop(), cfg, http.DefaultTransport}
}

func sampleConfig() *models.CheckConfig {
	body := `{"ping":true}`
	return &models.CheckConfig{
		SubscriptionID:     "0f1e2d3c4b5a69788796a5b4c3d2e1f0",
		URL:                "https://example.com",
		IntervalSeconds:    60,
		TimeoutMs:          1000,
		RequestMethod:      "POST",
		RequestHeaders:     []models.Header{{"Content-Type", "application/json"}},
		RequestBody:        &body,
		ActiveRegions:      []string{"us-east"},
		RegionScheduleMode: models.RoundRobin,
	}
}

type recordedRequest struct {
	Method string
	Path   string
	Region string
	Body   string
}

func recordingServer(t *testing.T, status int) (*httptest.Server, func() []recordedRequest) {
	var mu sync.Mutex
	var reqs []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, recordedRequest{r.Method, r.URL.Path, r.Header.Get(regionHeader), string(b)})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), reqs...)
	}
}

func TestHTTPChannel(t *testing.T) {
	ctx := context.Background()
	srv, requests := recordingServer(t, http.StatusAccepted)
	c := newHTTP(testBase(), map[string]string{"us-east": srv.URL}, 5*time.Second)

	require.NoError(t, c.PushConfig(ctx, "us-east", sampleConfig()))
	require.NoError(t, c.PushRemoval(ctx, "us-east", "0f1e2d3c4b5a69788796a5b4c3d2e1f0"))

	reqs := requests()
	require.Len(t, reqs, 2)

	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, "/v1/checks", reqs[0].Path)
	assert.Equal(t, "us-east", reqs[0].Region)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(reqs[0].Body), &payload))
	assert.Equal(t, "round_robin", payload["region_schedule_mode"])
	assert.Equal(t, `{"ping":true}`, payload["request_body"])
	assert.Equal(t, []any{[]any{"Content-Type", "application/json"}}, payload["request_headers"])

	assert.Equal(t, http.MethodDelete, reqs[1].Method)
	assert.Equal(t, "/v1/checks/0f1e2d3c4b5a69788796a5b4c3d2e1f0", reqs[1].Path)

	err := c.PushConfig(ctx, "eu-west", sampleConfig())
	assert.ErrorContains(t, err, "unknown region")
}

func TestHTTPChannelErrors(t *testing.T) {
	ctx := context.Background()

	failing, _ := recordingServer(t, http.StatusServiceUnavailable)
	c := newHTTP(testBase(), map[string]string{"us-east": failing.URL}, 5*time.Second)
	assert.Error(t, c.PushConfig(ctx, "us-east", sampleConfig()))
	assert.Error(t, c.PushRemoval(ctx, "us-east", "abc"))

	gone, _ := recordingServer(t, http.StatusNotFound)
	c = newHTTP(testBase(), map[string]string{"us-east": gone.URL}, 5*time.Second)
	assert.NoError(t, c.PushRemoval(ctx, "us-east", "abc"))
}

func TestPubSubChannel(t *testing.T) {
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { srv.Close() })

	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	client, err := pubsub.NewClient(ctx, "uptime-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	c, err := newPubSub(ctx, testBase(), client, "configs", "removals")
	require.NoError(t, err)

	require.NoError(t, c.PushConfig(ctx, "us-east", sampleConfig()))
	require.NoError(t, c.PushRemoval(ctx, "eu-west", "0f1e2d3c4b5a69788796a5b4c3d2e1f0"))

	msgs := srv.Messages()
	require.Len(t, msgs, 2)

	byRegion := map[string]*pstest.Message{}
	for _, m := range msgs {
		byRegion[m.Attributes[regionAttribute]] = m
	}

	assert.Equal(t, "0f1e2d3c4b5a69788796a5b4c3d2e1f0", byRegion["us-east"].OrderingKey)
	assert.Equal(t, "0f1e2d3c4b5a69788796a5b4c3d2e1f0", byRegion["eu-west"].OrderingKey)

	var cfg models.CheckConfig
	require.NoError(t, json.Unmarshal(byRegion["us-east"].Data, &cfg))
	assert.Equal(t, *sampleConfig(), cfg)

	var removal models.ConfigRemoval
	require.NoError(t, json.Unmarshal(byRegion["eu-west"].Data, &removal))
	assert.Equal(t, "0f1e2d3c4b5a69788796a5b4c3d2e1f0", removal.SubscriptionID)

	// Topics are reused when they already exist, still ordered.
	again, err := newPubSub(ctx, testBase(), client, "configs", "removals")
	require.NoError(t, err)
	assert.True(t, again.configs.EnableMessageOrdering)
	assert.True(t, again.removals.EnableMessageOrdering)
}

func TestNewChannel(t *testing.T) {
	cfg := &config.Config{}
	cfg.Regions.Channel = "carrier-pigeon"
	_, err := NewChannel(nil, zap.NewNop(), cfg, http.DefaultTransport, NewRegistry())
	assert.ErrorContains(t, err, "unsupported region channel")

	cfg.Regions.Channel = "log"
	c, err := NewChannel(nil, zap.NewNop(), cfg, http.DefaultTransport, NewRegistry())
	require.NoError(t, err)
	assert.NoError(t, c.PushConfig(context.Background(), "us-east", sampleConfig()))
}
