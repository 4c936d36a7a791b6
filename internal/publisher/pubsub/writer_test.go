package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/followcrawl/internal/crawler"
)

func newFakeServer(t *testing.T) (*pstest.Server, option.ClientOption) {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return srv, option.WithGRPCConn(conn)
}

func TestWriterPublishesRecords(t *testing.T) {
	ctx := context.Background()
	srv, connOpt := newFakeServer(t)

	client, err := pubsub.NewClient(ctx, "project-id", connOpt)
	require.NoError(t, err)
	defer client.Close()

	topic, err := client.CreateTopic(ctx, "accounts")
	require.NoError(t, err)

	w, err := New(topic, zap.NewNop())
	require.NoError(t, err)

	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	records := []crawler.DiscoveryRecord{
		{RunID: "run-1", Username: "alice", DiscoveredAt: at},
		{RunID: "run-1", Username: "bob", Depth: 1, Source: "alice", DiscoveredAt: at},
	}
	for _, rec := range records {
		require.NoError(t, w.WriteRecord(ctx, rec))
	}
	require.NoError(t, w.Close(ctx))

	msgs := srv.Messages()
	require.Len(t, msgs, 2)

	got := map[crawler.Username]crawler.DiscoveryRecord{}
	for _, m := range msgs {
		var rec crawler.DiscoveryRecord
		require.NoError(t, json.Unmarshal(m.Data, &rec))
		got[rec.Username] = rec
		assert.Equal(t, "run-1", m.Attributes["run_id"])
		assert.Equal(t, string(rec.Username), m.Attributes["username"])
	}
	assert.Equal(t, records[1], got["bob"])
	assert.Equal(t, "1", msgsAttr(msgs, "bob", "depth"))
}

func msgsAttr(msgs []*pstest.Message, username, key string) string {
	for _, m := range msgs {
		if m.Attributes["username"] == username {
			return m.Attributes[key]
		}
	}
	return ""
}

func TestWriterSurfacesPublishFailures(t *testing.T) {
	ctx := context.Background()
	_, connOpt := newFakeServer(t)

	client, err := pubsub.NewClient(ctx, "project-id", connOpt)
	require.NoError(t, err)
	defer client.Close()

	// The topic was never created, so every publish fails.
	w, err := New(client.Topic("missing"), nil)
	require.NoError(t, err)

	// Each failure is reported by the write that caused it.
	err = w.WriteRecord(ctx, crawler.DiscoveryRecord{RunID: "r", Username: "alice"})
	require.ErrorContains(t, err, "publish alice")
	err = w.WriteRecord(ctx, crawler.DiscoveryRecord{RunID: "r", Username: "bob"})
	require.ErrorContains(t, err, "publish bob")
	require.NoError(t, w.Close(ctx))
}

func TestConnectOwnsClient(t *testing.T) {
	ctx := context.Background()
	srv, connOpt := newFakeServer(t)

	admin, err := pubsub.NewClient(ctx, "project-id", connOpt)
	require.NoError(t, err)
	defer admin.Close()
	_, err = admin.CreateTopic(ctx, "events")
	require.NoError(t, err)

	w, err := Connect(ctx, "project-id", "events", nil, connOpt)
	require.NoError(t, err)
	require.NoError(t, w.WriteRecord(ctx, crawler.DiscoveryRecord{RunID: "r", Username: "carol"}))
	require.NoError(t, w.Close(ctx))
	assert.Len(t, srv.Messages(), 1)

	_, err = Connect(ctx, "", "events", nil, connOpt)
	require.Error(t, err)
}

func TestNewRequiresTopic(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil)
	require.Error(t, err)
}
