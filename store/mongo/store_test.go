package mongo_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xraph/grove/drivers/mongodriver"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/store/mongo"
	"github.com/xraph/bursar/store/storetest"
)

// The suite runs against a real server named by BURSAR_TEST_MONGO_URI. Each
// test clears the collections it touches, so use a throwaway database.
// Change streams need a replica set; without one the store falls back to
// polling and the suite still passes.
func openStore(t *testing.T, opts ...mongo.Option) *mongo.Store {
	t.Helper()

	uri := os.Getenv("BURSAR_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("BURSAR_TEST_MONGO_URI not set")
	}

	ctx := context.Background()
	opts = append([]mongo.Option{mongo.WithPollInterval(50 * time.Millisecond)}, opts...)
	s, err := mongo.Open(ctx, uri, opts...)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))

	for _, name := range []string{"storetest", "bursar_sequences"} {
		_, err := mongodriver.Unwrap(s.DB()).Collection(name).DeleteMany(ctx, bson.M{})
		require.NoError(t, err)
	}
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return openStore(t) })
}

func TestConformancePolling(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return openStore(t, mongo.WithoutChangeStreams()) })
}
