package auditsink

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"smartduka/backend/internal/domain"
)

func TestNoopAcceptsEverything(t *testing.T) {
	ctx := context.Background()
	var sink Sink = Noop{}
	assert.NoError(t, sink.RecordAudit(ctx, domain.AuditLog{ID: "a"}))
	assert.NoError(t, sink.RecordDiscountAudit(ctx, domain.DiscountAudit{ID: "d"}))
	assert.NoError(t, sink.Close(ctx))
}

func TestMongoSinkUpsertsDiscountAudit(t *testing.T) {
	uri := os.Getenv("SMARTDUKA_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("set SMARTDUKA_TEST_MONGO_URI to run mongo audit sink test")
	}
	ctx := context.Background()
	dbName := fmt.Sprintf("smartduka_audit_it_%d", time.Now().UnixNano())
	sink, err := NewMongo(ctx, uri, dbName)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sink.client.Database(dbName).Drop(ctx)
		_ = sink.Close(ctx)
	})

	audit := domain.DiscountAudit{ID: "daudit_1", ShopID: "shop_demo", DiscountID: "disc_1", Status: domain.AuditStatusPending, CreatedAt: time.Now().UTC()}
	require.NoError(t, sink.RecordDiscountAudit(ctx, audit))
	audit.Status = domain.AuditStatusApproved
	require.NoError(t, sink.RecordDiscountAudit(ctx, audit))

	count, err := sink.discounts.CountDocuments(ctx, bson.M{"shop_id": "shop_demo"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	var stored discountAuditDocument
	require.NoError(t, sink.discounts.FindOne(ctx, bson.M{"_id": "daudit_1"}).Decode(&stored))
	assert.Equal(t, domain.AuditStatusApproved, stored.Status)

	require.NoError(t, sink.RecordAudit(ctx, domain.AuditLog{ID: "audit_1", ShopID: "shop_demo", Action: "order.create", CreatedAt: time.Now().UTC()}))
}
