package auditsink

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"smartduka/backend/internal/domain"
	"smartduka/backend/internal/logger"
)

const (
	auditCollection         = "audit_logs"
	discountAuditCollection = "discount_audits"
)

type Mongo struct {
	client    *mongo.Client
	audits    *mongo.Collection
	discounts *mongo.Collection
}

type auditDocument struct {
	ID         string    `bson:"_id"`
	ShopID     string    `bson:"shop_id"`
	ActorID    string    `bson:"actor_id"`
	ActorRole  string    `bson:"actor_role"`
	Action     string    `bson:"action"`
	EntityType string    `bson:"entity_type"`
	EntityID   string    `bson:"entity_id"`
	Detail     string    `bson:"detail"`
	CreatedAt  time.Time `bson:"created_at"`
}

type discountAuditDocument struct {
	ID                  string     `bson:"_id"`
	ShopID              string     `bson:"shop_id"`
	DiscountID          string     `bson:"discount_id"`
	DiscountCode        string     `bson:"discount_code"`
	OrderID             string     `bson:"order_id,omitempty"`
	CashierID           string     `bson:"cashier_id"`
	OriginalAmountCents int64      `bson:"original_amount_cents"`
	DiscountAmountCents int64      `bson:"discount_amount_cents"`
	FinalAmountCents    int64      `bson:"final_amount_cents"`
	Status              string     `bson:"status"`
	Reason              string     `bson:"reason,omitempty"`
	ReviewedBy          string     `bson:"reviewed_by,omitempty"`
	ReviewedAt          *time.Time `bson:"reviewed_at,omitempty"`
	CreatedAt           time.Time  `bson:"created_at"`
}

// NewMongo connects, pings and ensures the shop_id+created_at indexes.
func NewMongo(ctx context.Context, uri string, database string) (*Mongo, error) {
	if uri == "" {
		return nil, fmt.Errorf("audit mongo uri is empty")
	}

	clientOptions := options.Client().ApplyURI(uri).
		SetMaxPoolSize(20).
		SetMinPoolSize(2).
		SetConnectTimeout(5 * time.Second).
		SetSocketTimeout(10 * time.Second)

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancelPing := context.WithTimeout(ctx, 2*time.Second)
	defer cancelPing()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(database)
	m := &Mongo{
		client:    client,
		audits:    db.Collection(auditCollection),
		discounts: db.Collection(discountAuditCollection),
	}
	if err := m.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	logger.For("auditsink").WithField("database", database).Info("connected to audit MongoDB")
	return m, nil
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	for name, coll := range map[string]*mongo.Collection{
		"audit_shop_created":    m.audits,
		"discount_shop_created": m.discounts,
	} {
		if _, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{
				{Key: "shop_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
			Options: options.Index().SetName(name),
		}); err != nil {
			return fmt.Errorf("create index %s: %w", name, err)
		}
	}
	if _, err := m.discounts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "shop_id", Value: 1}, {Key: "status", Value: 1}},
		Options: options.Index().SetName("discount_shop_status"),
	}); err != nil {
		return fmt.Errorf("create index discount_shop_status: %w", err)
	}
	return nil
}

func (m *Mongo) RecordAudit(ctx context.Context, entry domain.AuditLog) error {
	_, err := m.audits.InsertOne(ctx, auditDocument{
		ID:         entry.ID,
		ShopID:     entry.ShopID,
		ActorID:    entry.ActorID,
		ActorRole:  entry.ActorRole,
		Action:     entry.Action,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Detail:     entry.Detail,
		CreatedAt:  entry.CreatedAt,
	})
	return err
}

// RecordDiscountAudit upserts by id so a later review replaces the pending copy.
func (m *Mongo) RecordDiscountAudit(ctx context.Context, audit domain.DiscountAudit) error {
	doc := discountAuditDocument{
		ID:                  audit.ID,
		ShopID:              audit.ShopID,
		DiscountID:          audit.DiscountID,
		DiscountCode:        audit.DiscountCode,
		OrderID:             audit.OrderID,
		CashierID:           audit.CashierID,
		OriginalAmountCents: audit.OriginalAmountCents,
		DiscountAmountCents: audit.DiscountAmountCents,
		FinalAmountCents:    audit.FinalAmountCents,
		Status:              audit.Status,
		Reason:              audit.Reason,
		ReviewedBy:          audit.ReviewedBy,
		ReviewedAt:          audit.ReviewedAt,
		CreatedAt:           audit.CreatedAt,
	}
	_, err := m.discounts.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (m *Mongo) Close(ctx context.Context) error {
	if err := m.client.Disconnect(ctx); err != nil {
		logger.For("auditsink").WithError(err).Error("failed to disconnect audit MongoDB client")
		return err
	}
	return nil
}
