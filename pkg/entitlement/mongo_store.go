package entitlement

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/subsync/pkg/plan"
)

const usersCollection = "users"

// countScanCap bounds the manual fallback count so a failing aggregate
// never turns into an unbounded collection scan.
const countScanCap = 200_000

// MongoStore implements Store on a MongoDB users collection. The user
// document is shared with the rest of the application, so every mutation
// is a field-level $set touching only subscription state and updatedAt.
type MongoStore struct {
	col *mongo.Collection
}

// NewMongoStore returns a Store backed by the users collection of db.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{col: db.Collection(usersCollection)}
}

func (s *MongoStore) Get(ctx context.Context, userID string) (*Record, error) {
	var rec Record
	err := s.col.FindOne(ctx, bson.M{"_id": userID}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return normalize(&rec), nil
}

func (s *MongoStore) Create(ctx context.Context, userID, email, displayName string) (*Record, error) {
	now := time.Now().UTC()
	rec := Record{
		UserID:      userID,
		Email:       email,
		DisplayName: displayName,
		Role:        RoleUser,
		Subscription: Subscription{
			Plan:   plan.TierFree,
			Status: StatusCanceled,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := s.col.InsertOne(ctx, rec); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrRecordExists
		}
		return nil, err
	}
	return &rec, nil
}

func (s *MongoStore) SetBillingCustomerID(ctx context.Context, userID, customerID string) error {
	return s.setFields(ctx, userID, bson.M{
		"subscription.billingCustomerId": customerID,
	})
}

func (s *MongoStore) MarkTrialUsed(ctx context.Context, userID string) error {
	return s.setFields(ctx, userID, bson.M{
		"subscription.hasUsedTrial": true,
	})
}

func (s *MongoStore) ApplySnapshot(ctx context.Context, userID string, snap Snapshot) error {
	return s.setFields(ctx, userID, bson.M{
		"subscription.plan":                  snap.Plan,
		"subscription.status":                snap.Status,
		"subscription.billingSubscriptionId": snap.BillingSubscriptionID,
		"subscription.currentPeriodStart":    snap.CurrentPeriodStart,
		"subscription.currentPeriodEnd":      snap.CurrentPeriodEnd,
		"subscription.cancelAt":              snap.CancelAt,
		"subscription.trialEnd":              snap.TrialEnd,
	})
}

func (s *MongoStore) SetOverride(ctx context.Context, userID string, enabled bool, reason OverrideReason) error {
	if enabled && !ValidOverrideReason(reason) {
		return ErrInvalidOverrideReason
	}
	fields := bson.M{"subscription.overrideAccess": enabled}
	if enabled {
		fields["subscription.overrideReason"] = reason
	} else {
		fields["subscription.overrideReason"] = nil
	}
	return s.setFields(ctx, userID, fields)
}

// setFields performs a single atomic field-level update, always advancing
// updatedAt in the same write.
func (s *MongoStore) setFields(ctx context.Context, userID string, fields bson.M) error {
	fields["updatedAt"] = time.Now().UTC()
	res, err := s.col.UpdateByID(ctx, userID, bson.M{"$set": fields})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *MongoStore) List(ctx context.Context, filter Filter) ([]Record, int64, error) {
	filter = filter.clamp()
	query := listQuery(filter)

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip(filter.Offset).
		SetLimit(filter.Limit)

	cur, err := s.col.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)

	var items []Record
	for cur.Next(ctx) {
		var rec Record
		if err := cur.Decode(&rec); err != nil {
			return nil, 0, err
		}
		items = append(items, *normalize(&rec))
	}
	if err := cur.Err(); err != nil {
		return nil, 0, err
	}

	total, err := s.col.CountDocuments(ctx, query)
	if err != nil {
		// Aggregate counts can be unavailable on constrained deployments;
		// fall back to a capped manual scan.
		total, err = s.countByScan(ctx, query)
		if err != nil {
			return nil, 0, err
		}
	}

	return items, total, nil
}

func (s *MongoStore) countByScan(ctx context.Context, query bson.M) (int64, error) {
	opts := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetLimit(countScanCap)

	cur, err := s.col.Find(ctx, query, opts)
	if err != nil {
		return 0, err
	}
	defer cur.Close(ctx)

	var total int64
	for cur.Next(ctx) {
		total++
	}
	return total, cur.Err()
}

func listQuery(filter Filter) bson.M {
	query := bson.M{}
	if filter.Plan != "" {
		query["subscription.plan"] = filter.Plan
	} else {
		query["subscription.plan"] = bson.M{"$in": []plan.Tier{plan.TierBasic, plan.TierPremium}}
	}
	if filter.Status != "" {
		query["subscription.status"] = filter.Status
	}
	return query
}
