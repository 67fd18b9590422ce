package connection

import (
	"context"
	"time"

	"go-insights/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type ConnectionRepository interface {
	Create(ctx context.Context, conn *Connection) error
	Get(ctx context.Context, id string) (*Connection, error)
	GetByUserProvider(ctx context.Context, userID, provider string) (*Connection, error)
	List(ctx context.Context, userID string) ([]Connection, error)
	Update(ctx context.Context, id string, updates map[string]interface{}) error
	EnsureIndexes(ctx context.Context) error
}

type ConnectionRepositoryImpl struct {
	collection *mongo.Collection
}

func NewConnectionRepository(db *database.MongodbDB) ConnectionRepository {
	return &ConnectionRepositoryImpl{
		collection: db.DB.Collection("connections"),
	}
}

func (r *ConnectionRepositoryImpl) Create(ctx context.Context, conn *Connection) error {
	if conn.ID.IsZero() {
		conn.ID = primitive.NewObjectID()
	}
	conn.CreatedAt = time.Now()
	conn.UpdatedAt = time.Now()

	_, err := r.collection.InsertOne(ctx, conn)
	return err
}

func (r *ConnectionRepositoryImpl) Get(ctx context.Context, id string) (*Connection, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, err
	}

	var conn Connection
	if err := r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&conn); err != nil {
		return nil, err
	}
	return &conn, nil
}

func (r *ConnectionRepositoryImpl) GetByUserProvider(ctx context.Context, userID, provider string) (*Connection, error) {
	var conn Connection
	err := r.collection.FindOne(ctx, bson.M{"user_id": userID, "provider": provider}).Decode(&conn)
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

func (r *ConnectionRepositoryImpl) List(ctx context.Context, userID string) ([]Connection, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := r.collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var conns []Connection
	if err = cursor.All(ctx, &conns); err != nil {
		return nil, err
	}
	return conns, nil
}

// Update applies all fields in one write so a token pair is never half-written
func (r *ConnectionRepositoryImpl) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}

	updates["updated_at"] = time.Now()
	_, err = r.collection.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": updates})
	return err
}

func (r *ConnectionRepositoryImpl) EnsureIndexes(ctx context.Context) error {
	// One connection per user+provider pair
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "provider", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}
