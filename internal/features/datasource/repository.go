package datasource

import (
	"context"
	"time"

	"go-insights/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type DataSourceRepository interface {
	Create(ctx context.Context, ds *DataSource) error
	GetByID(ctx context.Context, id string) (*DataSource, error)
	GetByWebhookToken(ctx context.Context, token string) (*DataSource, error)
	GetByConnectionID(ctx context.Context, connectionID primitive.ObjectID) (*DataSource, error)
	List(ctx context.Context, userID string) ([]DataSource, error)
	ListStale(ctx context.Context, olderThan time.Time) ([]DataSource, error)
	Update(ctx context.Context, id primitive.ObjectID, updates map[string]interface{}) error
	IncrementRowCount(ctx context.Context, id primitive.ObjectID, delta int64) error
	EnsureIndexes(ctx context.Context) error
}

type DataSourceRepositoryImpl struct {
	collection *mongo.Collection
}

func NewDataSourceRepository(db *database.MongodbDB) DataSourceRepository {
	return &DataSourceRepositoryImpl{
		collection: db.DB.Collection("data_sources"),
	}
}

func (r *DataSourceRepositoryImpl) Create(ctx context.Context, ds *DataSource) error {
	if ds.ID.IsZero() {
		ds.ID = primitive.NewObjectID()
	}
	ds.CreatedAt = time.Now()
	ds.UpdatedAt = time.Now()

	_, err := r.collection.InsertOne(ctx, ds)
	return err
}

func (r *DataSourceRepositoryImpl) GetByID(ctx context.Context, id string) (*DataSource, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, err
	}

	var ds DataSource
	if err := r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&ds); err != nil {
		return nil, err
	}
	return &ds, nil
}

func (r *DataSourceRepositoryImpl) GetByWebhookToken(ctx context.Context, token string) (*DataSource, error) {
	var ds DataSource
	err := r.collection.FindOne(ctx, bson.M{"webhook_token": token, "is_active": true}).Decode(&ds)
	if err != nil {
		return nil, err
	}
	return &ds, nil
}

func (r *DataSourceRepositoryImpl) GetByConnectionID(ctx context.Context, connectionID primitive.ObjectID) (*DataSource, error) {
	var ds DataSource
	err := r.collection.FindOne(ctx, bson.M{"connection_id": connectionID}).Decode(&ds)
	if err != nil {
		return nil, err
	}
	return &ds, nil
}

func (r *DataSourceRepositoryImpl) List(ctx context.Context, userID string) ([]DataSource, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := r.collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var sources []DataSource
	if err = cursor.All(ctx, &sources); err != nil {
		return nil, err
	}
	return sources, nil
}

// ListStale returns active live sources never synced or last synced before the cutoff
func (r *DataSourceRepositoryImpl) ListStale(ctx context.Context, olderThan time.Time) ([]DataSource, error) {
	filter := bson.M{
		"is_active":       true,
		"connection_type": TypeLive,
		"$or": []bson.M{
			{"last_sync_at": bson.M{"$exists": false}},
			{"last_sync_at": nil},
			{"last_sync_at": bson.M{"$lt": olderThan}},
		},
	}

	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var sources []DataSource
	if err = cursor.All(ctx, &sources); err != nil {
		return nil, err
	}
	return sources, nil
}

func (r *DataSourceRepositoryImpl) Update(ctx context.Context, id primitive.ObjectID, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": updates})
	return err
}

func (r *DataSourceRepositoryImpl) IncrementRowCount(ctx context.Context, id primitive.ObjectID, delta int64) error {
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$inc": bson.M{"row_count": delta},
		"$set": bson.M{"updated_at": time.Now()},
	})
	return err
}

func (r *DataSourceRepositoryImpl) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			// Sparse: pull-only sources carry no webhook token at all
			Keys:    bson.D{{Key: "webhook_token", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
		{
			Keys: bson.D{{Key: "connection_id", Value: 1}},
		},
	})
	return err
}

type DataRowRepository interface {
	InsertBatch(ctx context.Context, rows []DataRow) error
	DeleteGeneration(ctx context.Context, dataSourceID primitive.ObjectID, generation string) error
	DeleteOtherGenerations(ctx context.Context, dataSourceID primitive.ObjectID, keep string) error
	Count(ctx context.Context, dataSourceID primitive.ObjectID, generation string) (int64, error)
	List(ctx context.Context, dataSourceID primitive.ObjectID, generation string, limit, offset int64) ([]DataRow, error)
	EnsureIndexes(ctx context.Context) error
}

type DataRowRepositoryImpl struct {
	collection *mongo.Collection
}

func NewDataRowRepository(db *database.MongodbDB) DataRowRepository {
	return &DataRowRepositoryImpl{
		collection: db.DB.Collection("data_rows"),
	}
}

func (r *DataRowRepositoryImpl) InsertBatch(ctx context.Context, rows []DataRow) error {
	if len(rows) == 0 {
		return nil
	}

	docs := make([]interface{}, 0, len(rows))
	now := time.Now()
	for i := range rows {
		if rows[i].ID.IsZero() {
			rows[i].ID = primitive.NewObjectID()
		}
		rows[i].CreatedAt = now
		docs = append(docs, rows[i])
	}

	_, err := r.collection.InsertMany(ctx, docs)
	return err
}

func (r *DataRowRepositoryImpl) DeleteGeneration(ctx context.Context, dataSourceID primitive.ObjectID, generation string) error {
	_, err := r.collection.DeleteMany(ctx, bson.M{
		"data_source_id": dataSourceID,
		"generation":     generation,
	})
	return err
}

func (r *DataRowRepositoryImpl) DeleteOtherGenerations(ctx context.Context, dataSourceID primitive.ObjectID, keep string) error {
	_, err := r.collection.DeleteMany(ctx, bson.M{
		"data_source_id": dataSourceID,
		"generation":     bson.M{"$ne": keep},
	})
	return err
}

func (r *DataRowRepositoryImpl) Count(ctx context.Context, dataSourceID primitive.ObjectID, generation string) (int64, error) {
	return r.collection.CountDocuments(ctx, bson.M{
		"data_source_id": dataSourceID,
		"generation":     generation,
	})
}

func (r *DataRowRepositoryImpl) List(ctx context.Context, dataSourceID primitive.ObjectID, generation string, limit, offset int64) ([]DataRow, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetSkip(offset).
		SetLimit(limit)

	cursor, err := r.collection.Find(ctx, bson.M{
		"data_source_id": dataSourceID,
		"generation":     generation,
	}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []DataRow
	if err = cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *DataRowRepositoryImpl) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "data_source_id", Value: 1}, {Key: "generation", Value: 1}},
	})
	return err
}
