package db

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore represents a MongoDB document store,
// each collection holds documents of the form {_id, rev, body}
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ Store = &MongoStore{}

type mongoDocument struct {
	ID   string   `bson:"_id"`
	Rev  int      `bson:"rev"`
	Body bson.Raw `bson:"body"`
}

// NewMongoStore connects to MongoDB
func NewMongoStore(ctx context.Context, uri string, name string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to MongoDB, %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("cannot ping MongoDB, %w", err)
	}
	return &MongoStore{client: client, db: client.Database(name)}, nil
}

func toBSON(body []byte) (bson.Raw, error) {
	var doc bson.D
	if err := bson.UnmarshalExtJSON(body, false, &doc); err != nil {
		return nil, err
	}
	return bson.Marshal(doc)
}

func (d mongoDocument) toDocument() (Document, error) {
	body, err := bson.MarshalExtJSON(d.Body, false, false)
	if err != nil {
		return Document{}, fmt.Errorf("cannot convert document %s, %w", d.ID, err)
	}
	return Document{ID: d.ID, Rev: d.Rev, Body: body}, nil
}

// Get returns a document
func (m *MongoStore) Get(ctx context.Context, collection, id string) (Document, error) {
	var doc mongoDocument
	err := m.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("cannot get %s/%s, %w", collection, id, err)
	}
	return doc.toDocument()
}

// All returns all documents of a collection
func (m *MongoStore) All(ctx context.Context, collection string) ([]Document, error) {
	cursor, err := m.db.Collection(collection).Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("cannot query %s, %w", collection, err)
	}
	defer func() { _ = cursor.Close(ctx) }()
	var result []Document
	for cursor.Next(ctx) {
		var doc mongoDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("cannot decode %s, %w", collection, err)
		}
		converted, err := doc.toDocument()
		if err != nil {
			return nil, err
		}
		result = append(result, converted)
	}
	return result, cursor.Err()
}

// Put writes a document expecting its revision
func (m *MongoStore) Put(ctx context.Context, collection string, doc Document) (int, error) {
	body, err := toBSON(doc.Body)
	if err != nil {
		return 0, fmt.Errorf("cannot convert %s/%s, %w", collection, doc.ID, err)
	}
	c := m.db.Collection(collection)
	if doc.Rev == 0 {
		_, err := c.InsertOne(ctx, mongoDocument{ID: doc.ID, Rev: 1, Body: body})
		if mongo.IsDuplicateKeyError(err) {
			return 0, ErrConflict
		}
		if err != nil {
			return 0, fmt.Errorf("cannot insert %s/%s, %w", collection, doc.ID, err)
		}
		return 1, nil
	}
	res, err := c.UpdateOne(
		ctx,
		bson.M{"_id": doc.ID, "rev": doc.Rev},
		bson.M{"$set": bson.M{"body": body}, "$inc": bson.M{"rev": 1}},
	)
	if err != nil {
		return 0, fmt.Errorf("cannot update %s/%s, %w", collection, doc.ID, err)
	}
	if res.MatchedCount == 0 {
		return 0, ErrConflict
	}
	return doc.Rev + 1, nil
}

// Upsert writes documents regardless of their revisions
func (m *MongoStore) Upsert(ctx context.Context, collection string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(docs))
	for _, doc := range docs {
		body, err := toBSON(doc.Body)
		if err != nil {
			return fmt.Errorf("cannot convert %s/%s, %w", collection, doc.ID, err)
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": doc.ID}).
			SetUpdate(bson.M{"$set": bson.M{"body": body}, "$inc": bson.M{"rev": 1}}).
			SetUpsert(true))
	}
	if _, err := m.db.Collection(collection).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true)); err != nil {
		return fmt.Errorf("cannot upsert into %s, %w", collection, err)
	}
	return nil
}

// Purge removes documents
func (m *MongoStore) Purge(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := m.db.Collection(collection).DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
		return fmt.Errorf("cannot purge from %s, %w", collection, err)
	}
	return nil
}

// Close disconnects from MongoDB
func (m *MongoStore) Close() error {
	return m.client.Disconnect(context.Background())
}
