package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mamadbah2/affinage/internal/domain/models"
)

const (
	dispatchCollection   = "dispatch_reports"
	completionCollection = "completions"
)

// Repository defines the archive of dispatch runs and completions.
type Repository interface {
	SaveDispatchReport(ctx context.Context, report models.DispatchReport) error
	SaveCompletion(ctx context.Context, event models.CompletionEvent) error
}

// MongoDBRepository implements the Repository interface for MongoDB.
type MongoDBRepository struct {
	client *mongo.Client
	dbName string
}

var _ Repository = (*MongoDBRepository)(nil)

// NewMongoDBRepository creates a new MongoDB repository.
func NewMongoDBRepository(ctx context.Context, uri string, dbName string) (*MongoDBRepository, error) {
	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	// Ping the database to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return &MongoDBRepository{
		client: client,
		dbName: dbName,
	}, nil
}

// SaveDispatchReport saves the outcome of one dispatcher run.
func (r *MongoDBRepository) SaveDispatchReport(ctx context.Context, report models.DispatchReport) error {
	if _, err := r.collection(dispatchCollection).InsertOne(ctx, report); err != nil {
		return fmt.Errorf("failed to insert dispatch report: %w", err)
	}
	return nil
}

// SaveCompletion saves one completed action.
func (r *MongoDBRepository) SaveCompletion(ctx context.Context, event models.CompletionEvent) error {
	if _, err := r.collection(completionCollection).InsertOne(ctx, event); err != nil {
		return fmt.Errorf("failed to insert completion: %w", err)
	}
	return nil
}

// Close closes the MongoDB connection.
func (r *MongoDBRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

func (r *MongoDBRepository) collection(name string) *mongo.Collection {
	return r.client.Database(r.dbName).Collection(name)
}
