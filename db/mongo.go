package db

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"findmyway/locator"
	"findmyway/models"
)

const (
	modelBucket   = "models"
	modelFilename = "wifi_model"
)

// MongoClient stores survey data and markers in collections and keeps floor
// map images and model artifacts in GridFS.
type MongoClient struct {
	client *mongo.Client
	db     *mongo.Database
}

type mapDoc struct {
	Floor       string             `bson:"floor"`
	FileID      primitive.ObjectID `bson:"file_id"`
	ContentType string             `bson:"content_type"`
	UploadedAt  time.Time          `bson:"uploaded_at"`
}

type locationDoc struct {
	ID    primitive.ObjectID `bson:"_id,omitempty"`
	Floor string             `bson:"floor"`
	Name  string             `bson:"name"`
	X     float64            `bson:"x"`
	Y     float64            `bson:"y"`
}

func (d locationDoc) marker() models.LocationMarker {
	return models.LocationMarker{ID: d.ID.Hex(), Floor: d.Floor, Name: d.Name, X: d.X, Y: d.Y}
}

func NewMongoClient(ctx context.Context, uri, database string) (*MongoClient, error) {
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}
	if database == "" {
		database = "findmyway"
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("error connecting to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("error pinging MongoDB: %w", err)
	}

	db := client.Database(database)
	_, err = db.Collection("locations").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "floor", Value: 1}},
	})
	if err != nil {
		return nil, fmt.Errorf("error creating locations index: %w", err)
	}

	return &MongoClient{client: client, db: db}, nil
}

func (m *MongoClient) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

// bucket opens a GridFS bucket bounded by ctx's deadline.
func (m *MongoClient) bucket(ctx context.Context, name string) (*gridfs.Bucket, error) {
	opts := options.GridFSBucket()
	if name != "" {
		opts.SetName(name)
	}
	bucket, err := gridfs.NewBucket(m.db, opts)
	if err != nil {
		return nil, fmt.Errorf("error opening GridFS bucket: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := bucket.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
		if err := bucket.SetWriteDeadline(deadline); err != nil {
			return nil, err
		}
	}
	return bucket, nil
}

func (m *MongoClient) AppendSurveyRecords(ctx context.Context, records []locator.SurveyRecord) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]interface{}, len(records))
	for i, rec := range records {
		docs[i] = rec
	}
	if _, err := m.db.Collection("survey_records").InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("error inserting survey records: %w", err)
	}
	return nil
}

func (m *MongoClient) LoadSurveyRecords(ctx context.Context) ([]locator.SurveyRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := m.db.Collection("survey_records").Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("error querying survey records: %w", err)
	}

	var records []locator.SurveyRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("error decoding survey records: %w", err)
	}
	return records, nil
}

func (m *MongoClient) CountSurveyRecords(ctx context.Context) (int, error) {
	n, err := m.db.Collection("survey_records").CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("error counting survey records: %w", err)
	}
	return int(n), nil
}

// SaveMapImage removes the floor's previous map before storing the new one.
func (m *MongoClient) SaveMapImage(ctx context.Context, floor, contentType string, data []byte) error {
	bucket, err := m.bucket(ctx, "")
	if err != nil {
		return err
	}
	maps := m.db.Collection("maps")

	cursor, err := maps.Find(ctx, bson.M{"floor": floor})
	if err != nil {
		return fmt.Errorf("error querying maps: %w", err)
	}
	var previous []mapDoc
	if err := cursor.All(ctx, &previous); err != nil {
		return fmt.Errorf("error decoding maps: %w", err)
	}
	for _, doc := range previous {
		if err := bucket.Delete(doc.FileID); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
			return fmt.Errorf("error deleting previous map: %w", err)
		}
	}
	if _, err := maps.DeleteMany(ctx, bson.M{"floor": floor}); err != nil {
		return fmt.Errorf("error deleting previous map: %w", err)
	}

	fileID, err := bucket.UploadFromStream(fmt.Sprintf("map_%s", floor), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("error uploading map image: %w", err)
	}
	_, err = maps.InsertOne(ctx, mapDoc{
		Floor:       floor,
		FileID:      fileID,
		ContentType: contentType,
		UploadedAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("error storing map: %w", err)
	}
	return nil
}

func (m *MongoClient) LoadMapImage(ctx context.Context, floor string) (models.FloorMap, error) {
	var doc mapDoc
	err := m.db.Collection("maps").FindOne(ctx, bson.M{"floor": floor}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.FloorMap{}, ErrNotFound
	}
	if err != nil {
		return models.FloorMap{}, fmt.Errorf("error querying map: %w", err)
	}

	bucket, err := m.bucket(ctx, "")
	if err != nil {
		return models.FloorMap{}, err
	}
	var buf bytes.Buffer
	if _, err := bucket.DownloadToStream(doc.FileID, &buf); err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return models.FloorMap{}, ErrNotFound
		}
		return models.FloorMap{}, fmt.Errorf("error downloading map image: %w", err)
	}

	return models.FloorMap{
		Floor:       doc.Floor,
		ContentType: doc.ContentType,
		Data:        buf.Bytes(),
		UploadedAt:  doc.UploadedAt,
	}, nil
}

func (m *MongoClient) ListLocations(ctx context.Context, floor string) ([]models.LocationMarker, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := m.db.Collection("locations").Find(ctx, bson.M{"floor": floor}, opts)
	if err != nil {
		return nil, fmt.Errorf("error querying locations: %w", err)
	}
	var docs []locationDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("error decoding locations: %w", err)
	}

	markers := make([]models.LocationMarker, 0, len(docs))
	for _, doc := range docs {
		markers = append(markers, doc.marker())
	}
	return markers, nil
}

func (m *MongoClient) ReplaceLocations(ctx context.Context, floor string, markers []models.LocationMarker) ([]models.LocationMarker, error) {
	locations := m.db.Collection("locations")
	if _, err := locations.DeleteMany(ctx, bson.M{"floor": floor}); err != nil {
		return nil, fmt.Errorf("error clearing locations: %w", err)
	}

	stored := make([]models.LocationMarker, 0, len(markers))
	for _, marker := range markers {
		doc := locationDoc{ID: primitive.NewObjectID(), Floor: floor, Name: marker.Name, X: marker.X, Y: marker.Y}
		if _, err := locations.InsertOne(ctx, doc); err != nil {
			return nil, fmt.Errorf("error inserting location: %w", err)
		}
		stored = append(stored, doc.marker())
	}
	return stored, nil
}

func (m *MongoClient) UpdateLocation(ctx context.Context, marker models.LocationMarker) error {
	id, err := primitive.ObjectIDFromHex(marker.ID)
	if err != nil {
		return ErrNotFound
	}
	result, err := m.db.Collection("locations").UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"name": marker.Name, "x": marker.X, "y": marker.Y}},
	)
	if err != nil {
		return fmt.Errorf("failed to update location: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *MongoClient) DeleteLocation(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	result, err := m.db.Collection("locations").DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("failed to delete location: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveModel uploads a new revision of the model artifact.
func (m *MongoClient) SaveModel(ctx context.Context, blob []byte) error {
	bucket, err := m.bucket(ctx, modelBucket)
	if err != nil {
		return err
	}
	opts := options.GridFSUpload().SetMetadata(bson.M{"saved_at": time.Now().UTC()})
	if _, err := bucket.UploadFromStream(modelFilename, bytes.NewReader(blob), opts); err != nil {
		return fmt.Errorf("error uploading model: %w", err)
	}
	return nil
}

// LoadModel downloads the most recent revision of the model artifact.
func (m *MongoClient) LoadModel(ctx context.Context) ([]byte, error) {
	bucket, err := m.bucket(ctx, modelBucket)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	_, err = bucket.DownloadToStreamByName(modelFilename, &buf, options.GridFSName().SetRevision(-1))
	if errors.Is(err, gridfs.ErrFileNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error downloading model: %w", err)
	}
	return buf.Bytes(), nil
}

func (m *MongoClient) StoreFix(ctx context.Context, fix *models.Fix) error {
	if fix.Timestamp.IsZero() {
		fix.Timestamp = time.Now().UTC()
	}
	if fix.ID == 0 {
		fix.ID = time.Now().UnixNano()
	}
	if _, err := m.db.Collection("fixes").InsertOne(ctx, fix); err != nil {
		return fmt.Errorf("error storing fix: %w", err)
	}
	return nil
}

func (m *MongoClient) ListFixes(ctx context.Context, limit int) ([]models.Fix, error) {
	opts := options.Find().SetSort(bson.D{{Key: "fix_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := m.db.Collection("fixes").Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("error querying fixes: %w", err)
	}
	fixes := []models.Fix{}
	if err := cursor.All(ctx, &fixes); err != nil {
		return nil, fmt.Errorf("error decoding fixes: %w", err)
	}
	return fixes, nil
}
