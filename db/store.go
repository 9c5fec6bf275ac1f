package db

import (
	"context"
	"errors"
	"fmt"

	"findmyway/locator"
	"findmyway/models"
)

// ErrNotFound is returned when a floor map, location marker or model artifact does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence collaborator of the locator service. Backends are
// interchangeable; the classifier never depends on which one is configured.
type Store interface {
	locator.ArtifactStore

	AppendSurveyRecords(ctx context.Context, records []locator.SurveyRecord) error
	LoadSurveyRecords(ctx context.Context) ([]locator.SurveyRecord, error)
	CountSurveyRecords(ctx context.Context) (int, error)

	SaveMapImage(ctx context.Context, floor, contentType string, data []byte) error
	LoadMapImage(ctx context.Context, floor string) (models.FloorMap, error)

	ListLocations(ctx context.Context, floor string) ([]models.LocationMarker, error)
	ReplaceLocations(ctx context.Context, floor string, markers []models.LocationMarker) ([]models.LocationMarker, error)
	UpdateLocation(ctx context.Context, marker models.LocationMarker) error
	DeleteLocation(ctx context.Context, id string) error

	StoreFix(ctx context.Context, fix *models.Fix) error
	ListFixes(ctx context.Context, limit int) ([]models.Fix, error)

	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Type       string // sqlite, mongo or file
	SQLitePath string
	MongoURI   string
	MongoDB    string
	DataDir    string
}

// NewStore opens the backend named by opts.Type.
func NewStore(ctx context.Context, opts Options) (Store, error) {
	switch opts.Type {
	case "", "sqlite":
		return NewSQLiteClient(opts.SQLitePath)
	case "mongo":
		return NewMongoClient(ctx, opts.MongoURI, opts.MongoDB)
	case "file":
		return NewFileStore(opts.DataDir)
	default:
		return nil, fmt.Errorf("unsupported DB_TYPE %q", opts.Type)
	}
}
