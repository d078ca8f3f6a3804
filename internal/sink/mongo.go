package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/szibis/tsloadgen/internal/gen"
	"github.com/szibis/tsloadgen/internal/logging"
)

// MongoConfig holds connection settings for the MongoDB sink.
type MongoConfig struct {
	// URI is the connection string.
	URI string
	// Database and Collection name the target time-series collection.
	Database   string
	Collection string
	// Timeout bounds each insert call; it also bounds worst-case
	// shutdown latency of a worker blocked on the sink.
	Timeout time.Duration
	// ConnectTimeout bounds the initial connect + ping.
	ConnectTimeout time.Duration
}

// ProvisionOptions control collection setup before a run.
type ProvisionOptions struct {
	Drop           bool
	CreateIndexes  bool
	EnableSharding bool
}

// Mongo is the MongoDB bulk-insert sink.
type Mongo struct {
	client     *mongo.Client
	database   string
	collection string
	coll       *mongo.Collection
	timeout    time.Duration
}

// NewMongo connects to MongoDB and verifies the connection with a ping.
func NewMongo(ctx context.Context, cfg MongoConfig) (*Mongo, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(50).
		SetMinPoolSize(10).
		SetMaxConnIdleTime(30 * time.Second).
		SetServerSelectionTimeout(cfg.ConnectTimeout).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	return &Mongo{
		client:     client,
		database:   cfg.Database,
		collection: cfg.Collection,
		coll:       client.Database(cfg.Database).Collection(cfg.Collection),
		timeout:    cfg.Timeout,
	}, nil
}

// Provision prepares the target collection: optional drop, time-series
// collection creation, secondary indexes and sharding.
func (m *Mongo) Provision(ctx context.Context, opts ProvisionOptions) error {
	db := m.client.Database(m.database)

	if opts.Drop {
		if err := m.coll.Drop(ctx); err != nil {
			return fmt.Errorf("drop collection: %w", err)
		}
		logging.Info("collection dropped", logging.F("collection", m.collection))
	}

	names, err := db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: m.collection}})
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	if len(names) == 0 {
		tsOpts := options.CreateCollection().SetTimeSeriesOptions(
			options.TimeSeries().
				SetTimeField("timestamp").
				SetMetaField("metadata").
				SetGranularity("minutes"),
		)
		if err := db.CreateCollection(ctx, m.collection, tsOpts); err != nil {
			return fmt.Errorf("create time series collection: %w", err)
		}
		logging.Info("time series collection created", logging.F(
			"collection", m.collection,
			"granularity", "minutes",
		))
	}

	if opts.CreateIndexes {
		if err := m.createIndexes(ctx); err != nil {
			return err
		}
	}

	if opts.EnableSharding {
		m.setupSharding(ctx)
	}
	return nil
}

func (m *Mongo) createIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "metadata.hostname", Value: 1}, {Key: "timestamp", Value: 1}},
			Options: options.Index().SetName("hostname_timestamp_idx"),
		},
		{
			Keys:    bson.D{{Key: "metadata.region", Value: 1}, {Key: "metadata.datacenter", Value: 1}, {Key: "timestamp", Value: 1}},
			Options: options.Index().SetName("region_datacenter_timestamp_idx"),
		},
		{
			Keys:    bson.D{{Key: "metadata.service", Value: 1}, {Key: "metadata.service_environment", Value: 1}, {Key: "timestamp", Value: 1}},
			Options: options.Index().SetName("service_environment_timestamp_idx"),
		},
		{
			Keys:    bson.D{{Key: "measurement", Value: 1}, {Key: "timestamp", Value: 1}},
			Options: options.Index().SetName("measurement_timestamp_idx"),
		},
	}
	if _, err := m.coll.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	logging.Info("indexes created", logging.F("count", len(models)))
	return nil
}

// setupSharding is best-effort: standalone and replica-set deployments
// reject these commands, which is not a run-stopping condition.
func (m *Mongo) setupSharding(ctx context.Context) {
	admin := m.client.Database("admin")
	if err := admin.RunCommand(ctx, bson.D{{Key: "enableSharding", Value: m.database}}).Err(); err != nil {
		logging.Warn("enableSharding failed, continuing unsharded", logging.F("error", err.Error()))
		return
	}
	cmd := bson.D{
		{Key: "shardCollection", Value: m.database + "." + m.collection},
		{Key: "key", Value: bson.D{{Key: "metadata.hostname", Value: "hashed"}, {Key: "timestamp", Value: 1}}},
	}
	if err := admin.RunCommand(ctx, cmd).Err(); err != nil {
		logging.Warn("shardCollection failed, continuing unsharded", logging.F("error", err.Error()))
		return
	}
	logging.Info("sharding configured", logging.F(
		"shard_key", "metadata.hostname:hashed,timestamp:1",
	))
}

// Insert bulk-writes docs with ordered=false so independent documents
// do not fail each other.
func (m *Mongo) Insert(ctx context.Context, docs []gen.Document) (Result, error) {
	if len(docs) == 0 {
		return Result{}, nil
	}

	payload := make([]interface{}, len(docs))
	for i := range docs {
		payload[i] = docs[i].BSON()
	}

	insCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	res, err := m.coll.InsertMany(insCtx, payload, options.InsertMany().SetOrdered(false))
	acknowledged := 0
	if res != nil {
		acknowledged = len(res.InsertedIDs)
	}
	if err != nil {
		return Result{Acknowledged: acknowledged}, classifyMongoError(err)
	}
	return Result{Acknowledged: acknowledged}, nil
}

// CollStats holds the subset of collStats the tool reports.
type CollStats struct {
	DocumentCount  int64
	SizeBytes      int64
	StorageBytes   int64
	AvgDocSize     float64
	IndexCount     int32
	IndexSizeBytes int64
}

// Stats runs collStats against the target collection.
func (m *Mongo) Stats(ctx context.Context) (CollStats, error) {
	var raw struct {
		Count          int64   `bson:"count"`
		Size           int64   `bson:"size"`
		StorageSize    int64   `bson:"storageSize"`
		AvgObjSize     float64 `bson:"avgObjSize"`
		NIndexes       int32   `bson:"nindexes"`
		TotalIndexSize int64   `bson:"totalIndexSize"`
	}
	cmd := bson.D{{Key: "collStats", Value: m.collection}}
	if err := m.client.Database(m.database).RunCommand(ctx, cmd).Decode(&raw); err != nil {
		return CollStats{}, fmt.Errorf("collStats: %w", err)
	}
	return CollStats{
		DocumentCount:  raw.Count,
		SizeBytes:      raw.Size,
		StorageBytes:   raw.StorageSize,
		AvgDocSize:     raw.AvgObjSize,
		IndexCount:     raw.NIndexes,
		IndexSizeBytes: raw.TotalIndexSize,
	}, nil
}

// Ping verifies the connection; the readiness probe uses it.
func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

// Drop drops the target collection.
func (m *Mongo) Drop(ctx context.Context) error {
	return m.coll.Drop(ctx)
}

// Close disconnects from MongoDB.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// Server error codes that indicate a request the server will never
// accept, regardless of retries.
var fatalServerCodes = map[int]bool{
	13:  true, // Unauthorized
	18:  true, // AuthenticationFailed
	14:  true, // TypeMismatch
	121: true, // DocumentValidationFailure
	2:   true, // BadValue
	72:  true, // InvalidOptions
}

// classifyMongoError maps a driver error onto the sink error contract.
func classifyMongoError(err error) *InsertError {
	if err == nil {
		return nil
	}

	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) ||
		errors.Is(err, context.DeadlineExceeded) {
		return &InsertError{Err: err, Kind: KindTransient}
	}

	var bulk mongo.BulkWriteException
	if errors.As(err, &bulk) {
		for _, we := range bulk.WriteErrors {
			if fatalServerCodes[we.Code] {
				return &InsertError{Err: err, Kind: KindFatal, Code: we.Code, Message: we.Message}
			}
		}
		return &InsertError{Err: err, Kind: KindTransient}
	}

	var cmd mongo.CommandError
	if errors.As(err, &cmd) {
		if fatalServerCodes[int(cmd.Code)] {
			return &InsertError{Err: err, Kind: KindFatal, Code: int(cmd.Code), Message: cmd.Message}
		}
		return &InsertError{Err: err, Kind: KindTransient}
	}

	// Unknown driver-side errors default to transient: the retry
	// budget bounds the damage either way.
	return &InsertError{Err: err, Kind: KindTransient}
}
