// Package database - Handles all interaction with ArangoDB
package database

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/arangodb/go-driver/v2/connection"
	"github.com/cenkalti/backoff"
	"github.com/ortelius/advisory-index/config"
	"github.com/ortelius/advisory-index/model"
	"go.uber.org/zap"
)

// AdvisoryCollection is the document collection advisories are stored in.
const AdvisoryCollection = "advisory"

// DBConnection is the structure that defined the database engine and collections
type DBConnection struct {
	Collections map[string]arangodb.Collection
	Database    arangodb.Database
}

// Define a struct to hold the index definition
type indexConfig struct {
	Collection string
	IdxName    string
	IdxField   string
	Unique     bool
}

var idxList = []indexConfig{
	{Collection: AdvisoryCollection, IdxName: "advisory_id", IdxField: "id", Unique: true},
	{Collection: AdvisoryCollection, IdxName: "advisory_module", IdxField: "module_name"},
	{Collection: AdvisoryCollection, IdxName: "advisory_publish_date", IdxField: "publish_date"},
}

func dbConnectionConfig(endpoint connection.Endpoint, dbuser string, dbpass string) connection.HttpConfiguration {
	return connection.HttpConfiguration{
		Authentication: connection.NewBasicAuth(dbuser, dbpass),
		Endpoint:       endpoint,
		ContentType:    connection.ApplicationJSON,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true, // #nosec G402
			},
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 90 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// Connect dials ArangoDB with exponential backoff until ctx is done, then
// makes sure the database, the advisory collection and its indexes exist.
func Connect(ctx context.Context, cfg config.Arango, logger *zap.Logger) (DBConnection, error) {
	const initialInterval = 2 * time.Second
	const maxInterval = 30 * time.Second

	var client arangodb.Client

	//
	// Database connection with backoff retry
	//

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialInterval
	bo.MaxInterval = maxInterval
	bo.MaxElapsedTime = 0 // bounded by ctx

	err := backoff.RetryNotify(func() error {
		endpoint := connection.NewRoundRobinEndpoints([]string{cfg.Endpoint()})
		conn := connection.NewHttpConnection(dbConnectionConfig(endpoint, cfg.User, cfg.Pass))

		client = arangodb.NewClient(conn)

		versionInfo, err := client.Version(ctx)
		if err != nil {
			return err
		}

		logger.Sugar().Infof("Database has version '%s' and license '%s'", versionInfo.Version, versionInfo.License)
		return nil
	}, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		logger.Warn("Retrying connection to ArangoDB", zap.String("url", cfg.Endpoint()), zap.Duration("wait", wait), zap.Error(err))
	})
	if err != nil {
		return DBConnection{}, fmt.Errorf("connecting to ArangoDB at %s: %w", cfg.Endpoint(), err)
	}

	//
	// Database creation
	//

	var db arangodb.Database
	exists := false
	dblist, err := client.Databases(ctx)
	if err != nil {
		return DBConnection{}, fmt.Errorf("listing databases: %w", err)
	}

	for _, dbinfo := range dblist {
		if dbinfo.Name() == cfg.Database {
			exists = true
			break
		}
	}

	if exists {
		var options arangodb.GetDatabaseOptions
		if db, err = client.GetDatabase(ctx, cfg.Database, &options); err != nil {
			return DBConnection{}, fmt.Errorf("failed to get database: %w", err)
		}
	} else {
		if db, err = client.CreateDatabase(ctx, cfg.Database, nil); err != nil {
			return DBConnection{}, fmt.Errorf("failed to create database: %w", err)
		}
	}

	//
	// Collection creation for document storage
	//

	collections := make(map[string]arangodb.Collection)
	var col arangodb.Collection

	exists, err = db.CollectionExists(ctx, AdvisoryCollection)
	if err != nil {
		return DBConnection{}, fmt.Errorf("checking collection: %w", err)
	}
	if exists {
		var options arangodb.GetCollectionOptions
		if col, err = db.GetCollection(ctx, AdvisoryCollection, &options); err != nil {
			return DBConnection{}, fmt.Errorf("failed to use collection: %w", err)
		}
	} else {
		if col, err = db.CreateCollectionV2(ctx, AdvisoryCollection, nil); err != nil {
			return DBConnection{}, fmt.Errorf("failed to create collection: %w", err)
		}
	}
	collections[AdvisoryCollection] = col

	//
	// Index creation for document collections
	//

	for _, idx := range idxList {
		found := false

		if indexes, err := collections[idx.Collection].Indexes(ctx); err == nil {
			for _, index := range indexes {
				if idx.IdxName == index.Name {
					found = true
					break
				}
			}
		}

		if !found {
			unique := idx.Unique
			sparse := false
			indexOptions := arangodb.CreatePersistentIndexOptions{
				Unique: &unique,
				Sparse: &sparse,
				Name:   idx.IdxName,
			}

			if _, _, err = collections[idx.Collection].EnsurePersistentIndex(ctx, []string{idx.IdxField}, &indexOptions); err != nil {
				return DBConnection{}, fmt.Errorf("creating index %s: %w", idx.IdxName, err)
			}
		}
	}

	return DBConnection{
		Database:    db,
		Collections: collections,
	}, nil
}

const loadQuery = `
	FOR a IN advisory
		SORT a.ingested_at, a._key
		RETURN a
`

const upsertQuery = `
	UPSERT { id: @doc.id }
		INSERT @doc
		UPDATE @doc
		IN advisory
	RETURN NEW._key
`

// Source loads the advisory collection as one record set.
type Source struct {
	conn   DBConnection
	logger *zap.Logger
	now    func() time.Time
}

// NewSource creates a loader backed by an established connection.
func NewSource(conn DBConnection, logger *zap.Logger) *Source {
	return &Source{conn: conn, logger: logger, now: time.Now}
}

// Name identifies the source in logs and metrics.
func (s *Source) Name() string {
	return "arangodb"
}

// Load reads every stored advisory. Records stored without an ingestion time
// are stamped with the time of this load.
func (s *Source) Load(ctx context.Context) ([]*model.Advisory, error) {
	cursor, err := s.conn.Database.Query(ctx, loadQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("querying advisories: %w", err)
	}
	defer cursor.Close()

	loadedAt := s.now().UTC()
	records := []*model.Advisory{}

	for cursor.HasMore() {
		adv := model.NewAdvisory()
		if _, err := cursor.ReadDocument(ctx, adv); err != nil {
			return nil, fmt.Errorf("reading advisory: %w", err)
		}
		if adv.IngestedAt.IsZero() {
			adv.IngestedAt = loadedAt
		}
		if adv.CrossReferences == nil {
			adv.CrossReferences = []string{}
		}
		records = append(records, adv)
	}

	s.logger.Debug("Loaded advisories from ArangoDB", zap.Int("count", len(records)))
	return records, nil
}

// Import upserts records by advisory id and returns how many were written.
// Records without an id are skipped.
func Import(ctx context.Context, conn DBConnection, records []*model.Advisory, logger *zap.Logger) (int, error) {
	written := 0
	for _, adv := range records {
		if adv.ID == "" {
			logger.Warn("Skipping advisory without id", zap.String("title", adv.Title))
			continue
		}

		doc := *adv
		doc.Key = ""
		doc.ObjType = "Advisory"

		cursor, err := conn.Database.Query(ctx, upsertQuery, &arangodb.QueryOptions{
			BindVars: map[string]interface{}{
				"doc": doc,
			},
		})
		if err != nil {
			return written, fmt.Errorf("upserting advisory %s: %w", adv.ID, err)
		}

		if cursor.HasMore() {
			var key string
			if _, err := cursor.ReadDocument(ctx, &key); err != nil {
				cursor.Close()
				return written, fmt.Errorf("reading key for advisory %s: %w", adv.ID, err)
			}
			logger.Debug("Upserted advisory", zap.String("id", adv.ID), zap.String("key", key))
		}
		cursor.Close()
		written++
	}
	return written, nil
}
