package bootstrap

import (
	"context"
	"errors"
	"fmt"

	// SQL drivers selectable through database.driver.
	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	infralogger "github.com/jonesrussell/north-cloud/export-service/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/export-service/internal/config"
)

// ErrNoStores is returned when neither a SQL DSN nor a Mongo URI is configured.
var ErrNoStores = errors.New("no data store configured: set database.dsn or mongo.uri")

// Stores holds the data store connections. Either may be nil.
type Stores struct {
	SQL     *sqlx.DB
	Mongo   *mongo.Client
	MongoDB *mongo.Database
}

// SetupStores opens the configured SQL database and Mongo deployment.
func SetupStores(ctx context.Context, cfg *config.Config, log infralogger.Logger) (*Stores, error) {
	if cfg.Database.DSN == "" && cfg.Mongo.URI == "" {
		return nil, ErrNoStores
	}

	s := &Stores{}

	if cfg.Database.DSN != "" {
		db, err := openSQL(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		s.SQL = db
		log.Info("SQL database connected", infralogger.String("driver", cfg.Database.Driver))
	}

	if cfg.Mongo.URI != "" {
		client, err := openMongo(ctx, cfg.Mongo)
		if err != nil {
			s.Close(log)
			return nil, err
		}
		s.Mongo = client
		s.MongoDB = client.Database(cfg.Mongo.Database)
		log.Info("MongoDB connected", infralogger.String("database", cfg.Mongo.Database))
	}

	return s, nil
}

func openSQL(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if pingErr := db.PingContext(ctx); pingErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, pingErr)
	}
	return db, nil
}

func openMongo(ctx context.Context, cfg config.MongoConfig) (*mongo.Client, error) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	if pingErr := client.Ping(connectCtx, readpref.Primary()); pingErr != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", pingErr)
	}
	return client, nil
}

// Ping checks every open store. It backs the db health probe.
func (s *Stores) Ping(ctx context.Context) error {
	var errs []error
	if s.SQL != nil {
		if err := s.SQL.PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("sql: %w", err))
		}
	}
	if s.Mongo != nil {
		if err := s.Mongo.Ping(ctx, readpref.Primary()); err != nil {
			errs = append(errs, fmt.Errorf("mongo: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close releases every open store.
func (s *Stores) Close(log infralogger.Logger) {
	if s.SQL != nil {
		if err := s.SQL.Close(); err != nil {
			log.Error("Failed to close database", infralogger.Error(err))
		}
	}
	if s.Mongo != nil {
		if err := s.Mongo.Disconnect(context.Background()); err != nil {
			log.Error("Failed to disconnect mongo", infralogger.Error(err))
		}
	}
}
