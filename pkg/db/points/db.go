package points

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/canopy-network/pointsx/pkg/db"
	"github.com/canopy-network/pointsx/pkg/db/postgres"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// DB is the PostgreSQL implementation of db.Store.
type DB struct {
	*postgres.Client
	Name string
}

var _ db.Store = (*DB)(nil)

// New connects to url, ensures the database and tables exist and returns the store.
func New(ctx context.Context, logger *zap.Logger, url, name string) (*DB, error) {
	client, err := postgres.New(ctx, logger.With(
		zap.String("db", name),
		zap.String("component", "points"),
	), url, name, postgres.DefaultPoolConfig("points"))
	if err != nil {
		return nil, err
	}

	pointsDB := &DB{Client: client, Name: name}
	if err := pointsDB.InitializeDB(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return pointsDB, nil
}

// InitializeDB creates the tables and indexes if they do not already exist.
func (d *DB) InitializeDB(ctx context.Context) error {
	d.Logger.Info("Initializing points database", zap.String("database", d.Name))

	if err := d.initAccounts(ctx); err != nil {
		return err
	}
	if err := d.initLedger(ctx); err != nil {
		return err
	}
	if err := d.initEvents(ctx); err != nil {
		return err
	}
	return nil
}

func (d *DB) Close() error {
	d.Client.Close()
	return nil
}

func (d *DB) Ping(ctx context.Context) error {
	if err := d.Client.Ping(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

// unavailable tags connection-level failures with db.ErrUnavailable so
// callers can tell an outage from a bad query.
func unavailable(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	var connErr *pgconn.ConnectError
	if errors.As(err, &netErr) || errors.As(err, &connErr) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %w", db.ErrUnavailable, err)
	}
	return err
}
