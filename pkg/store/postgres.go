package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const createDocumentsTable = `CREATE TABLE IF NOT EXISTS tokenrunner_documents (
	namespace  TEXT PRIMARY KEY,
	document   JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore keeps documents as JSONB rows
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects and creates the documents table if missing
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create connection to pg")
	}
	if _, err := pool.Exec(ctx, createDocumentsTable); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed to create documents table")
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Get(ctx context.Context, namespace string) ([]byte, error) {
	var doc []byte
	err := p.pool.QueryRow(ctx,
		`SELECT document::text FROM tokenrunner_documents WHERE namespace = $1`, namespace).Scan(&doc)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", namespace)
	}
	return doc, nil
}

func (p *PostgresStore) Set(ctx context.Context, namespace string, doc []byte) error {
	if err := validNamespace(namespace); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO tokenrunner_documents (namespace, document, updated_at)
		VALUES ($1, $2::jsonb, now())
		ON CONFLICT (namespace) DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`,
		namespace, string(doc))
	return errors.Wrapf(err, "failed to write %s", namespace)
}

func (p *PostgresStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT namespace FROM tokenrunner_documents WHERE starts_with(namespace, $1) ORDER BY namespace`, prefix)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list documents")
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return keys, errors.Wrap(err, "failed to scan namespaces")
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
