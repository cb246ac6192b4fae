package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/OpenSourceInternetV2/grimwire/internal/store/migrations"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

const pgUniqueViolation = "23505"

// Postgres is the production Accounts implementation.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects to the database, verifies the connection, and
// applies any pending schema migrations.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Postgres{db: db}, nil
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) GetUser(ctx context.Context, id string) (*User, error) {
	const query = `
		SELECT id, password_hash, email, trusted_peers, created_at
		FROM users
		WHERE id = $1`

	row := p.db.QueryRowContext(ctx, query, id)
	return scanUser(row)
}

func (p *Postgres) GetUsers(ctx context.Context) ([]*User, error) {
	const query = `
		SELECT id, password_hash, email, trusted_peers, created_at
		FROM users
		ORDER BY id`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return out, nil
}

func (p *Postgres) CreateUser(ctx context.Context, user *User) error {
	const query = `
		INSERT INTO users (id, password_hash, email, trusted_peers)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	peers, err := json.Marshal(trustedOrEmpty(user.TrustedPeers))
	if err != nil {
		return fmt.Errorf("encode trusted peers: %w", err)
	}

	err = p.db.QueryRowContext(ctx, query, user.ID, user.PasswordHash, user.Email, peers).
		Scan(&user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateUser(ctx context.Context, id string, upd Update) error {
	if upd.TrustedPeers == nil {
		return nil
	}

	const query = `
		UPDATE users
		SET trusted_peers = $2
		WHERE id = $1`

	peers, err := json.Marshal(trustedOrEmpty(upd.TrustedPeers))
	if err != nil {
		return fmt.Errorf("encode trusted peers: %w", err)
	}

	res, err := p.db.ExecContext(ctx, query, id, peers)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u     User
		peers []byte
	)
	err := row.Scan(&u.ID, &u.PasswordHash, &u.Email, &peers, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if err := json.Unmarshal(peers, &u.TrustedPeers); err != nil {
		return nil, fmt.Errorf("decode trusted peers for %s: %w", u.ID, err)
	}
	return &u, nil
}

// trustedOrEmpty keeps the jsonb column a JSON array rather than null.
func trustedOrEmpty(peers []string) []string {
	if peers == nil {
		return []string{}
	}
	return peers
}
