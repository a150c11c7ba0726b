package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/startupx/market-engine/internal/model"
)

// PostgreSQL error codes
const (
	pgErrUniqueViolation = "23505" // unique_violation
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, q: pool}
}

var _ Store = (*PostgresStore)(nil)

// NewPool creates a connection pool and verifies it with a ping.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// pgErr maps driver errors onto the store sentinels.
func pgErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) && pe.Code == pgErrUniqueViolation {
		return fmt.Errorf("%s: %w", op, ErrDuplicateKey)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// --- Startups ---

const startupColumns = `id, name, description, website, sector, stage, batch, rating, rank, created_at`

func (s *PostgresStore) CreateStartup(ctx context.Context, st *model.Startup) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO startups (`+startupColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		st.ID, st.Name, st.Description, st.Website, st.Sector, st.Stage, st.Batch,
		st.Rating, st.Rank, st.CreatedAt,
	)
	return pgErr("create startup "+st.ID, err)
}

func (s *PostgresStore) GetStartup(ctx context.Context, id string) (*model.Startup, error) {
	row := s.q.QueryRow(ctx, `SELECT `+startupColumns+` FROM startups WHERE id = $1`, id)
	st, err := scanStartup(row)
	if err != nil {
		return nil, pgErr("get startup "+id, err)
	}
	return st, nil
}

func (s *PostgresStore) ListStartups(ctx context.Context, f StartupFilter) ([]model.Startup, error) {
	sql := `SELECT ` + startupColumns + ` FROM startups
		 WHERE ($1 = '' OR batch = $1)
		   AND (cardinality($2::TEXT[]) = 0 OR id = ANY($2))
		 ORDER BY id`
	ids := f.IDs
	if ids == nil {
		ids = []string{}
	}
	rows, err := s.q.Query(ctx, sql, f.Batch, ids)
	if err != nil {
		return nil, pgErr("list startups", err)
	}
	defer rows.Close()

	var out []model.Startup
	for rows.Next() {
		st, err := scanStartup(rows)
		if err != nil {
			return nil, pgErr("scan startup", err)
		}
		out = append(out, *st)
	}
	return out, pgErr("list startups", rows.Err())
}

func (s *PostgresStore) UpdateStartupRating(ctx context.Context, id string, rating float64) error {
	tag, err := s.q.Exec(ctx, `UPDATE startups SET rating = $2 WHERE id = $1`, id, rating)
	if err != nil {
		return pgErr("update rating "+id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("startup %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) UpdateStartupRank(ctx context.Context, id string, rank int) error {
	tag, err := s.q.Exec(ctx, `UPDATE startups SET rank = $2 WHERE id = $1`, id, rank)
	if err != nil {
		return pgErr("update rank "+id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("startup %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanStartup(row pgx.Row) (*model.Startup, error) {
	var st model.Startup
	var rank *int32
	if err := row.Scan(&st.ID, &st.Name, &st.Description, &st.Website, &st.Sector,
		&st.Stage, &st.Batch, &st.Rating, &rank, &st.CreatedAt); err != nil {
		return nil, err
	}
	if rank != nil {
		r := int(*rank)
		st.Rank = &r
	}
	return &st, nil
}

// --- Comparisons ---

func (s *PostgresStore) AppendComparison(ctx context.Context, c *model.Comparison) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO comparisons (id, user_id, startup_a_id, startup_b_id, chosen_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.UserID, c.StartupAID, c.StartupBID, c.ChosenID, c.CreatedAt,
	)
	return pgErr("append comparison "+c.ID, err)
}

func (s *PostgresStore) ListComparisons(ctx context.Context, f ComparisonFilter) ([]model.Comparison, error) {
	ids := f.StartupIDs
	if ids == nil {
		ids = []string{}
	}
	rows, err := s.q.Query(ctx,
		`SELECT id, user_id, startup_a_id, startup_b_id, chosen_id, created_at
		 FROM comparisons
		 WHERE ($1 = '' OR user_id = $1)
		   AND (cardinality($2::TEXT[]) = 0 OR startup_a_id = ANY($2) OR startup_b_id = ANY($2))
		 ORDER BY seq`, f.UserID, ids)
	if err != nil {
		return nil, pgErr("list comparisons", err)
	}
	defer rows.Close()

	var out []model.Comparison
	for rows.Next() {
		var c model.Comparison
		if err := rows.Scan(&c.ID, &c.UserID, &c.StartupAID, &c.StartupBID, &c.ChosenID, &c.CreatedAt); err != nil {
			return nil, pgErr("scan comparison", err)
		}
		out = append(out, c)
	}
	return out, pgErr("list comparisons", rows.Err())
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO users (id, balance, free_gifts, created_at)
		 VALUES ($1, $2::NUMERIC, $3, $4)`,
		u.ID, u.Balance.String(), u.FreeGifts, u.CreatedAt,
	)
	return pgErr("create user "+u.ID, err)
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	var balance string
	err := s.q.QueryRow(ctx,
		`SELECT id, balance::TEXT, free_gifts, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &balance, &u.FreeGifts, &u.CreatedAt)
	if err != nil {
		return nil, pgErr("get user "+id, err)
	}
	u.Balance, _ = decimal.NewFromString(balance)
	return &u, nil
}

func (s *PostgresStore) UpdateWallet(ctx context.Context, userID string, balance decimal.Decimal) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE users SET balance = $2::NUMERIC WHERE id = $1`, userID, balance.String())
	if err != nil {
		return pgErr("update wallet "+userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) UpdateFreeGifts(ctx context.Context, userID string, remaining int) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE users SET free_gifts = $2 WHERE id = $1`, userID, remaining)
	if err != nil {
		return pgErr("update free gifts "+userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}

// --- Positions ---

func (s *PostgresStore) GetPosition(ctx context.Context, userID, startupID string) (*model.Position, error) {
	var qty int64
	var avg string
	var p model.Position
	err := s.q.QueryRow(ctx,
		`SELECT quantity, average_cost::TEXT, updated_at
		 FROM positions WHERE user_id = $1 AND startup_id = $2`, userID, startupID).
		Scan(&qty, &avg, &p.UpdatedAt)
	if err != nil {
		return nil, pgErr(fmt.Sprintf("get position %s/%s", userID, startupID), err)
	}
	avgCost, _ := decimal.NewFromString(avg)
	out := model.PositionFromQuantity(userID, startupID, qty, avgCost)
	out.UpdatedAt = p.UpdatedAt
	return &out, nil
}

func (s *PostgresStore) UpsertPosition(ctx context.Context, p *model.Position) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO positions (user_id, startup_id, quantity, average_cost, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5)
		 ON CONFLICT (user_id, startup_id)
		 DO UPDATE SET quantity = EXCLUDED.quantity,
		               average_cost = EXCLUDED.average_cost,
		               updated_at = EXCLUDED.updated_at`,
		p.UserID, p.StartupID, p.Quantity(), p.AverageCost.String(), p.UpdatedAt,
	)
	return pgErr(fmt.Sprintf("upsert position %s/%s", p.UserID, p.StartupID), err)
}

func (s *PostgresStore) DeletePosition(ctx context.Context, userID, startupID string) error {
	_, err := s.q.Exec(ctx,
		`DELETE FROM positions WHERE user_id = $1 AND startup_id = $2`, userID, startupID)
	return pgErr(fmt.Sprintf("delete position %s/%s", userID, startupID), err)
}

func (s *PostgresStore) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.q.Query(ctx,
		`SELECT startup_id, quantity, average_cost::TEXT, updated_at
		 FROM positions WHERE user_id = $1 ORDER BY startup_id`, userID)
	if err != nil {
		return nil, pgErr("list positions "+userID, err)
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var startupID, avg string
		var qty int64
		var p model.Position
		if err := rows.Scan(&startupID, &qty, &avg, &p.UpdatedAt); err != nil {
			return nil, pgErr("scan position", err)
		}
		avgCost, _ := decimal.NewFromString(avg)
		pos := model.PositionFromQuantity(userID, startupID, qty, avgCost)
		pos.UpdatedAt = p.UpdatedAt
		out = append(out, pos)
	}
	return out, pgErr("list positions "+userID, rows.Err())
}

// --- Trades ---

func (s *PostgresStore) AppendTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO trades (id, user_id, startup_id, kind, quantity, price, total_value, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8)`,
		t.ID, t.UserID, t.StartupID, string(t.Kind), t.Quantity,
		t.Price.String(), t.TotalValue.String(), t.CreatedAt,
	)
	return pgErr("append trade "+t.ID, err)
}

func (s *PostgresStore) ListTrades(ctx context.Context, userID string) ([]model.Trade, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, user_id, startup_id, kind, quantity, price::TEXT, total_value::TEXT, created_at
		 FROM trades WHERE user_id = $1 ORDER BY seq`, userID)
	if err != nil {
		return nil, pgErr("list trades "+userID, err)
	}
	defer rows.Close()

	var out []model.Trade
	for rows.Next() {
		var t model.Trade
		var kind, price, total string
		if err := rows.Scan(&t.ID, &t.UserID, &t.StartupID, &kind, &t.Quantity,
			&price, &total, &t.CreatedAt); err != nil {
			return nil, pgErr("scan trade", err)
		}
		t.Kind = model.TradeKind(kind)
		t.Price, _ = decimal.NewFromString(price)
		t.TotalValue, _ = decimal.NewFromString(total)
		out = append(out, t)
	}
	return out, pgErr("list trades "+userID, rows.Err())
}

// --- Transactions ---

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return pgErr("begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&PostgresStore{pool: s.pool, q: tx, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return pgErr("commit transaction", err)
	}
	return nil
}

func (s *PostgresStore) LockUser(ctx context.Context, userID string) error {
	if !s.inTx {
		return nil
	}
	var id string
	err := s.q.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&id)
	return pgErr("lock user "+userID, err)
}

func (s *PostgresStore) LockStartups(ctx context.Context, ids ...string) error {
	if !s.inTx || len(ids) == 0 {
		return nil
	}
	rows, err := s.q.Query(ctx,
		`SELECT id FROM startups WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return pgErr("lock startups", err)
	}
	defer rows.Close()
	for rows.Next() {
	}
	return pgErr("lock startups", rows.Err())
}
