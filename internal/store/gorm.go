package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/startupx/market-engine/internal/model"
)

// Row types for GORM. Money is kept as decimal strings so SQLite never
// rounds through float.

type startupRow struct {
	ID          string `gorm:"primaryKey"`
	Name        string `gorm:"not null"`
	Description string
	Website     string
	Sector      string
	Stage       string
	Batch       string  `gorm:"index"`
	Rating      float64 `gorm:"not null;default:1500"`
	Rank        *int
	CreatedAt   time.Time
}

func (startupRow) TableName() string { return "startups" }

type comparisonRow struct {
	Seq        uint   `gorm:"primaryKey;autoIncrement"`
	ID         string `gorm:"uniqueIndex;not null"`
	UserID     string `gorm:"index;not null"`
	StartupAID string `gorm:"column:startup_a_id;not null"`
	StartupBID string `gorm:"column:startup_b_id;not null"`
	ChosenID   string `gorm:"not null"`
	CreatedAt  time.Time
}

func (comparisonRow) TableName() string { return "comparisons" }

type userRow struct {
	ID        string `gorm:"primaryKey"`
	Balance   string `gorm:"not null"`
	FreeGifts int    `gorm:"not null;default:0"`
	CreatedAt time.Time
}

func (userRow) TableName() string { return "users" }

type positionRow struct {
	UserID      string `gorm:"primaryKey"`
	StartupID   string `gorm:"primaryKey"`
	Quantity    int64  `gorm:"not null"`
	AverageCost string `gorm:"not null"`
	UpdatedAt   time.Time
}

func (positionRow) TableName() string { return "positions" }

type tradeRow struct {
	Seq        uint   `gorm:"primaryKey;autoIncrement"`
	ID         string `gorm:"uniqueIndex;not null"`
	UserID     string `gorm:"index;not null"`
	StartupID  string `gorm:"not null"`
	Kind       string `gorm:"not null"`
	Quantity   int64  `gorm:"not null"`
	Price      string `gorm:"not null"`
	TotalValue string `gorm:"not null"`
	CreatedAt  time.Time
}

func (tradeRow) TableName() string { return "trades" }

// GormStore implements Store on GORM, over SQLite for embedded and
// development deployments or PostgreSQL.
type GormStore struct {
	db   *gorm.DB
	inTx bool
}

var _ Store = (*GormStore)(nil)

// NewGormStore wraps an open GORM handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// OpenSQLite opens (or creates) a SQLite database and migrates it. Use
// ":memory:" for a throwaway database.
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// One connection: ":memory:" databases are per-connection and SQLite
	// serializes writers anyway.
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// OpenGormPostgres opens PostgreSQL through GORM and migrates it.
func OpenGormPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates every table the engine uses.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&startupRow{},
		&comparisonRow{},
		&userRow{},
		&positionRow{},
		&tradeRow{},
	); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func gormErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s: %w", op, ErrDuplicateKey)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
}

func (s *GormStore) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// --- Startups ---

func (s *GormStore) CreateStartup(ctx context.Context, st *model.Startup) error {
	row := startupRow{
		ID: st.ID, Name: st.Name, Description: st.Description, Website: st.Website,
		Sector: st.Sector, Stage: st.Stage, Batch: st.Batch,
		Rating: st.Rating, Rank: st.Rank, CreatedAt: st.CreatedAt,
	}
	return gormErr("create startup "+st.ID, s.conn(ctx).Create(&row).Error)
}

func (s *GormStore) GetStartup(ctx context.Context, id string) (*model.Startup, error) {
	var row startupRow
	if err := s.conn(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, gormErr("get startup "+id, err)
	}
	st := row.toModel()
	return &st, nil
}

func (s *GormStore) ListStartups(ctx context.Context, f StartupFilter) ([]model.Startup, error) {
	q := s.conn(ctx).Model(&startupRow{})
	if f.Batch != "" {
		q = q.Where("batch = ?", f.Batch)
	}
	if len(f.IDs) > 0 {
		q = q.Where("id IN ?", f.IDs)
	}
	var rows []startupRow
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, gormErr("list startups", err)
	}
	out := make([]model.Startup, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (s *GormStore) UpdateStartupRating(ctx context.Context, id string, rating float64) error {
	res := s.conn(ctx).Model(&startupRow{}).Where("id = ?", id).Update("rating", rating)
	if res.Error != nil {
		return gormErr("update rating "+id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("startup %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *GormStore) UpdateStartupRank(ctx context.Context, id string, rank int) error {
	res := s.conn(ctx).Model(&startupRow{}).Where("id = ?", id).Update("rank", rank)
	if res.Error != nil {
		return gormErr("update rank "+id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("startup %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r startupRow) toModel() model.Startup {
	return model.Startup{
		ID: r.ID, Name: r.Name, Description: r.Description, Website: r.Website,
		Sector: r.Sector, Stage: r.Stage, Batch: r.Batch,
		Rating: r.Rating, Rank: r.Rank, CreatedAt: r.CreatedAt,
	}
}

// --- Comparisons ---

func (s *GormStore) AppendComparison(ctx context.Context, c *model.Comparison) error {
	row := comparisonRow{
		ID: c.ID, UserID: c.UserID, StartupAID: c.StartupAID, StartupBID: c.StartupBID,
		ChosenID: c.ChosenID, CreatedAt: c.CreatedAt,
	}
	return gormErr("append comparison "+c.ID, s.conn(ctx).Create(&row).Error)
}

func (s *GormStore) ListComparisons(ctx context.Context, f ComparisonFilter) ([]model.Comparison, error) {
	q := s.conn(ctx).Model(&comparisonRow{})
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if len(f.StartupIDs) > 0 {
		q = q.Where("startup_a_id IN ? OR startup_b_id IN ?", f.StartupIDs, f.StartupIDs)
	}
	var rows []comparisonRow
	if err := q.Order("seq").Find(&rows).Error; err != nil {
		return nil, gormErr("list comparisons", err)
	}
	out := make([]model.Comparison, len(rows))
	for i, r := range rows {
		out[i] = model.Comparison{
			ID: r.ID, UserID: r.UserID, StartupAID: r.StartupAID, StartupBID: r.StartupBID,
			ChosenID: r.ChosenID, CreatedAt: r.CreatedAt,
		}
	}
	return out, nil
}

// --- Users ---

func (s *GormStore) CreateUser(ctx context.Context, u *model.User) error {
	row := userRow{ID: u.ID, Balance: u.Balance.String(), FreeGifts: u.FreeGifts, CreatedAt: u.CreatedAt}
	return gormErr("create user "+u.ID, s.conn(ctx).Create(&row).Error)
}

func (s *GormStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var row userRow
	if err := s.conn(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, gormErr("get user "+id, err)
	}
	balance, _ := decimal.NewFromString(row.Balance)
	return &model.User{ID: row.ID, Balance: balance, FreeGifts: row.FreeGifts, CreatedAt: row.CreatedAt}, nil
}

func (s *GormStore) UpdateWallet(ctx context.Context, userID string, balance decimal.Decimal) error {
	res := s.conn(ctx).Model(&userRow{}).Where("id = ?", userID).Update("balance", balance.String())
	if res.Error != nil {
		return gormErr("update wallet "+userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}

func (s *GormStore) UpdateFreeGifts(ctx context.Context, userID string, remaining int) error {
	res := s.conn(ctx).Model(&userRow{}).Where("id = ?", userID).Update("free_gifts", remaining)
	if res.Error != nil {
		return gormErr("update free gifts "+userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}

// --- Positions ---

func (s *GormStore) GetPosition(ctx context.Context, userID, startupID string) (*model.Position, error) {
	var row positionRow
	err := s.conn(ctx).Where("user_id = ? AND startup_id = ?", userID, startupID).First(&row).Error
	if err != nil {
		return nil, gormErr(fmt.Sprintf("get position %s/%s", userID, startupID), err)
	}
	p := row.toModel()
	return &p, nil
}

func (s *GormStore) UpsertPosition(ctx context.Context, p *model.Position) error {
	row := positionRow{
		UserID: p.UserID, StartupID: p.StartupID, Quantity: p.Quantity(),
		AverageCost: p.AverageCost.String(), UpdatedAt: p.UpdatedAt,
	}
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "startup_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"quantity", "average_cost", "updated_at"}),
	}).Create(&row).Error
	return gormErr(fmt.Sprintf("upsert position %s/%s", p.UserID, p.StartupID), err)
}

func (s *GormStore) DeletePosition(ctx context.Context, userID, startupID string) error {
	err := s.conn(ctx).Where("user_id = ? AND startup_id = ?", userID, startupID).Delete(&positionRow{}).Error
	return gormErr(fmt.Sprintf("delete position %s/%s", userID, startupID), err)
}

func (s *GormStore) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	var rows []positionRow
	if err := s.conn(ctx).Where("user_id = ?", userID).Order("startup_id").Find(&rows).Error; err != nil {
		return nil, gormErr("list positions "+userID, err)
	}
	out := make([]model.Position, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (r positionRow) toModel() model.Position {
	avg, _ := decimal.NewFromString(r.AverageCost)
	p := model.PositionFromQuantity(r.UserID, r.StartupID, r.Quantity, avg)
	p.UpdatedAt = r.UpdatedAt
	return p
}

// --- Trades ---

func (s *GormStore) AppendTrade(ctx context.Context, t *model.Trade) error {
	row := tradeRow{
		ID: t.ID, UserID: t.UserID, StartupID: t.StartupID, Kind: string(t.Kind),
		Quantity: t.Quantity, Price: t.Price.String(), TotalValue: t.TotalValue.String(),
		CreatedAt: t.CreatedAt,
	}
	return gormErr("append trade "+t.ID, s.conn(ctx).Create(&row).Error)
}

func (s *GormStore) ListTrades(ctx context.Context, userID string) ([]model.Trade, error) {
	var rows []tradeRow
	if err := s.conn(ctx).Where("user_id = ?", userID).Order("seq").Find(&rows).Error; err != nil {
		return nil, gormErr("list trades "+userID, err)
	}
	out := make([]model.Trade, len(rows))
	for i, r := range rows {
		price, _ := decimal.NewFromString(r.Price)
		total, _ := decimal.NewFromString(r.TotalValue)
		out[i] = model.Trade{
			ID: r.ID, UserID: r.UserID, StartupID: r.StartupID, Kind: model.TradeKind(r.Kind),
			Quantity: r.Quantity, Price: price, TotalValue: total, CreatedAt: r.CreatedAt,
		}
	}
	return out, nil
}

// --- Transactions ---

func (s *GormStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, inTx: true})
	})
}

// supportsRowLocks is false for SQLite, which locks the whole database
// for the duration of a write transaction instead.
func (s *GormStore) supportsRowLocks() bool {
	return s.db.Dialector.Name() != "sqlite"
}

func (s *GormStore) LockUser(ctx context.Context, userID string) error {
	if !s.inTx {
		return nil
	}
	q := s.conn(ctx)
	if s.supportsRowLocks() {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row userRow
	err := q.Select("id").Where("id = ?", userID).First(&row).Error
	return gormErr("lock user "+userID, err)
}

func (s *GormStore) LockStartups(ctx context.Context, ids ...string) error {
	if !s.inTx || len(ids) == 0 || !s.supportsRowLocks() {
		return nil
	}
	var rows []startupRow
	err := s.conn(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").Where("id IN ?", ids).Order("id").Find(&rows).Error
	return gormErr("lock startups", err)
}
