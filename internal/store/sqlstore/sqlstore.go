// Package sqlstore persists the loot box state through gorm, on PostgreSQL in
// production and on SQLite for local runs and tests.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/logger"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"lootfan/internal/apperrors"
	"lootfan/internal/config"
	"lootfan/internal/models"
	"lootfan/internal/store"
)

// Store implements store.Store on top of a gorm connection.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

var (
	_ store.Store              = (*Store)(nil)
	_ store.ReservationJanitor = (*Store)(nil)
)

// Open connects to the database selected by driver.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case config.DriverPostgres:
		dialector = postgres.Open(dsn)
	case config.DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driver, err)
	}
	if driver == config.DriverSQLite {
		// SQLite allows a single writer; one connection avoids SQLITE_BUSY
		// and keeps ":memory:" databases shared.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	logger.Infof("sqlstore: connected to %s", driver)
	return db, nil
}

// New wraps an open connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// AutoMigrate creates or updates every table the store uses.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(
		&models.Campaign{},
		&models.Prize{},
		&models.CreditBalance{},
		&models.FreeSpin{},
		&models.DrawRecord{},
		&models.IdempotencyRecord{},
	); err != nil {
		return fmt.Errorf("sqlstore: auto-migrate: %w", err)
	}
	logger.Info("sqlstore: auto migration completed")
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(what, key, id string) error {
	return apperrors.WithMetadata(apperrors.CodeNotFound, what+" not found", map[string]string{key: id})
}

// classify maps driver errors onto the error codes callers act on.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperrors.Wrap(apperrors.CodeConcurrentModification, "duplicate key", err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03", "23505":
			return apperrors.Wrap(apperrors.CodeConcurrentModification, "transaction conflict", err)
		}
		return err
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") {
		return apperrors.Wrap(apperrors.CodeConcurrentModification, "database busy", err)
	}
	return err
}

// SaveCampaign upserts the campaign and replaces its catalog, stock included.
func (s *Store) SaveCampaign(ctx context.Context, campaign *models.Campaign, prizes []models.Prize) error {
	err := s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		if err := gtx.Save(campaign).Error; err != nil {
			return err
		}
		if err := gtx.Where("campaign_id = ?", campaign.ID).Delete(&models.Prize{}).Error; err != nil {
			return err
		}
		if len(prizes) == 0 {
			return nil
		}
		rows := make([]models.Prize, len(prizes))
		for i, p := range prizes {
			p.CampaignID = campaign.ID
			p.Position = i
			rows[i] = p
		}
		return gtx.Create(&rows).Error
	})
	if err != nil {
		return classify(err)
	}
	logger.Infof("sqlstore: saved campaign %s with %d prizes", campaign.ID, len(prizes))
	return nil
}

// SeedCampaign inserts what is missing and never overwrites a row.
func (s *Store) SeedCampaign(ctx context.Context, campaign *models.Campaign, prizes []models.Prize) (bool, error) {
	created := false
	err := s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		c := *campaign
		res := gtx.Clauses(clause.OnConflict{DoNothing: true}).Create(&c)
		if res.Error != nil {
			return res.Error
		}
		created = res.RowsAffected > 0
		if len(prizes) == 0 {
			return nil
		}
		rows := make([]models.Prize, len(prizes))
		for i, p := range prizes {
			p.CampaignID = campaign.ID
			p.Position = i
			rows[i] = p
		}
		return gtx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	})
	if err != nil {
		return false, classify(err)
	}
	if created {
		logger.Infof("sqlstore: seeded campaign %s with %d prizes", campaign.ID, len(prizes))
	}
	return created, nil
}

func (s *Store) Campaign(ctx context.Context, campaignID string) (*models.Campaign, error) {
	var c models.Campaign
	err := s.db.WithContext(ctx).First(&c, "id = ?", campaignID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("campaign", "campaign_id", campaignID)
	}
	if err != nil {
		return nil, classify(err)
	}
	return &c, nil
}

func (s *Store) Prizes(ctx context.Context, campaignID string) ([]models.Prize, error) {
	if _, err := s.Campaign(ctx, campaignID); err != nil {
		return nil, err
	}
	var prizes []models.Prize
	if err := s.db.WithContext(ctx).Where("campaign_id = ?", campaignID).Order("position ASC").Find(&prizes).Error; err != nil {
		return nil, classify(err)
	}
	return prizes, nil
}

func (s *Store) Balance(ctx context.Context, fanID, campaignID string) (int, error) {
	var b models.CreditBalance
	err := s.db.WithContext(ctx).First(&b, "fan_id = ? AND campaign_id = ?", fanID, campaignID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, classify(err)
	}
	return b.Balance, nil
}

func (s *Store) FreeSpin(ctx context.Context, fanID, campaignID string) (*models.FreeSpin, error) {
	var fs models.FreeSpin
	err := s.db.WithContext(ctx).First(&fs, "fan_id = ? AND campaign_id = ?", fanID, campaignID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &fs, nil
}

func (s *Store) Records(ctx context.Context, campaignID string) ([]models.DrawRecord, error) {
	var recs []models.DrawRecord
	if err := s.db.WithContext(ctx).Where("campaign_id = ?", campaignID).Order("created_at ASC").Order("id ASC").Find(&recs).Error; err != nil {
		return nil, classify(err)
	}
	return recs, nil
}

func (s *Store) ReserveIdempotencyKey(ctx context.Context, rec models.IdempotencyRecord) (*models.IdempotencyRecord, bool, error) {
	now := s.now()
	rec.Status = models.IdempotencyPending
	rec.CreatedAt = now
	rec.UpdatedAt = now

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if res.Error != nil {
		return nil, false, classify(res.Error)
	}
	if res.RowsAffected == 1 {
		return nil, true, nil
	}

	var existing models.IdempotencyRecord
	if err := s.db.WithContext(ctx).First(&existing, "fan_id = ? AND idem_key = ?", rec.FanID, rec.Key).Error; err != nil {
		// The holder released it between our insert and read.
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, apperrors.New(apperrors.CodeConcurrentModification, "idempotency reservation raced")
		}
		return nil, false, classify(err)
	}
	return &existing, false, nil
}

func (s *Store) ReleaseIdempotencyKey(ctx context.Context, fanID, key string) error {
	err := s.db.WithContext(ctx).
		Where("fan_id = ? AND idem_key = ? AND status = ?", fanID, key, models.IdempotencyPending).
		Delete(&models.IdempotencyRecord{}).Error
	return classify(err)
}

// CleanUpStaleReservations deletes pending reservations older than maxAge.
func (s *Store) CleanUpStaleReservations(maxAge time.Duration) int {
	res := s.db.
		Where("status = ? AND created_at < ?", models.IdempotencyPending, s.now().Add(-maxAge)).
		Delete(&models.IdempotencyRecord{})
	if res.Error != nil {
		logger.Errorf("sqlstore: clean up stale reservations: %v", res.Error)
		return 0
	}
	if res.RowsAffected > 0 {
		logger.Infof("sqlstore: removed %d stale idempotency reservations", res.RowsAffected)
	}
	return int(res.RowsAffected)
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	err := s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(&tx{db: gtx, now: s.now})
	})
	return classify(err)
}

type tx struct {
	db  *gorm.DB
	now func() time.Time
}

var _ store.Tx = (*tx)(nil)

func (t *tx) AddCredits(ctx context.Context, fanID, campaignID string, n int) (int, error) {
	if n <= 0 {
		return 0, apperrors.New(apperrors.CodeInvalidArgument, "credit quantity must be positive")
	}
	now := t.now()
	row := models.CreditBalance{FanID: fanID, CampaignID: campaignID, Balance: n, UpdatedAt: now}
	err := t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "fan_id"}, {Name: "campaign_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"balance":    gorm.Expr("credit_balances.balance + ?", n),
			"updated_at": now,
		}),
	}).Create(&row).Error
	if err != nil {
		return 0, classify(err)
	}
	return t.Balance(ctx, fanID, campaignID)
}

func (t *tx) ConsumeCredit(ctx context.Context, fanID, campaignID string) (int, error) {
	res := t.db.WithContext(ctx).Model(&models.CreditBalance{}).
		Where("fan_id = ? AND campaign_id = ? AND balance >= 1", fanID, campaignID).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance - 1"),
			"updated_at": t.now(),
		})
	if res.Error != nil {
		return 0, classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, apperrors.WithMetadata(apperrors.CodeInsufficientCredit, "no credit left",
			map[string]string{"fan_id": fanID, "campaign_id": campaignID})
	}
	return t.Balance(ctx, fanID, campaignID)
}

func (t *tx) Balance(ctx context.Context, fanID, campaignID string) (int, error) {
	var b models.CreditBalance
	err := t.db.WithContext(ctx).First(&b, "fan_id = ? AND campaign_id = ?", fanID, campaignID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, classify(err)
	}
	return b.Balance, nil
}

func (t *tx) DecrementStock(ctx context.Context, prizeID string) (int, error) {
	res := t.db.WithContext(ctx).Model(&models.Prize{}).
		Where("id = ? AND stock > 0", prizeID).
		Update("stock", gorm.Expr("stock - 1"))
	if res.Error != nil {
		return 0, classify(res.Error)
	}

	var p models.Prize
	err := t.db.WithContext(ctx).Select("id", "stock").First(&p, "id = ?", prizeID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, notFound("prize", "prize_id", prizeID)
	}
	if err != nil {
		return 0, classify(err)
	}
	if res.RowsAffected == 1 || p.Unlimited() {
		return p.Stock, nil
	}
	return 0, apperrors.WithMetadata(apperrors.CodeStockExhausted, "prize sold out", map[string]string{"prize_id": prizeID})
}

func (t *tx) AppendRecord(ctx context.Context, rec *models.DrawRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = t.now()
	}
	return classify(t.db.WithContext(ctx).Create(rec).Error)
}

func (t *tx) AddCampaignTotals(ctx context.Context, campaignID string, spins int64, revenue decimal.Decimal) error {
	res := t.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ?", campaignID).
		Updates(map[string]any{
			"total_spins":   gorm.Expr("total_spins + ?", spins),
			"total_revenue": gorm.Expr("total_revenue + ?", revenue),
			"updated_at":    t.now(),
		})
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("campaign", "campaign_id", campaignID)
	}
	return nil
}

func (t *tx) GrantFreeSpin(ctx context.Context, fs models.FreeSpin) error {
	if fs.GrantedAt.IsZero() {
		fs.GrantedAt = t.now()
	}
	res := t.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&fs)
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.WithMetadata(apperrors.CodeFreeSpinOutstanding, "free spin already granted",
			map[string]string{"fan_id": fs.FanID, "campaign_id": fs.CampaignID})
	}
	return nil
}

func (t *tx) TakeFreeSpin(ctx context.Context, fanID, campaignID string) (*models.FreeSpin, error) {
	var fs models.FreeSpin
	err := t.db.WithContext(ctx).First(&fs, "fan_id = ? AND campaign_id = ?", fanID, campaignID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	res := t.db.WithContext(ctx).Where("fan_id = ? AND campaign_id = ?", fanID, campaignID).Delete(&models.FreeSpin{})
	if res.Error != nil {
		return nil, classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperrors.New(apperrors.CodeConcurrentModification, "free spin taken concurrently")
	}
	return &fs, nil
}

func (t *tx) CompleteIdempotencyKey(ctx context.Context, fanID, key string, response []byte) error {
	res := t.db.WithContext(ctx).Model(&models.IdempotencyRecord{}).
		Where("fan_id = ? AND idem_key = ? AND status = ?", fanID, key, models.IdempotencyPending).
		Updates(map[string]any{
			"status":     models.IdempotencyDone,
			"response":   datatypes.JSON(response),
			"updated_at": t.now(),
		})
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.New(apperrors.CodeConcurrentModification, "idempotency reservation lost")
	}
	return nil
}
