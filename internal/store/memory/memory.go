// Package memory is an in-process Store used for development, simulations
// and tests. A single mutex serialises every mutation, which makes each
// conditional update trivially atomic; transactions keep an undo log so a
// failed unit of work leaves no trace.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/logger"
	"github.com/shopspring/decimal"

	"lootfan/internal/apperrors"
	"lootfan/internal/models"
	"lootfan/internal/store"
)

type fanCampaign struct {
	fanID      string
	campaignID string
}

type idemKey struct {
	fanID string
	key   string
}

// Store keeps all loot box state in maps guarded by one RWMutex.
type Store struct {
	mu          sync.RWMutex
	campaigns   map[string]*models.Campaign
	catalogs    map[string][]*models.Prize // Key: campaignID, ordered by position
	prizes      map[string]*models.Prize   // Key: prizeID
	balances    map[fanCampaign]*models.CreditBalance
	freeSpins   map[fanCampaign]models.FreeSpin
	records     map[string][]models.DrawRecord // Key: campaignID
	idempotency map[idemKey]*models.IdempotencyRecord
	now         func() time.Time
}

var _ store.Store = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{
		campaigns:   make(map[string]*models.Campaign),
		catalogs:    make(map[string][]*models.Prize),
		prizes:      make(map[string]*models.Prize),
		balances:    make(map[fanCampaign]*models.CreditBalance),
		freeSpins:   make(map[fanCampaign]models.FreeSpin),
		records:     make(map[string][]models.DrawRecord),
		idempotency: make(map[idemKey]*models.IdempotencyRecord),
		now:         time.Now,
	}
}

// SaveCampaign creates or replaces a campaign and its catalog.
func (s *Store) SaveCampaign(ctx context.Context, campaign *models.Campaign, prizes []models.Prize) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCampaign(campaign, prizes)
	return nil
}

func (s *Store) saveCampaign(campaign *models.Campaign, prizes []models.Prize) {
	for _, old := range s.catalogs[campaign.ID] {
		delete(s.prizes, old.ID)
	}
	c := *campaign
	now := s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.campaigns[c.ID] = &c

	catalog := make([]*models.Prize, 0, len(prizes))
	for i, p := range prizes {
		p.CampaignID = c.ID
		p.Position = i
		stored := p
		catalog = append(catalog, &stored)
		s.prizes[stored.ID] = &stored
	}
	s.catalogs[c.ID] = catalog
	logger.Infof("memory: saved campaign %s with %d prizes", c.ID, len(catalog))
}

// SeedCampaign inserts the campaign if it is unknown, otherwise only the
// prizes it does not hold yet.
func (s *Store) SeedCampaign(ctx context.Context, campaign *models.Campaign, prizes []models.Prize) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.campaigns[campaign.ID]; !ok {
		s.saveCampaign(campaign, prizes)
		return true, nil
	}
	for i, p := range prizes {
		if _, ok := s.prizes[p.ID]; ok {
			continue
		}
		p.CampaignID = campaign.ID
		p.Position = i
		stored := p
		s.prizes[stored.ID] = &stored
		s.catalogs[campaign.ID] = append(s.catalogs[campaign.ID], &stored)
	}
	return false, nil
}

// Campaign returns a copy of the campaign.
func (s *Store) Campaign(ctx context.Context, campaignID string) (*models.Campaign, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.campaigns[campaignID]
	if !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeNotFound, "campaign not found", map[string]string{"campaign_id": campaignID})
	}
	cp := *c
	return &cp, nil
}

// Prizes returns a snapshot of the catalog.
func (s *Store) Prizes(ctx context.Context, campaignID string) ([]models.Prize, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.campaigns[campaignID]; !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeNotFound, "campaign not found", map[string]string{"campaign_id": campaignID})
	}
	out := make([]models.Prize, 0, len(s.catalogs[campaignID]))
	for _, p := range s.catalogs[campaignID] {
		out = append(out, *p)
	}
	return out, nil
}

// Balance returns the fan's credit balance.
func (s *Store) Balance(ctx context.Context, fanID, campaignID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if b, ok := s.balances[fanCampaign{fanID, campaignID}]; ok {
		return b.Balance, nil
	}
	return 0, nil
}

// FreeSpin returns the outstanding entitlement, or nil.
func (s *Store) FreeSpin(ctx context.Context, fanID, campaignID string) (*models.FreeSpin, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	fs, ok := s.freeSpins[fanCampaign{fanID, campaignID}]
	if !ok {
		return nil, nil
	}
	return &fs, nil
}

// Records returns a copy of the campaign ledger.
func (s *Store) Records(ctx context.Context, campaignID string) ([]models.DrawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.DrawRecord(nil), s.records[campaignID]...), nil
}

// ReserveIdempotencyKey inserts a pending reservation unless the key exists.
func (s *Store) ReserveIdempotencyKey(ctx context.Context, rec models.IdempotencyRecord) (*models.IdempotencyRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := idemKey{rec.FanID, rec.Key}
	if existing, ok := s.idempotency[k]; ok {
		cp := *existing
		return &cp, false, nil
	}
	now := s.now()
	rec.Status = models.IdempotencyPending
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.idempotency[k] = &rec
	return nil, true, nil
}

// ReleaseIdempotencyKey removes a pending reservation.
func (s *Store) ReleaseIdempotencyKey(ctx context.Context, fanID, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := idemKey{fanID, key}
	if rec, ok := s.idempotency[k]; ok && rec.Status == models.IdempotencyPending {
		delete(s.idempotency, k)
	}
	return nil
}

// CleanUpStaleReservations drops pending idempotency reservations older than
// maxAge, which are left behind by requests that died mid-flight.
func (s *Store) CleanUpStaleReservations(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, rec := range s.idempotency {
		if rec.Status == models.IdempotencyPending && s.now().Sub(rec.CreatedAt) > maxAge {
			delete(s.idempotency, k)
			removed++
		}
	}
	if removed > 0 {
		logger.Infof("memory: removed %d stale idempotency reservations", removed)
	}
	return removed
}

// WithinTx runs fn while holding the write lock. Calling Store methods from
// fn deadlocks; use tx instead.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{s: s}
	defer func() {
		if r := recover(); r != nil {
			t.rollback()
			panic(r)
		}
	}()
	if err := fn(t); err != nil {
		t.rollback()
		return err
	}
	return nil
}

// tx applies mutations directly and remembers how to revert them.
type tx struct {
	s    *Store
	undo []func()
}

var _ store.Tx = (*tx)(nil)

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *tx) AddCredits(ctx context.Context, fanID, campaignID string, n int) (int, error) {
	if n <= 0 {
		return 0, apperrors.New(apperrors.CodeInvalidArgument, "credit quantity must be positive")
	}
	k := fanCampaign{fanID, campaignID}
	b, ok := t.s.balances[k]
	if !ok {
		b = &models.CreditBalance{FanID: fanID, CampaignID: campaignID}
		t.s.balances[k] = b
		t.undo = append(t.undo, func() { delete(t.s.balances, k) })
	} else {
		prev := *b
		t.undo = append(t.undo, func() { *b = prev })
	}
	b.Balance += n
	b.UpdatedAt = t.s.now()
	return b.Balance, nil
}

func (t *tx) Balance(ctx context.Context, fanID, campaignID string) (int, error) {
	if b, ok := t.s.balances[fanCampaign{fanID, campaignID}]; ok {
		return b.Balance, nil
	}
	return 0, nil
}

func (t *tx) ConsumeCredit(ctx context.Context, fanID, campaignID string) (int, error) {
	b, ok := t.s.balances[fanCampaign{fanID, campaignID}]
	if !ok || b.Balance < 1 {
		return 0, apperrors.WithMetadata(apperrors.CodeInsufficientCredit, "no credit left",
			map[string]string{"fan_id": fanID, "campaign_id": campaignID})
	}
	prev := *b
	t.undo = append(t.undo, func() { *b = prev })
	b.Balance--
	b.UpdatedAt = t.s.now()
	return b.Balance, nil
}

func (t *tx) DecrementStock(ctx context.Context, prizeID string) (int, error) {
	p, ok := t.s.prizes[prizeID]
	if !ok {
		return 0, apperrors.WithMetadata(apperrors.CodeNotFound, "prize not found", map[string]string{"prize_id": prizeID})
	}
	if p.Unlimited() {
		return p.Stock, nil
	}
	if p.Stock <= 0 {
		return 0, apperrors.WithMetadata(apperrors.CodeStockExhausted, "prize sold out", map[string]string{"prize_id": prizeID})
	}
	p.Stock--
	t.undo = append(t.undo, func() { p.Stock++ })
	return p.Stock, nil
}

func (t *tx) AppendRecord(ctx context.Context, rec *models.DrawRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = t.s.now()
	}
	campaignID := rec.CampaignID
	n := len(t.s.records[campaignID])
	t.s.records[campaignID] = append(t.s.records[campaignID], *rec)
	t.undo = append(t.undo, func() { t.s.records[campaignID] = t.s.records[campaignID][:n] })
	return nil
}

func (t *tx) AddCampaignTotals(ctx context.Context, campaignID string, spins int64, revenue decimal.Decimal) error {
	c, ok := t.s.campaigns[campaignID]
	if !ok {
		return apperrors.WithMetadata(apperrors.CodeNotFound, "campaign not found", map[string]string{"campaign_id": campaignID})
	}
	prevSpins, prevRevenue := c.TotalSpins, c.TotalRevenue
	t.undo = append(t.undo, func() { c.TotalSpins, c.TotalRevenue = prevSpins, prevRevenue })
	c.TotalSpins += spins
	c.TotalRevenue = c.TotalRevenue.Add(revenue)
	return nil
}

func (t *tx) GrantFreeSpin(ctx context.Context, fs models.FreeSpin) error {
	k := fanCampaign{fs.FanID, fs.CampaignID}
	if _, ok := t.s.freeSpins[k]; ok {
		return apperrors.WithMetadata(apperrors.CodeFreeSpinOutstanding, "free spin already granted",
			map[string]string{"fan_id": fs.FanID, "campaign_id": fs.CampaignID})
	}
	if fs.GrantedAt.IsZero() {
		fs.GrantedAt = t.s.now()
	}
	t.s.freeSpins[k] = fs
	t.undo = append(t.undo, func() { delete(t.s.freeSpins, k) })
	return nil
}

func (t *tx) TakeFreeSpin(ctx context.Context, fanID, campaignID string) (*models.FreeSpin, error) {
	k := fanCampaign{fanID, campaignID}
	fs, ok := t.s.freeSpins[k]
	if !ok {
		return nil, nil
	}
	delete(t.s.freeSpins, k)
	t.undo = append(t.undo, func() { t.s.freeSpins[k] = fs })
	return &fs, nil
}

func (t *tx) CompleteIdempotencyKey(ctx context.Context, fanID, key string, response []byte) error {
	rec, ok := t.s.idempotency[idemKey{fanID, key}]
	if !ok || rec.Status != models.IdempotencyPending {
		return apperrors.New(apperrors.CodeConcurrentModification, "idempotency reservation lost")
	}
	prev := *rec
	t.undo = append(t.undo, func() { *rec = prev })
	rec.Status = models.IdempotencyDone
	rec.Response = append([]byte(nil), response...)
	rec.UpdatedAt = t.s.now()
	return nil
}
