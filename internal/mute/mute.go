// Package mute keeps the per-user suppress list consulted before a user's
// messages are relayed.
package mute

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xaenox/modmail-bot/internal/models"
	"go.uber.org/zap"
)

// Hours per unit. Months and years are fixed lengths; the arithmetic is
// additive and ignores calendars.
var hoursPerUnit = map[string]int{
	"h": 1, "hour": 1, "hours": 1,
	"d": 24, "day": 24, "days": 24,
	"w": 168, "week": 168, "weeks": 168,
	"m": 730, "month": 730, "months": 730,
	"y": 8766, "year": 8766, "years": 8766,
}

// maxHours is the longest duration time.Duration can hold, in hours.
const maxHours = int(math.MaxInt64 / int64(time.Hour))

// ParseDuration sums whitespace-separated <integer><unit> tokens such as
// "1w 2d" or "12hours".
func ParseDuration(text string) (time.Duration, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0, models.Validationf("empty duration")
	}

	total := 0
	for _, field := range fields {
		i := 0
		for i < len(field) && field[i] >= '0' && field[i] <= '9' {
			i++
		}
		if i == 0 || i == len(field) {
			return 0, models.Validationf("duration %q must look like 2d or 12h", field)
		}
		n, err := strconv.Atoi(field[:i])
		if err != nil {
			return 0, models.Validationf("duration %q: %v", field, err)
		}
		hours, ok := hoursPerUnit[strings.ToLower(field[i:])]
		if !ok {
			return 0, models.Validationf("unknown duration unit %q", field[i:])
		}
		if n > maxHours/hours || total > maxHours-n*hours {
			return 0, models.Validationf("duration %q is too long", text)
		}
		total += n * hours
	}
	if total == 0 {
		return 0, models.Validationf("duration %q is zero", text)
	}
	return time.Duration(total) * time.Hour, nil
}

// Store is the persistence the guard needs.
type Store interface {
	UpsertMute(ctx context.Context, rec *models.MuteRecord) error
	ClearMute(ctx context.Context, userID string) error
	GetMute(ctx context.Context, userID string) (*models.MuteRecord, error)
	ListMutes(ctx context.Context, activeOnly bool) ([]*models.MuteRecord, error)
}

type Guard struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func NewGuard(store Store, logger *zap.Logger) *Guard {
	return &Guard{store: store, logger: logger.Named("mute"), now: time.Now}
}

// Mute suppresses userID. An empty durationText mutes indefinitely.
func (g *Guard) Mute(ctx context.Context, userID, issuerID, durationText string) (*models.MuteRecord, error) {
	now := g.now().UTC()
	rec := &models.MuteRecord{
		UserID:  userID,
		Active:  true,
		MutedBy: issuerID,
		MutedAt: now,
	}
	if strings.TrimSpace(durationText) != "" {
		d, err := ParseDuration(durationText)
		if err != nil {
			return nil, err
		}
		until := now.Add(d)
		rec.MutedUntil = &until
	}

	if err := g.store.UpsertMute(ctx, rec); err != nil {
		return nil, fmt.Errorf("muting user %s: %w", userID, err)
	}
	g.logger.Info("Muted user",
		zap.String("user_id", userID),
		zap.String("muted_by", issuerID),
		zap.Timep("muted_until", rec.MutedUntil))
	return rec, nil
}

// Unmute clears the active flag and keeps the record.
func (g *Guard) Unmute(ctx context.Context, userID string) error {
	if err := g.store.ClearMute(ctx, userID); err != nil {
		return fmt.Errorf("unmuting user %s: %w", userID, err)
	}
	g.logger.Info("Unmuted user", zap.String("user_id", userID))
	return nil
}

// IsMuted returns the stored record; models.ErrNotFound means unknown.
func (g *Guard) IsMuted(ctx context.Context, userID string) (*models.MuteRecord, error) {
	return g.store.GetMute(ctx, userID)
}

// Active lists mutes still flagged active.
func (g *Guard) Active(ctx context.Context) ([]*models.MuteRecord, error) {
	return g.store.ListMutes(ctx, true)
}

// All lists every mute record, active or not.
func (g *Guard) All(ctx context.Context) ([]*models.MuteRecord, error) {
	return g.store.ListMutes(ctx, false)
}

// Allow reports whether userID may open or continue a conversation.
func (g *Guard) Allow(ctx context.Context, userID string) (bool, error) {
	rec, err := g.store.GetMute(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return !rec.InEffect(g.now()), nil
}
