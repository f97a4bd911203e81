// Package sweep periodically checks that every active department still has
// a matching container on the staff platform and raises an alert when one
// has disappeared or been renamed.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/xaenox/modmail-bot/internal/models"
	"github.com/xaenox/modmail-bot/internal/platform"
	"go.uber.org/zap"
)

// DefaultSchedule runs the check every five minutes.
const DefaultSchedule = "*/5 * * * *"

// Store lists the departments to verify.
type Store interface {
	ListActiveCategories(ctx context.Context) ([]*models.Category, error)
}

// Alerter posts alerts to the staff.
type Alerter interface {
	Send(ctx context.Context, channelID string, p platform.Post) (string, error)
}

// Finding is one department out of sync with the platform.
type Finding struct {
	Category *models.Category
	// ActualName is empty when the container is missing.
	ActualName string
}

func (f Finding) Missing() bool {
	return f.ActualName == ""
}

type Sweeper struct {
	store        Store
	containers   platform.Containers
	alerter      Alerter
	alertChannel string
	schedule     string
	logger       *zap.Logger
	now          func() time.Time
}

// New validates schedule and returns a sweeper. Alerts are only logged when
// alertChannel is empty.
func New(store Store, containers platform.Containers, alerter Alerter, alertChannel, schedule string, logger *zap.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if !gronx.New().IsValid(schedule) {
		return nil, models.Validationf("invalid sweep schedule %q", schedule)
	}
	return &Sweeper{
		store:        store,
		containers:   containers,
		alerter:      alerter,
		alertChannel: alertChannel,
		schedule:     schedule,
		logger:       logger.Named("sweep"),
		now:          time.Now,
	}, nil
}

// Run checks on every tick of the schedule until ctx ends.
func (s *Sweeper) Run(ctx context.Context) error {
	for {
		next, err := gronx.NextTickAfter(s.schedule, s.now(), false)
		if err != nil {
			return fmt.Errorf("computing next sweep: %w", err)
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		if _, err := s.Check(ctx); err != nil {
			s.logger.Error("Category sweep failed", zap.Error(err))
		}
	}
}

// Check compares every active department with its container and alerts on
// each mismatch.
func (s *Sweeper) Check(ctx context.Context) ([]Finding, error) {
	cats, err := s.store.ListActiveCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing departments: %w", err)
	}

	var findings []Finding
	for _, cat := range cats {
		name, err := s.containers.ContainerName(ctx, cat.ID)
		switch {
		case errors.Is(err, models.ErrNotFound):
			findings = append(findings, Finding{Category: cat})
		case err != nil:
			s.logger.Warn("Failed to look up department container", zap.Error(err), zap.String("category_id", cat.ID))
		case !strings.EqualFold(name, cat.Name):
			findings = append(findings, Finding{Category: cat, ActualName: name})
		}
	}

	for _, f := range findings {
		s.alert(ctx, f)
	}
	s.logger.Debug("Category sweep done", zap.Int("checked", len(cats)), zap.Int("out_of_sync", len(findings)))
	return findings, nil
}

func (s *Sweeper) alert(ctx context.Context, f Finding) {
	body := fmt.Sprintf("Category %s is not correctly synced.\n\n**Category '%s' is named '%s' on the platform.**\n\nPlease fix this as soon as possible.",
		f.Category.ID, f.Category.Name, f.ActualName)
	if f.Missing() {
		body = fmt.Sprintf("Category %s is not correctly synced.\n\n**Category '%s' does not exist or isn't accessible by the bot.**\n\nPlease fix this as soon as possible.",
			f.Category.ID, f.Category.Name)
	}
	s.logger.Warn("Department out of sync",
		zap.String("category_id", f.Category.ID),
		zap.String("name", f.Category.Name),
		zap.String("actual_name", f.ActualName))

	if s.alertChannel == "" || s.alerter == nil {
		return
	}
	post := platform.Notice("Categories not correctly synced!", body)
	post.Timestamp = s.now()
	if _, err := s.alerter.Send(ctx, s.alertChannel, post); err != nil {
		s.logger.Error("Failed to post sweep alert", zap.Error(err), zap.String("channel_id", s.alertChannel))
	}
}
