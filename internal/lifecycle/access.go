package lifecycle

import (
	"context"
	"fmt"
	"slices"

	"github.com/xaenox/modmail-bot/internal/models"
)

// Authorize checks that requesterID may open conversations in cat. Members
// match the access list by id or by any group they hold in the department's
// group. An empty list admits only admins.
func (s *Service) Authorize(ctx context.Context, cat *models.Category, requesterID string) error {
	if len(cat.AccessList) == 0 {
		if slices.Contains(s.opts.Admins, requesterID) {
			return nil
		}
		return fmt.Errorf("%w: %s is restricted to admins", models.ErrPermission, cat.Name)
	}
	if slices.Contains(cat.AccessList, requesterID) {
		return nil
	}

	groups, err := s.staff.MemberGroups(ctx, cat.GroupID, requesterID)
	if err != nil {
		return fmt.Errorf("loading groups of %s: %w", requesterID, err)
	}
	for _, g := range groups {
		if slices.Contains(cat.AccessList, g) {
			return nil
		}
	}
	return fmt.Errorf("%w: no access to %s", models.ErrPermission, cat.Name)
}
