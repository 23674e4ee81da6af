package activity

import (
	"context"
	"fmt"

	"activityxp/internal/ranks"
)

// RankUpReason is the audit log reason attached to rank role changes.
const RankUpReason = "Rank up"

// PlanRoles reconciles a member's rank-tier roles against the table: every
// tier role the member holds other than the highest qualifying one is
// removed, and the highest qualifying one is added if missing. Roles for
// which exists reports false are ignored; roles outside the table are never
// touched.
func PlanRoles(table ranks.Table, xp int64, held []string, exists func(roleID string) bool) (add, remove []string) {
	if table.Len() == 0 {
		return nil, nil
	}

	var highest string
	if e, ok := table.Highest(xp); ok {
		highest = e.Value
	}

	has := make(map[string]bool, len(held))
	for _, id := range held {
		has[id] = true
	}

	seen := make(map[string]bool)
	for _, e := range table.Entries() {
		roleID := e.Value
		if seen[roleID] {
			continue
		}
		seen[roleID] = true
		if !exists(roleID) {
			continue
		}
		switch {
		case has[roleID] && roleID != highest:
			remove = append(remove, roleID)
		case !has[roleID] && roleID == highest:
			add = append(add, roleID)
		}
	}
	return add, remove
}

// SyncRoles brings the member's rank roles in line with xp using at most one
// remove call and one add call.
func (e *Engine) SyncRoles(ctx context.Context, guildID, userID string, table ranks.Table, xp int64) error {
	if table.Len() == 0 {
		return nil
	}

	held, err := e.guild.MemberRoles(guildID, userID)
	if err != nil {
		return fmt.Errorf("failed to get member roles: %w", err)
	}

	add, remove := PlanRoles(table, xp, held, func(roleID string) bool {
		return e.guild.RoleExists(guildID, roleID)
	})

	if len(remove) > 0 {
		if err := e.guild.RemoveRoles(guildID, userID, remove, RankUpReason); err != nil {
			return fmt.Errorf("failed to remove rank roles: %w", err)
		}
	}
	if len(add) > 0 {
		if err := e.guild.AddRoles(guildID, userID, add, RankUpReason); err != nil {
			return fmt.Errorf("failed to add rank roles: %w", err)
		}
	}
	return nil
}
