package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"activityxp/internal/models"
	"activityxp/internal/ranks"
)

// Repository handles database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// GuildConfig loads the settings, ranks and rank roles of a guild, creating
// the settings row with defaults on first access.
func (r *Repository) GuildConfig(ctx context.Context, guildID string) (*models.GuildConfig, error) {
	if _, err := r.db.conn.ExecContext(ctx,
		`INSERT INTO guild_settings (guild_id) VALUES ($1) ON CONFLICT (guild_id) DO NOTHING`,
		guildID); err != nil {
		return nil, fmt.Errorf("failed to create guild settings: %w", err)
	}

	cfg := models.NewGuildConfig(guildID)
	var requiredRole sql.NullString
	err := r.db.conn.QueryRowContext(ctx,
		"SELECT chat_xp_per_message, voice_xp_per_minute, required_role_id FROM guild_settings WHERE guild_id = $1",
		guildID).Scan(&cfg.ChatXPPerMessage, &cfg.VoiceXPPerMinute, &requiredRole)
	if err != nil {
		return nil, fmt.Errorf("failed to get guild settings: %w", err)
	}
	cfg.RequiredRoleID = requiredRole.String

	if cfg.Ranks, err = r.loadTable(ctx, "SELECT threshold, name FROM guild_ranks WHERE guild_id = $1", guildID); err != nil {
		return nil, fmt.Errorf("failed to get ranks: %w", err)
	}
	if cfg.RankRoles, err = r.loadTable(ctx, "SELECT threshold, role_id FROM guild_rank_roles WHERE guild_id = $1", guildID); err != nil {
		return nil, fmt.Errorf("failed to get rank roles: %w", err)
	}

	return cfg, nil
}

func (r *Repository) loadTable(ctx context.Context, query, guildID string) (ranks.Table, error) {
	var table ranks.Table
	rows, err := r.db.conn.QueryContext(ctx, query, guildID)
	if err != nil {
		return table, err
	}
	defer rows.Close()

	for rows.Next() {
		var e ranks.Entry
		if err := rows.Scan(&e.Threshold, &e.Value); err != nil {
			log.Printf("Error scanning threshold row: %v", err)
			continue
		}
		table.Set(e.Threshold, e.Value)
	}
	return table, rows.Err()
}

// SetChatXP sets the XP granted per counted chat message
func (r *Repository) SetChatXP(ctx context.Context, guildID string, amount int64) error {
	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO guild_settings (guild_id, chat_xp_per_message) VALUES ($1, $2)
		ON CONFLICT (guild_id) DO UPDATE SET chat_xp_per_message = EXCLUDED.chat_xp_per_message`,
		guildID, amount)
	if err != nil {
		return fmt.Errorf("failed to set chat xp: %w", err)
	}
	return nil
}

// SetVoiceXP sets the XP granted per voice minute
func (r *Repository) SetVoiceXP(ctx context.Context, guildID string, amount int64) error {
	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO guild_settings (guild_id, voice_xp_per_minute) VALUES ($1, $2)
		ON CONFLICT (guild_id) DO UPDATE SET voice_xp_per_minute = EXCLUDED.voice_xp_per_minute`,
		guildID, amount)
	if err != nil {
		return fmt.Errorf("failed to set voice xp: %w", err)
	}
	return nil
}

// SetRequiredRole sets the role gating XP; an empty roleID clears it
func (r *Repository) SetRequiredRole(ctx context.Context, guildID, roleID string) error {
	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO guild_settings (guild_id, required_role_id) VALUES ($1, $2)
		ON CONFLICT (guild_id) DO UPDATE SET required_role_id = EXCLUDED.required_role_id`,
		guildID, sql.NullString{String: roleID, Valid: roleID != ""})
	if err != nil {
		return fmt.Errorf("failed to set required role: %w", err)
	}
	return nil
}

// SetRank upserts a rank name at a threshold
func (r *Repository) SetRank(ctx context.Context, guildID string, threshold int64, name string) error {
	if err := upsertRank(ctx, r.db.conn, guildID, threshold, name); err != nil {
		return fmt.Errorf("failed to set rank: %w", err)
	}
	return nil
}

// SetRanks upserts several ranks in one transaction
func (r *Repository) SetRanks(ctx context.Context, guildID string, entries []ranks.Entry) error {
	tx, err := r.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		if err := upsertRank(ctx, tx, guildID, e.Threshold, e.Value); err != nil {
			return fmt.Errorf("failed to set rank %d: %w", e.Threshold, err)
		}
	}
	return tx.Commit()
}

func upsertRank(ctx context.Context, ex execer, guildID string, threshold int64, name string) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO guild_ranks (guild_id, threshold, name) VALUES ($1, $2, $3)
		ON CONFLICT (guild_id, threshold) DO UPDATE SET name = EXCLUDED.name`,
		guildID, threshold, name)
	return err
}

// RemoveRank deletes the rank at a threshold and reports whether it existed
func (r *Repository) RemoveRank(ctx context.Context, guildID string, threshold int64) (bool, error) {
	res, err := r.db.conn.ExecContext(ctx,
		"DELETE FROM guild_ranks WHERE guild_id = $1 AND threshold = $2", guildID, threshold)
	if err != nil {
		return false, fmt.Errorf("failed to remove rank: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to remove rank: %w", err)
	}
	return n > 0, nil
}

// ClearRanks deletes every rank of a guild
func (r *Repository) ClearRanks(ctx context.Context, guildID string) error {
	if _, err := r.db.conn.ExecContext(ctx, "DELETE FROM guild_ranks WHERE guild_id = $1", guildID); err != nil {
		return fmt.Errorf("failed to clear ranks: %w", err)
	}
	return nil
}

// SetRankRole links a role to a threshold
func (r *Repository) SetRankRole(ctx context.Context, guildID string, threshold int64, roleID string) error {
	if err := upsertRankRole(ctx, r.db.conn, guildID, threshold, roleID); err != nil {
		return fmt.Errorf("failed to set rank role: %w", err)
	}
	return nil
}

func upsertRankRole(ctx context.Context, ex execer, guildID string, threshold int64, roleID string) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO guild_rank_roles (guild_id, threshold, role_id) VALUES ($1, $2, $3)
		ON CONFLICT (guild_id, threshold) DO UPDATE SET role_id = EXCLUDED.role_id`,
		guildID, threshold, roleID)
	return err
}

// RemoveRankRole unlinks the role at a threshold and reports whether one was linked
func (r *Repository) RemoveRankRole(ctx context.Context, guildID string, threshold int64) (bool, error) {
	res, err := r.db.conn.ExecContext(ctx,
		"DELETE FROM guild_rank_roles WHERE guild_id = $1 AND threshold = $2", guildID, threshold)
	if err != nil {
		return false, fmt.Errorf("failed to remove rank role: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to remove rank role: %w", err)
	}
	return n > 0, nil
}

// ApplySetup replaces ranks, rank roles and both rates in one transaction
func (r *Repository) ApplySetup(ctx context.Context, guildID string, result *models.SetupResult) error {
	tx, err := r.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO guild_settings (guild_id, chat_xp_per_message, voice_xp_per_minute) VALUES ($1, $2, $3)
		ON CONFLICT (guild_id) DO UPDATE SET
			chat_xp_per_message = EXCLUDED.chat_xp_per_message,
			voice_xp_per_minute = EXCLUDED.voice_xp_per_minute`,
		guildID, result.ChatXPPerMessage, result.VoiceXPPerMinute); err != nil {
		return fmt.Errorf("failed to store rates: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM guild_ranks WHERE guild_id = $1", guildID); err != nil {
		return fmt.Errorf("failed to clear ranks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM guild_rank_roles WHERE guild_id = $1", guildID); err != nil {
		return fmt.Errorf("failed to clear rank roles: %w", err)
	}

	for _, e := range result.RankEntries() {
		if err := upsertRank(ctx, tx, guildID, e.Threshold, e.Value); err != nil {
			return fmt.Errorf("failed to store rank %d: %w", e.Threshold, err)
		}
	}
	for _, e := range result.RoleEntries() {
		if err := upsertRankRole(ctx, tx, guildID, e.Threshold, e.Value); err != nil {
			return fmt.Errorf("failed to store rank role %d: %w", e.Threshold, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit setup: %w", err)
	}
	return nil
}

// Member gets a member's XP state, zero valued when the member has none yet
func (r *Repository) Member(ctx context.Context, guildID, userID string) (*models.MemberState, error) {
	m := &models.MemberState{GuildID: guildID, UserID: userID}
	var last sql.NullTime
	err := r.db.conn.QueryRowContext(ctx,
		"SELECT xp, last_message_at FROM member_xp WHERE guild_id = $1 AND user_id = $2",
		guildID, userID).Scan(&m.XP, &last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get member xp: %w", err)
	}
	if last.Valid {
		t := last.Time
		m.LastMessageAt = &t
	}
	return m, nil
}

// AwardChatXP adds chat XP, stamps the award time and returns the new total
func (r *Repository) AwardChatXP(ctx context.Context, guildID, userID string, amount int64, at time.Time) (int64, error) {
	var xp int64
	err := r.db.conn.QueryRowContext(ctx, `
		INSERT INTO member_xp (guild_id, user_id, xp, last_message_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (guild_id, user_id) DO UPDATE SET
			xp = member_xp.xp + EXCLUDED.xp,
			last_message_at = EXCLUDED.last_message_at
		RETURNING xp`,
		guildID, userID, amount, at.UTC()).Scan(&xp)
	if err != nil {
		return 0, fmt.Errorf("failed to award chat xp: %w", err)
	}
	return xp, nil
}

// AddXP adds XP without touching the chat cooldown and returns the new total
func (r *Repository) AddXP(ctx context.Context, guildID, userID string, amount int64) (int64, error) {
	var xp int64
	err := r.db.conn.QueryRowContext(ctx, `
		INSERT INTO member_xp (guild_id, user_id, xp) VALUES ($1, $2, $3)
		ON CONFLICT (guild_id, user_id) DO UPDATE SET xp = member_xp.xp + EXCLUDED.xp
		RETURNING xp`,
		guildID, userID, amount).Scan(&xp)
	if err != nil {
		return 0, fmt.Errorf("failed to add xp: %w", err)
	}
	return xp, nil
}

// TopMembers gets the members with the most XP in a guild
func (r *Repository) TopMembers(ctx context.Context, guildID string, limit int) ([]models.MemberState, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		"SELECT user_id, xp FROM member_xp WHERE guild_id = $1 AND xp > 0 ORDER BY xp DESC, user_id LIMIT $2",
		guildID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get top members: %w", err)
	}
	defer rows.Close()

	var members []models.MemberState
	for rows.Next() {
		m := models.MemberState{GuildID: guildID}
		if err := rows.Scan(&m.UserID, &m.XP); err != nil {
			log.Printf("Error scanning member row: %v", err)
			continue
		}
		members = append(members, m)
	}

	return members, rows.Err()
}
