package utils

import (
	"fmt"
	"strings"

	"github.com/disgoorg/snowflake/v2"
)

// FormatUserMention formats a user ID as a Discord mention
func FormatUserMention(userID string) string {
	return fmt.Sprintf("<@%s>", userID)
}

// FormatRoleMention formats a role ID as a Discord mention
func FormatRoleMention(roleID string) string {
	return fmt.Sprintf("<@&%s>", roleID)
}

// ExtractUserIDFromMention extracts user ID from Discord mention
func ExtractUserIDFromMention(mention string) string {
	// Remove <@ and >
	userID := strings.TrimPrefix(mention, "<@")
	userID = strings.TrimSuffix(userID, ">")
	// Remove ! if present (for nickname mentions)
	userID = strings.TrimPrefix(userID, "!")
	return userID
}

// IsUserMention checks if a string is a valid user mention
func IsUserMention(text string) bool {
	return strings.HasPrefix(text, "<@") && !strings.HasPrefix(text, "<@&") && strings.HasSuffix(text, ">")
}

// ParseUserRef accepts a user mention or a raw user ID
func ParseUserRef(ref string) (string, bool) {
	if IsUserMention(ref) {
		ref = ExtractUserIDFromMention(ref)
	}
	return parseSnowflake(ref)
}

// ParseRoleRef accepts a role mention or a raw role ID
func ParseRoleRef(ref string) (string, bool) {
	if strings.HasPrefix(ref, "<@&") && strings.HasSuffix(ref, ">") {
		ref = strings.TrimSuffix(strings.TrimPrefix(ref, "<@&"), ">")
	}
	return parseSnowflake(ref)
}

func parseSnowflake(s string) (string, bool) {
	id, err := snowflake.Parse(s)
	if err != nil || id == 0 {
		return "", false
	}
	return id.String(), true
}

// FormatLeaderboardEntry formats a leaderboard entry with position, user, and XP
func FormatLeaderboardEntry(position int, userMention, xp string) string {
	medal := ""
	switch position {
	case 1:
		medal = "🥇"
	case 2:
		medal = "🥈"
	case 3:
		medal = "🥉"
	default:
		medal = fmt.Sprintf("%d.", position)
	}

	return fmt.Sprintf("%s %s - %s", medal, userMention, xp)
}

// TruncateString truncates a string to maxLen runes and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
