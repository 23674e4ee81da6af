package discord

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"activityxp/internal/models"
	"activityxp/internal/ranks"
	"activityxp/pkg/utils"
)

const (
	// leaderboardSize is how many members the top command lists.
	leaderboardSize = 10
	// maxRankNameLen caps rank names, in characters.
	maxRankNameLen = 100
)

// Store is the guild and member state the commands read and write.
type Store interface {
	GuildConfig(ctx context.Context, guildID string) (*models.GuildConfig, error)
	Member(ctx context.Context, guildID, userID string) (*models.MemberState, error)
	TopMembers(ctx context.Context, guildID string, limit int) ([]models.MemberState, error)
	SetChatXP(ctx context.Context, guildID string, amount int64) error
	SetVoiceXP(ctx context.Context, guildID string, amount int64) error
	SetRequiredRole(ctx context.Context, guildID, roleID string) error
	SetRank(ctx context.Context, guildID string, threshold int64, name string) error
	SetRanks(ctx context.Context, guildID string, entries []ranks.Entry) error
	RemoveRank(ctx context.Context, guildID string, threshold int64) (bool, error)
	ClearRanks(ctx context.Context, guildID string) error
	SetRankRole(ctx context.Context, guildID string, threshold int64, roleID string) error
	RemoveRankRole(ctx context.Context, guildID string, threshold int64) (bool, error)
}

// Directory answers questions about guild members and roles.
type Directory interface {
	IsAdmin(guildID, channelID, userID string) bool
	RoleExists(guildID, roleID string) bool
	DisplayName(guildID, userID string) string
}

// MessageSender posts plain text to a channel.
type MessageSender interface {
	Send(channelID, content string) error
}

// SetupLauncher starts the setup wizard for an administrator. It returns
// false when that administrator already has a wizard open in the channel.
type SetupLauncher interface {
	LaunchSetup(guildID, channelID, userID string) bool
}

// Command is one parsed prefix command.
type Command struct {
	GuildID   string
	ChannelID string
	AuthorID  string
	Name      string   // subcommand, lowercased; "" for a bare prefix
	Args      []string // whitespace separated arguments
	Rest      string   // raw text after the subcommand
}

// ParseCommand parses content addressed to the bot, e.g. "!xp setrank 100 Bronze".
// ok is false when content is not a command.
func ParseCommand(prefix, content string) (cmd Command, ok bool) {
	content = strings.TrimSpace(content)
	fields := strings.Fields(content)
	if len(fields) == 0 || !strings.EqualFold(fields[0], prefix+"xp") {
		return Command{}, false
	}
	if len(fields) == 1 {
		return cmd, true
	}
	// "!xp @member" is short for "!xp xp @member"
	if utils.IsUserMention(fields[1]) {
		cmd.Name = "xp"
		cmd.Args = fields[1:]
		cmd.Rest = strings.Join(cmd.Args, " ")
		return cmd, true
	}

	cmd.Name = strings.ToLower(fields[1])
	cmd.Args = fields[2:]
	rest := strings.TrimSpace(content[len(fields[0]):])
	cmd.Rest = strings.TrimSpace(rest[len(fields[1]):])
	return cmd, true
}

// CommandHandler processes bot prefix commands.
type CommandHandler struct {
	store  Store
	dir    Directory
	sender MessageSender
	setup  SetupLauncher
	prefix string
}

// NewCommandHandler creates a command handler.
func NewCommandHandler(store Store, dir Directory, sender MessageSender, setup SetupLauncher, prefix string) *CommandHandler {
	return &CommandHandler{
		store:  store,
		dir:    dir,
		sender: sender,
		setup:  setup,
		prefix: prefix,
	}
}

var adminCommands = map[string]bool{
	"setchatxp":       true,
	"setvoicexp":      true,
	"setrank":         true,
	"removerank":      true,
	"bulkranks":       true,
	"clearranks":      true,
	"setrankrole":     true,
	"removerankrole":  true,
	"setrequiredrole": true,
	"setup":           true,
}

// Handle dispatches a parsed command.
func (h *CommandHandler) Handle(ctx context.Context, cmd Command) {
	if cmd.GuildID == "" {
		return
	}
	if adminCommands[cmd.Name] && !h.dir.IsAdmin(cmd.GuildID, cmd.ChannelID, cmd.AuthorID) {
		h.reply(cmd, "You need the Manage Server permission to use this command.")
		return
	}

	var err error
	switch cmd.Name {
	case "", "xp":
		err = h.cmdXP(ctx, cmd)
	case "top":
		err = h.cmdTop(ctx, cmd)
	case "setchatxp":
		err = h.cmdSetRate(ctx, cmd, h.store.SetChatXP, "Set chat XP per message to %d.")
	case "setvoicexp":
		err = h.cmdSetRate(ctx, cmd, h.store.SetVoiceXP, "Set voice XP per minute to %d.")
	case "setrank":
		err = h.cmdSetRank(ctx, cmd)
	case "removerank":
		err = h.cmdRemoveRank(ctx, cmd)
	case "bulkranks":
		err = h.cmdBulkRanks(ctx, cmd)
	case "clearranks":
		if err = h.store.ClearRanks(ctx, cmd.GuildID); err == nil {
			h.reply(cmd, "All ranks have been cleared.")
		}
	case "ranks":
		err = h.cmdRanks(ctx, cmd)
	case "setrankrole":
		err = h.cmdSetRankRole(ctx, cmd)
	case "removerankrole":
		err = h.cmdRemoveRankRole(ctx, cmd)
	case "rankroles":
		err = h.cmdRankRoles(ctx, cmd)
	case "setrequiredrole":
		err = h.cmdSetRequiredRole(ctx, cmd)
	case "requiredrole":
		err = h.cmdRequiredRole(ctx, cmd)
	case "setup":
		if !h.setup.LaunchSetup(cmd.GuildID, cmd.ChannelID, cmd.AuthorID) {
			h.reply(cmd, "A setup is already running for you in this channel.")
		}
	case "help":
		h.reply(cmd, h.helpText())
	default:
		h.reply(cmd, fmt.Sprintf("Unknown command. Try `%sxp help`.", h.prefix))
	}

	if err != nil {
		log.Printf("Error handling command %q in guild %s: %v", cmd.Name, cmd.GuildID, err)
		h.reply(cmd, "Something went wrong, please try again later.")
	}
}

func (h *CommandHandler) reply(cmd Command, content string) {
	if err := h.sender.Send(cmd.ChannelID, content); err != nil {
		log.Printf("Error sending message to %s: %v", cmd.ChannelID, err)
	}
}

func (h *CommandHandler) usage(cmd Command, args string) {
	h.reply(cmd, fmt.Sprintf("Usage: `%sxp %s %s`", h.prefix, cmd.Name, args))
}

// parseXP parses a non-negative XP amount or threshold.
func parseXP(s string) (int64, bool) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

func (h *CommandHandler) cmdXP(ctx context.Context, cmd Command) error {
	userID := cmd.AuthorID
	if len(cmd.Args) > 0 {
		id, ok := utils.ParseUserRef(cmd.Args[0])
		if !ok {
			h.usage(cmd, "[@member]")
			return nil
		}
		userID = id
	}

	cfg, err := h.store.GuildConfig(ctx, cmd.GuildID)
	if err != nil {
		return err
	}
	member, err := h.store.Member(ctx, cmd.GuildID, userID)
	if err != nil {
		return err
	}

	rank := ranks.Resolve(cfg.Ranks, member.XP)
	h.reply(cmd, fmt.Sprintf("**%s** has **%s** and is ranked **%s**.",
		h.dir.DisplayName(cmd.GuildID, userID), utils.FormatXP(member.XP), rank))
	return nil
}

func (h *CommandHandler) cmdTop(ctx context.Context, cmd Command) error {
	members, err := h.store.TopMembers(ctx, cmd.GuildID, leaderboardSize)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		h.reply(cmd, "Nobody has earned XP yet.")
		return nil
	}

	lines := make([]string, 0, len(members)+1)
	lines = append(lines, "**Leaderboard:**")
	for i, m := range members {
		lines = append(lines, utils.FormatLeaderboardEntry(i+1, utils.FormatUserMention(m.UserID), utils.FormatXP(m.XP)))
	}
	h.reply(cmd, strings.Join(lines, "\n"))
	return nil
}

func (h *CommandHandler) cmdSetRate(ctx context.Context, cmd Command, set func(context.Context, string, int64) error, format string) error {
	if len(cmd.Args) != 1 {
		h.usage(cmd, "<amount>")
		return nil
	}
	amount, ok := parseXP(cmd.Args[0])
	if !ok {
		h.reply(cmd, "Please give a whole number of 0 or more.")
		return nil
	}
	if err := set(ctx, cmd.GuildID, amount); err != nil {
		return err
	}
	h.reply(cmd, fmt.Sprintf(format, amount))
	return nil
}

func (h *CommandHandler) cmdSetRank(ctx context.Context, cmd Command) error {
	if len(cmd.Args) < 2 {
		h.usage(cmd, "<xp> <name>")
		return nil
	}
	threshold, ok := parseXP(cmd.Args[0])
	if !ok {
		h.reply(cmd, "Please give a whole number of 0 or more.")
		return nil
	}
	name := strings.TrimSpace(cmd.Rest[len(cmd.Args[0]):])
	name = utils.TruncateString(name, maxRankNameLen)

	if err := h.store.SetRank(ctx, cmd.GuildID, threshold, name); err != nil {
		return err
	}
	h.reply(cmd, fmt.Sprintf("Set rank '%s' for %d XP.", name, threshold))
	return nil
}

func (h *CommandHandler) cmdRemoveRank(ctx context.Context, cmd Command) error {
	if len(cmd.Args) != 1 {
		h.usage(cmd, "<xp>")
		return nil
	}
	threshold, ok := parseXP(cmd.Args[0])
	if !ok {
		h.reply(cmd, "Please give a whole number of 0 or more.")
		return nil
	}
	removed, err := h.store.RemoveRank(ctx, cmd.GuildID, threshold)
	if err != nil {
		return err
	}
	if !removed {
		h.reply(cmd, "No rank at that XP threshold.")
		return nil
	}
	h.reply(cmd, fmt.Sprintf("Removed rank for %d XP.", threshold))
	return nil
}

func (h *CommandHandler) cmdBulkRanks(ctx context.Context, cmd Command) error {
	entries := ranks.ParseBulk(cmd.Rest)
	if len(entries) == 0 {
		h.reply(cmd, "No valid ranks provided.")
		return nil
	}
	for i := range entries {
		entries[i].Value = utils.TruncateString(entries[i].Value, maxRankNameLen)
	}
	if err := h.store.SetRanks(ctx, cmd.GuildID, entries); err != nil {
		return err
	}

	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = fmt.Sprintf("%d: %s", e.Threshold, e.Value)
	}
	h.reply(cmd, "Added ranks:\n"+strings.Join(lines, "\n"))
	return nil
}

func (h *CommandHandler) cmdRanks(ctx context.Context, cmd Command) error {
	cfg, err := h.store.GuildConfig(ctx, cmd.GuildID)
	if err != nil {
		return err
	}
	if cfg.Ranks.Len() == 0 {
		h.reply(cmd, "No ranks set.")
		return nil
	}

	var lines []string
	for _, e := range cfg.Ranks.Entries() {
		lines = append(lines, fmt.Sprintf("%d XP: %s", e.Threshold, e.Value))
	}
	h.reply(cmd, "**Ranks:**\n"+strings.Join(lines, "\n"))
	return nil
}

func (h *CommandHandler) cmdSetRankRole(ctx context.Context, cmd Command) error {
	if len(cmd.Args) != 2 {
		h.usage(cmd, "<xp> <@role>")
		return nil
	}
	threshold, ok := parseXP(cmd.Args[0])
	if !ok {
		h.reply(cmd, "Please give a whole number of 0 or more.")
		return nil
	}
	roleID, ok := utils.ParseRoleRef(cmd.Args[1])
	if !ok || !h.dir.RoleExists(cmd.GuildID, roleID) {
		h.reply(cmd, "I can't find that role.")
		return nil
	}

	if err := h.store.SetRankRole(ctx, cmd.GuildID, threshold, roleID); err != nil {
		return err
	}
	h.reply(cmd, fmt.Sprintf("Linked %s to %d XP.", utils.FormatRoleMention(roleID), threshold))
	return nil
}

func (h *CommandHandler) cmdRemoveRankRole(ctx context.Context, cmd Command) error {
	if len(cmd.Args) != 1 {
		h.usage(cmd, "<xp>")
		return nil
	}
	threshold, ok := parseXP(cmd.Args[0])
	if !ok {
		h.reply(cmd, "Please give a whole number of 0 or more.")
		return nil
	}
	removed, err := h.store.RemoveRankRole(ctx, cmd.GuildID, threshold)
	if err != nil {
		return err
	}
	if !removed {
		h.reply(cmd, "No role linked to that XP threshold.")
		return nil
	}
	h.reply(cmd, fmt.Sprintf("Removed role link for %d XP.", threshold))
	return nil
}

func (h *CommandHandler) cmdRankRoles(ctx context.Context, cmd Command) error {
	cfg, err := h.store.GuildConfig(ctx, cmd.GuildID)
	if err != nil {
		return err
	}
	if cfg.RankRoles.Len() == 0 {
		h.reply(cmd, "No rank roles set.")
		return nil
	}

	var lines []string
	for _, e := range cfg.RankRoles.Entries() {
		if h.dir.RoleExists(cmd.GuildID, e.Value) {
			lines = append(lines, fmt.Sprintf("%d XP: %s", e.Threshold, utils.FormatRoleMention(e.Value)))
		} else {
			lines = append(lines, fmt.Sprintf("%d XP: (role not found)", e.Threshold))
		}
	}
	h.reply(cmd, "**Rank Roles:**\n"+strings.Join(lines, "\n"))
	return nil
}

func (h *CommandHandler) cmdSetRequiredRole(ctx context.Context, cmd Command) error {
	if len(cmd.Args) == 0 {
		if err := h.store.SetRequiredRole(ctx, cmd.GuildID, ""); err != nil {
			return err
		}
		h.reply(cmd, "No role is now required to earn XP.")
		return nil
	}

	roleID, ok := utils.ParseRoleRef(cmd.Args[0])
	if !ok || !h.dir.RoleExists(cmd.GuildID, roleID) {
		h.reply(cmd, "I can't find that role.")
		return nil
	}
	if err := h.store.SetRequiredRole(ctx, cmd.GuildID, roleID); err != nil {
		return err
	}
	h.reply(cmd, fmt.Sprintf("Users must have %s to earn XP.", utils.FormatRoleMention(roleID)))
	return nil
}

func (h *CommandHandler) cmdRequiredRole(ctx context.Context, cmd Command) error {
	cfg, err := h.store.GuildConfig(ctx, cmd.GuildID)
	if err != nil {
		return err
	}
	if cfg.RequiredRoleID != "" && h.dir.RoleExists(cmd.GuildID, cfg.RequiredRoleID) {
		h.reply(cmd, fmt.Sprintf("Users must have %s to earn XP.", utils.FormatRoleMention(cfg.RequiredRoleID)))
		return nil
	}
	h.reply(cmd, "No role is currently required to earn XP.")
	return nil
}

func (h *CommandHandler) helpText() string {
	p := h.prefix + "xp"
	return strings.Join([]string{
		"**ActivityXP commands:**",
		fmt.Sprintf("`%s [@member]` - show XP and rank", p),
		fmt.Sprintf("`%s top` - leaderboard", p),
		fmt.Sprintf("`%s ranks` - list ranks", p),
		fmt.Sprintf("`%s rankroles` - list rank roles", p),
		fmt.Sprintf("`%s requiredrole` - show the role needed to earn XP", p),
		"**Admin:**",
		fmt.Sprintf("`%s setchatxp <n>` / `%s setvoicexp <n>`", p, p),
		fmt.Sprintf("`%s setrank <xp> <name>` / `%s removerank <xp>`", p, p),
		fmt.Sprintf("`%s bulkranks <xp:name, ...>` / `%s clearranks`", p, p),
		fmt.Sprintf("`%s setrankrole <xp> <@role>` / `%s removerankrole <xp>`", p, p),
		fmt.Sprintf("`%s setrequiredrole [@role]`", p),
		fmt.Sprintf("`%s setup` - guided rank setup", p),
	}, "\n")
}
