package discord

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"activityxp/internal/activity"
	"activityxp/internal/config"
	"activityxp/internal/database"
	"activityxp/internal/setup"
)

// handlerTimeout bounds the work done for one gateway event.
const handlerTimeout = 15 * time.Second

// Bot represents the Discord bot
type Bot struct {
	session    *discordgo.Session
	repository *database.Repository
	guild      *guildAPI
	engine     *activity.Engine
	commands   *CommandHandler
	waiters    *waiters
	prefix     string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Discord bot
func New(cfg *config.Config, repository *database.Repository) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent

	ctx, cancel := context.WithCancel(context.Background())
	guild := newGuildAPI(session)
	bot := &Bot{
		session:    session,
		repository: repository,
		guild:      guild,
		engine:     activity.New(repository, guild, activity.WithVoiceInterval(cfg.VoiceTick)),
		waiters:    newWaiters(),
		prefix:     cfg.CommandPrefix,
		ctx:        ctx,
		cancel:     cancel,
	}
	bot.commands = NewCommandHandler(repository, guild, guild, bot, cfg.CommandPrefix)

	// Add event handlers
	session.AddHandler(bot.guildCreate)
	session.AddHandler(bot.voiceStateUpdate)
	session.AddHandler(bot.messageCreate)

	return bot, nil
}

// Start starts the bot
func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	fmt.Println("✅ Bot is running...")
	return nil
}

// Stop cancels open setups and voice tickers, then closes the connection.
func (b *Bot) Stop() error {
	b.cancel()
	b.engine.Shutdown()
	b.wg.Wait()
	return b.session.Close()
}

// guildCreate picks up members who were already talking when the bot connected.
func (b *Bot) guildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	channels := make(map[string][]string)
	for _, vs := range g.VoiceStates {
		if vs.ChannelID != "" {
			channels[vs.ChannelID] = append(channels[vs.ChannelID], vs.UserID)
		}
	}

	for channelID, users := range channels {
		for _, userID := range users {
			if _, tracked := b.engine.Tracking(g.ID, userID); tracked {
				continue
			}
			b.engine.HandleVoiceState(g.ID, userID, "", channelID)
		}
	}
	log.Printf("✅ Guild ready: %s (%d voice channels in use)", g.Name, len(channels))
}

// voiceStateUpdate handles voice state updates
func (b *Bot) voiceStateUpdate(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	before := ""
	if vs.BeforeUpdate != nil {
		before = vs.BeforeUpdate.ChannelID
	}

	switch {
	case before == "" && vs.ChannelID != "":
		fmt.Printf("➡️ Join: %s channel=%s\n", vs.UserID, vs.ChannelID)
	case before != "" && vs.ChannelID == "":
		fmt.Printf("⬅️ Leave: %s channel=%s\n", vs.UserID, before)
	}

	b.engine.HandleVoiceState(vs.GuildID, vs.UserID, before, vs.ChannelID)
}

// messageCreate handles message creation events
func (b *Bot) messageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, handlerTimeout)
	defer cancel()

	answered := b.waiters.deliver(m.ChannelID, m.Author.ID, setup.Reply{
		Content: m.Content,
		RoleIDs: m.MentionRoles,
	})

	if err := b.engine.HandleMessage(ctx, m.GuildID, m.Author.ID, m.Author.Bot); err != nil {
		log.Printf("Error awarding chat XP to %s in %s: %v", m.Author.ID, m.GuildID, err)
	}

	if answered {
		return
	}
	if cmd, ok := ParseCommand(b.prefix, m.Content); ok {
		cmd.GuildID = m.GuildID
		cmd.ChannelID = m.ChannelID
		cmd.AuthorID = m.Author.ID
		b.commands.Handle(ctx, cmd)
	}
}

// LaunchSetup runs the setup wizard in the background.
func (b *Bot) LaunchSetup(guildID, channelID, userID string) bool {
	replies, ok := b.waiters.register(channelID, userID)
	if !ok {
		return false
	}

	conv := &conversation{sender: b.guild, channelID: channelID, replies: replies}
	wizard := setup.New(guildID, conv, b.guild, b.repository)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.waiters.release(channelID, userID)

		log.Printf("[setup] started by %s in %s", userID, guildID)
		result, err := wizard.Run(b.ctx)
		switch {
		case err == nil:
			log.Printf("[setup] %s configured %d ranks, top rank at %d XP", guildID, len(result.Thresholds), result.TotalXP)
		case errors.Is(err, setup.ErrCancelled), errors.Is(err, setup.ErrInvalidInput), errors.Is(err, setup.ErrForbidden):
			log.Printf("[setup] aborted in %s: %v", guildID, err)
		default:
			log.Printf("[setup] failed in %s: %v", guildID, err)
		}
	}()
	return true
}
