package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"
)

// Bot wires the Discord session to the guild players.
type Bot struct {
	session   *discordgo.Session
	config    *Config
	logger    *log.Logger
	messenger Messenger
	registry  *Registry
	commands  *MusicCommands

	ctx    context.Context
	cancel context.CancelFunc
}

func NewBot(ctx context.Context, config *Config, logger *log.Logger) (*Bot, error) {
	if config.BotToken == "" {
		return nil, fmt.Errorf("bot token not found")
	}

	dg, err := discordgo.New("Bot " + config.BotToken)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}

	spotify, err := newSpotifyLookup(ctx, config)
	if err != nil {
		logger.Warn("spotify links disabled", "err", err)
		spotify = nil
	}

	var dj DJ
	if gemini, err := newGeminiDJ(ctx, config); err != nil {
		logger.Warn("AI DJ disabled", "err", err)
	} else if gemini != nil {
		dj = gemini
	} else {
		logger.Info("Gemini API key not found, AI DJ disabled")
	}

	resolver := newYtdlpResolver(config, spotify, logger)
	messenger := newDiscordMessenger(dg)

	ctx, cancel := context.WithCancel(ctx)
	registry := NewRegistry(ctx, PlayerOptions{
		Resolver:  resolver,
		Messenger: messenger,
		NewVoice: func(guildID string) Voice {
			return newDiscordVoice(dg, guildID, config, logger)
		},
		IdleTimeout:   config.IdleTimeout,
		DefaultVolume: config.DefaultVolumeFraction(),
		Logger:        logger,
	})

	bot := &Bot{
		session:   dg,
		config:    config,
		logger:    logger,
		messenger: messenger,
		registry:  registry,
		commands:  NewMusicCommands(registry, resolver, dj, config.CommandPrefix, logger),
		ctx:       ctx,
		cancel:    cancel,
	}

	dg.AddHandler(bot.ready)
	dg.AddHandler(bot.messageCreate)
	dg.AddHandler(bot.interactionCreate)
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsMessageContent

	return bot, nil
}

func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("opening connection: %w", err)
	}

	b.logger.Info("registering commands", "guild", b.config.CommandGuildID)
	if _, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, b.config.CommandGuildID, b.commands.ApplicationCommands()); err != nil {
		return fmt.Errorf("registering commands: %w", err)
	}

	return nil
}

// Stop destroys every guild player, then closes the gateway connection.
func (b *Bot) Stop() {
	b.cancel()
	b.registry.Wait()

	if err := b.session.Close(); err != nil {
		b.logger.Warn("closing session", "err", err)
	}
}

func (b *Bot) ready(s *discordgo.Session, r *discordgo.Ready) {
	b.logger.Info("bot is ready", "user", r.User.Username, "guilds", len(r.Guilds))
}

func (b *Bot) messageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	name, args, ok := b.commands.Parse(m.Content)
	if !ok {
		return
	}

	in := &Invocation{
		GuildID:        m.GuildID,
		ChannelID:      m.ChannelID,
		Author:         UserRef{ID: m.Author.ID, Name: m.Author.Username},
		VoiceChannelID: getUserVoiceChannel(s, m.GuildID, m.Author.ID),
		Args:           args,
		Responder:      &channelResponder{messenger: b.messenger, channelID: m.ChannelID, logger: b.logger},
	}
	b.commands.Run(b.ctx, name, in)
}

func (b *Bot) interactionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		b.handleCommand(s, i)
	case discordgo.InteractionMessageComponent:
		b.handleComponent(s, i)
	}
}

func (b *Bot) handleCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()

	var args string
	if len(data.Options) > 0 {
		args = data.Options[0].StringValue()
	}

	responder, err := newInteractionResponder(s, i.Interaction, b.logger)
	if err != nil {
		b.logger.Warn("could not defer response", "command", data.Name, "err", err)
		return
	}
	defer responder.finish()

	user := interactionUser(i)
	in := &Invocation{
		GuildID:        i.GuildID,
		ChannelID:      i.ChannelID,
		Author:         user,
		VoiceChannelID: getUserVoiceChannel(s, i.GuildID, user.ID),
		Args:           args,
		Responder:      responder,
	}
	b.commands.Run(b.ctx, data.Name, in)
}

func (b *Bot) handleComponent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	player, _ := b.registry.Get(i.GuildID)
	name, ok := buttonCommand(i.MessageComponentData().CustomID, player)
	if !ok {
		return
	}

	// Acknowledge the interaction immediately.
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}); err != nil {
		b.logger.Debug("acknowledging button", "err", err)
	}

	user := interactionUser(i)
	in := &Invocation{
		GuildID:        i.GuildID,
		ChannelID:      i.ChannelID,
		Author:         user,
		VoiceChannelID: getUserVoiceChannel(s, i.GuildID, user.ID),
		Responder:      &channelResponder{messenger: b.messenger, channelID: i.ChannelID, logger: b.logger},
	}
	b.commands.Run(b.ctx, name, in)
}

func interactionUser(i *discordgo.InteractionCreate) UserRef {
	if i.Member != nil && i.Member.User != nil {
		return UserRef{ID: i.Member.User.ID, Name: i.Member.User.Username}
	}
	if i.User != nil {
		return UserRef{ID: i.User.ID, Name: i.User.Username}
	}
	return UserRef{}
}

func getUserVoiceChannel(s *discordgo.Session, guildID, userID string) string {
	if guildID == "" {
		return ""
	}
	guild, err := s.State.Guild(guildID)
	if err != nil {
		return ""
	}

	for _, vs := range guild.VoiceStates {
		if vs.UserID == userID {
			return vs.ChannelID
		}
	}
	return ""
}

// channelResponder answers prefixed commands and button presses in the
// channel they came from.
type channelResponder struct {
	messenger Messenger
	channelID string
	logger    *log.Logger
}

func (r *channelResponder) Reply(n Notice) {
	if _, err := r.messenger.Send(r.channelID, n); err != nil {
		r.logger.Debug("reply", "channel", r.channelID, "err", err)
	}
}

func (r *channelResponder) ReplyTemporary(n Notice, after time.Duration) {
	sendTemporary(r.messenger, r.logger, r.channelID, n, after)
}

// interactionResponder answers slash commands as follow-ups to a deferred
// response. Temporary replies become ephemeral ones.
type interactionResponder struct {
	session     *discordgo.Session
	interaction *discordgo.Interaction
	logger      *log.Logger

	mu      sync.Mutex
	replied bool
}

func newInteractionResponder(s *discordgo.Session, i *discordgo.Interaction, logger *log.Logger) (*interactionResponder, error) {
	err := s.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		return nil, err
	}
	return &interactionResponder{session: s, interaction: i, logger: logger}, nil
}

func (r *interactionResponder) send(n Notice, flags discordgo.MessageFlags) {
	params := &discordgo.WebhookParams{
		Content:    n.Content,
		Components: n.Components,
		Flags:      flags,
	}
	if n.Embed != nil {
		params.Embeds = []*discordgo.MessageEmbed{n.Embed}
	}

	if _, err := r.session.FollowupMessageCreate(r.interaction, true, params); err != nil {
		r.logger.Debug("interaction follow-up", "err", err)
		return
	}

	r.mu.Lock()
	r.replied = true
	r.mu.Unlock()
}

func (r *interactionResponder) Reply(n Notice) {
	r.send(n, 0)
}

func (r *interactionResponder) ReplyTemporary(n Notice, _ time.Duration) {
	r.send(n, discordgo.MessageFlagsEphemeral)
}

// finish removes the "thinking..." placeholder when the command had
// nothing to say.
func (r *interactionResponder) finish() {
	r.mu.Lock()
	replied := r.replied
	r.mu.Unlock()

	if replied {
		return
	}
	if err := r.session.InteractionResponseDelete(r.interaction); err != nil {
		r.logger.Debug("deleting deferred response", "err", err)
	}
}
