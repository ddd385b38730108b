package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"
)

const (
	addedNoticeTTL = 15 * time.Second
	shortNoticeTTL = 60 * time.Second
	upcomingLimit  = 5
)

const (
	msgNotInVoice     = "_You are not connected to a voice channel. Please join a voice channel before invoking this command._"
	msgNotConnected   = "_I am not connected to voice!_"
	msgNothingPlaying = "_I am currently not playing anything!_"
	msgConnectFailed  = "Error connecting to Voice Channel. Please make sure you are in a valid channel or provide me with one"
	msgVolumeRange    = "_Please enter a value between 1 and 100._"
	msgNoDM           = "This command can not be used in Private Messages."
)

// Responder sends command output back to wherever the command came from.
type Responder interface {
	Reply(n Notice)
	ReplyTemporary(n Notice, after time.Duration)
}

// Invocation is one command call, independent of whether it arrived as a
// prefixed message, a slash command or a button press.
type Invocation struct {
	GuildID        string
	ChannelID      string
	Author         UserRef
	VoiceChannelID string // the author's current voice channel, "" if none
	Args           string

	Responder
}

func (in *Invocation) say(format string, a ...any) {
	in.Reply(Notice{Content: fmt.Sprintf(format, a...)})
}

func (in *Invocation) sayBriefly(after time.Duration, format string, a ...any) {
	in.ReplyTemporary(Notice{Content: fmt.Sprintf(format, a...)}, after)
}

type command struct {
	name    string
	aliases []string
	usage   string
	help    string
	option  string // slash command option name, "" for none
	// commands other than connect, play and dj only act on a live
	// voice connection
	needsVoice   bool
	notConnected string
	run          func(ctx context.Context, in *Invocation, p *GuildPlayer) error
}

// MusicCommands is the chat surface over the guild players.
type MusicCommands struct {
	registry *Registry
	resolver Resolver
	dj       DJ
	prefix   string
	logger   *log.Logger

	commands []*command
	index    map[string]*command
}

func NewMusicCommands(registry *Registry, resolver Resolver, dj DJ, prefix string, logger *log.Logger) *MusicCommands {
	m := &MusicCommands{
		registry: registry,
		resolver: resolver,
		dj:       dj,
		prefix:   prefix,
		logger:   logger.With("component", "commands"),
		index:    make(map[string]*command),
	}

	m.commands = []*command{
		{name: "connect", aliases: []string{"c", "join"}, usage: "connect [channel]", option: "channel",
			help: "Connects to a voice channel. Join one first or name the channel.", run: m.connect},
		{name: "play", aliases: []string{"p", "silvousplay"}, usage: "play <link-or-search>", option: "query",
			help: "Adds a song to the queue, joining your voice channel if needed.", run: m.play},
		{name: "pause", aliases: []string{"//", "pp"}, usage: "pause",
			help: "Pauses the currently playing song.", needsVoice: true, notConnected: msgNothingPlaying, run: m.pause},
		{name: "resume", aliases: []string{"r"}, usage: "resume",
			help: "Resumes the currently paused song.", needsVoice: true, notConnected: msgNothingPlaying, run: m.resume},
		{name: "skip", aliases: []string{"s", "n"}, usage: "skip",
			help: "Skips the currently playing song.", needsVoice: true, notConnected: msgNothingPlaying, run: m.skip},
		{name: "queue", aliases: []string{"q", "list"}, usage: "queue",
			help: "Shows the next songs in the queue.", needsVoice: true, notConnected: msgNotConnected, run: m.queue},
		{name: "nowplaying", aliases: []string{"np", "playing"}, usage: "nowplaying",
			help: "Shows the currently playing song.", needsVoice: true, notConnected: msgNotConnected, run: m.nowPlaying},
		{name: "volume", aliases: []string{"v", "vol"}, usage: "volume <1-100>", option: "percent",
			help: "Sets the player volume in percent.", needsVoice: true, notConnected: msgNotConnected, run: m.volume},
		{name: "increase", aliases: []string{"<", "inc"}, usage: "increase",
			help: "Raises the volume by 5%.", needsVoice: true, notConnected: msgNotConnected, run: m.increase},
		{name: "decrease", aliases: []string{">", "dec"}, usage: "decrease",
			help: "Lowers the volume by 5%.", needsVoice: true, notConnected: msgNotConnected, run: m.decrease},
		{name: "stop", aliases: []string{"dc"}, usage: "stop",
			help: "Stops playback, clears the queue and leaves the voice channel.", needsVoice: true, notConnected: msgNothingPlaying, run: m.stop},
		{name: "dj", usage: "dj <vibe>", option: "vibe",
			help: "Lets the AI DJ queue a set for you.", run: m.djSet},
		{name: "help", aliases: []string{"h"}, usage: "help",
			help: "Shows this message.", run: m.help},
	}

	for _, c := range m.commands {
		m.index[c.name] = c
		for _, a := range c.aliases {
			m.index[a] = c
		}
	}
	return m
}

// Parse splits a prefixed message into command name and arguments.
func (m *MusicCommands) Parse(content string) (name, args string, ok bool) {
	if !strings.HasPrefix(content, m.prefix) {
		return "", "", false
	}
	body := strings.TrimSpace(strings.TrimPrefix(content, m.prefix))
	if body == "" {
		return "", "", false
	}
	name, args, _ = strings.Cut(body, " ")
	return strings.ToLower(name), strings.TrimSpace(args), true
}

// Run executes the named command. It reports false for unknown names.
func (m *MusicCommands) Run(ctx context.Context, name string, in *Invocation) bool {
	c, ok := m.index[name]
	if !ok {
		return false
	}

	if in.GuildID == "" {
		in.say(msgNoDM)
		return true
	}

	var p *GuildPlayer
	if c.needsVoice {
		p, ok = m.registry.Get(in.GuildID)
		if !ok || !p.Connected() {
			in.ReplyTemporary(Notice{Content: c.notConnected}, shortNoticeTTL)
			return true
		}
	}

	logger := m.logger.With("command", c.name, "guild", in.GuildID, "user", in.Author.Name)
	err := c.run(ctx, in, p)
	switch {
	case err != nil && isUserError(err):
		logger.Info("command rejected", "args", in.Args, "err", err)
	case err != nil:
		logger.Warn("command failed", "args", in.Args, "err", err)
	default:
		logger.Debug("command handled", "args", in.Args)
	}
	return true
}

var channelMention = regexp.MustCompile(`^<#(\d+)>$|^(\d+)$`)

func parseChannelArg(arg string) string {
	match := channelMention.FindStringSubmatch(strings.TrimSpace(arg))
	if match == nil {
		return ""
	}
	if match[1] != "" {
		return match[1]
	}
	return match[2]
}

func (m *MusicCommands) connect(ctx context.Context, in *Invocation, _ *GuildPlayer) error {
	channelID := parseChannelArg(in.Args)
	if channelID == "" {
		channelID = in.VoiceChannelID
	}
	if channelID == "" {
		in.say(msgNotInVoice)
		return nil
	}

	p, err := m.registry.GetOrCreate(in.GuildID, in.ChannelID)
	if err != nil {
		return err
	}
	if p.Connected() && p.VoiceChannelID() == channelID {
		return nil
	}

	if err := p.Connect(ctx, channelID); err != nil {
		in.say(msgConnectFailed)
		return err
	}

	in.sayBriefly(shortNoticeTTL, "Connected to: **<#%s>**", channelID)
	return nil
}

// ensureVoice connects to the author's channel unless a connection already
// exists and reports whether the guild is now connected.
func (m *MusicCommands) ensureVoice(ctx context.Context, in *Invocation) bool {
	if p, ok := m.registry.Get(in.GuildID); ok && p.Connected() {
		return true
	}

	connectIn := *in
	connectIn.Args = ""
	if err := m.connect(ctx, &connectIn, nil); err != nil {
		m.logger.Warn("auto connect failed", "guild", in.GuildID, "err", err)
		return false
	}

	p, ok := m.registry.Get(in.GuildID)
	return ok && p.Connected()
}

func (m *MusicCommands) play(ctx context.Context, in *Invocation, _ *GuildPlayer) error {
	query := strings.TrimSpace(in.Args)
	if query == "" {
		in.sayBriefly(shortNoticeTTL, "_Usage: `%splay <link-or-search>`_", m.prefix)
		return nil
	}

	if !m.ensureVoice(ctx, in) {
		return nil
	}

	infos, err := m.resolver.Search(ctx, query)
	if err == nil && len(infos) == 0 {
		err = ErrNoResults
	}
	if err != nil {
		in.say("There was an error processing your song.\n```css\n[%v]\n```", err)
		return err
	}

	// Playlists contribute their first entry only.
	info := infos[0]
	if info.URL == "" {
		// Spotify results only carry "Name - Artist"; search for that
		// instead of the link.
		query = info.Title
	}
	track := NewPendingTrack(query, info.URL, info.Title, in.Author)
	if _, err := m.registry.Enqueue(in.GuildID, in.ChannelID, track); err != nil {
		return err
	}

	in.sayBriefly(addedNoticeTTL, "```ini\n[Added %s to the Queue.]\n```", track.TrackTitle())
	return nil
}

func (m *MusicCommands) pause(_ context.Context, in *Invocation, p *GuildPlayer) error {
	// a paused track does not count as playing
	if err := p.Pause(); err != nil {
		in.sayBriefly(shortNoticeTTL, msgNothingPlaying)
		return nil
	}
	in.say("**`%s`**: Paused the song!", in.Author)
	return nil
}

func (m *MusicCommands) resume(_ context.Context, in *Invocation, p *GuildPlayer) error {
	if !p.Paused() {
		return nil
	}
	if err := p.Resume(); err != nil {
		return nil
	}
	in.say("**`%s`**: Resumed the song!", in.Author)
	return nil
}

func (m *MusicCommands) skip(_ context.Context, in *Invocation, p *GuildPlayer) error {
	if err := p.Skip(); err != nil {
		return nil
	}
	in.say("**`%s`**: Skipped the song!", in.Author)
	return nil
}

func (m *MusicCommands) queue(_ context.Context, in *Invocation, p *GuildPlayer) error {
	upcoming := p.Upcoming(upcomingLimit)
	if len(upcoming) == 0 {
		in.say("_There are currently no more queued songs._")
		return nil
	}

	lines := make([]string, len(upcoming))
	for i, t := range upcoming {
		lines[i] = fmt.Sprintf("**`%s`**", t.TrackTitle())
	}
	in.Reply(Notice{Embed: &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Upcoming - Next %d", len(upcoming)),
		Description: strings.Join(lines, "\n"),
	}})
	return nil
}

func (m *MusicCommands) nowPlaying(_ context.Context, in *Invocation, p *GuildPlayer) error {
	if err := p.RepostNowPlaying(in.ChannelID); err != nil {
		in.say(msgNothingPlaying)
	}
	return nil
}

func (m *MusicCommands) volume(_ context.Context, in *Invocation, p *GuildPlayer) error {
	percent, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(in.Args), "%"), 64)
	if err != nil {
		in.say(msgVolumeRange)
		return nil
	}
	if err := p.SetVolume(percent); err != nil {
		in.say(msgVolumeRange)
		return nil
	}
	in.say("**`%s`**: _Set the volume to **%s%%**_", in.Author, strconv.FormatFloat(percent, 'f', -1, 64))
	return nil
}

func (m *MusicCommands) increase(_ context.Context, in *Invocation, p *GuildPlayer) error {
	v := p.AdjustVolume(volumeStep)
	in.say("**`%s`**: _Increased the volume by **%d%%**_ (now %.0f%%)", in.Author, volumeStep, v*100)
	return nil
}

func (m *MusicCommands) decrease(_ context.Context, in *Invocation, p *GuildPlayer) error {
	v := p.AdjustVolume(-volumeStep)
	in.say("**`%s`**: _Decreased the volume by **%d%%**_ (now %.0f%%)", in.Author, volumeStep, v*100)
	return nil
}

func (m *MusicCommands) stop(_ context.Context, in *Invocation, _ *GuildPlayer) error {
	if m.registry.Stop(in.GuildID) {
		in.sayBriefly(shortNoticeTTL, "**`%s`**: Stopped the player and left the voice channel.", in.Author)
	}
	return nil
}

func (m *MusicCommands) djSet(ctx context.Context, in *Invocation, _ *GuildPlayer) error {
	request := strings.TrimSpace(in.Args)
	if request == "" {
		in.sayBriefly(shortNoticeTTL, "_Usage: `%sdj <vibe>`_", m.prefix)
		return nil
	}
	if m.dj == nil {
		in.say("_The AI DJ is not configured._")
		return ErrDJUnavailable
	}

	if !m.ensureVoice(ctx, in) {
		return nil
	}

	queries, err := m.dj.Suggest(ctx, request)
	if err != nil {
		in.say("Error generating playlist: %v", err)
		return err
	}
	if len(queries) == 0 {
		in.say("Could not find any songs for that prompt.")
		return nil
	}

	rand.Shuffle(len(queries), func(i, j int) {
		queries[i], queries[j] = queries[j], queries[i]
	})

	for _, q := range queries {
		if _, err := m.registry.Enqueue(in.GuildID, in.ChannelID, NewPendingTrack(q, "", q, in.Author)); err != nil {
			return err
		}
	}

	in.sayBriefly(addedNoticeTTL, "```ini\n[Added %d songs to the Queue.]\n```", len(queries))
	return nil
}

func (m *MusicCommands) help(_ context.Context, in *Invocation, _ *GuildPlayer) error {
	embed := &discordgo.MessageEmbed{
		Title:       "List of commands",
		Description: fmt.Sprintf("Plays music from YouTube and other sites supported by yt-dlp.\n\n**Prefix**: `%s`", m.prefix),
		Color:       0x5865F2,
	}
	for _, c := range m.commands {
		value := c.help
		if len(c.aliases) > 0 {
			aliases := make([]string, len(c.aliases))
			for i, a := range c.aliases {
				aliases[i] = "`" + m.prefix + a + "`"
			}
			value += "\naliases: " + strings.Join(aliases, ", ")
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   "`" + m.prefix + c.usage + "`",
			Value:  value,
			Inline: true,
		})
	}
	in.Reply(Notice{Embed: embed})
	return nil
}

// isUserError reports errors that were already explained to the user.
func isUserError(err error) bool {
	return errors.Is(err, ErrResolve) || errors.Is(err, ErrNoResults) ||
		errors.Is(err, ErrVoiceConnection) || errors.Is(err, ErrDJUnavailable)
}
