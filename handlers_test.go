package main

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCommands(t *testing.T, env *testEnv, dj DJ) *MusicCommands {
	t.Helper()
	return NewMusicCommands(env.registry, env.resolver, dj, "|", testLogger())
}

func invocation(args, voiceChannel string) (*Invocation, *fakeResponder) {
	r := &fakeResponder{}
	return &Invocation{
		GuildID:        "g1",
		ChannelID:      "text",
		Author:         UserRef{ID: "u1", Name: "alice"},
		VoiceChannelID: voiceChannel,
		Args:           args,
		Responder:      r,
	}, r
}

func TestParse(t *testing.T) {
	m := newTestCommands(t, newTestEnv(t, time.Minute), nil)

	tests := []struct {
		content  string
		wantName string
		wantArgs string
		wantOK   bool
	}{
		{"|play never gonna give you up", "play", "never gonna give you up", true},
		{"|P   lofi  ", "p", "lofi", true},
		{"|np", "np", "", true},
		{"| skip", "skip", "", true},
		{"|", "", "", false},
		{"play something", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			name, args, ok := m.Parse(tt.content)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestRunUnknownCommand(t *testing.T) {
	m := newTestCommands(t, newTestEnv(t, time.Minute), nil)
	in, r := invocation("", "")

	assert.False(t, m.Run(context.Background(), "dance", in))
	assert.Empty(t, r.replies)
}

func TestRunRejectsDirectMessages(t *testing.T) {
	m := newTestCommands(t, newTestEnv(t, time.Minute), nil)
	in, r := invocation("lofi", "voice")
	in.GuildID = ""

	assert.True(t, m.Run(context.Background(), "play", in))
	assert.Equal(t, msgNoDM, r.last().notice.Content)
}

func TestRunRequiresConnection(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	m := newTestCommands(t, env, nil)

	tests := map[string]string{
		"pause":      msgNothingPlaying,
		"//":         msgNothingPlaying,
		"resume":     msgNothingPlaying,
		"skip":       msgNothingPlaying,
		"stop":       msgNothingPlaying,
		"queue":      msgNotConnected,
		"nowplaying": msgNotConnected,
		"volume":     msgNotConnected,
		"<":          msgNotConnected,
		">":          msgNotConnected,
	}
	for name, want := range tests {
		t.Run(name, func(t *testing.T) {
			in, r := invocation("50", "voice")
			require.True(t, m.Run(context.Background(), name, in))
			got := r.last()
			assert.Equal(t, want, got.notice.Content)
			assert.True(t, got.temporary)
		})
	}
	assert.Equal(t, 0, env.registry.Len())
}

func TestConnect(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	m := newTestCommands(t, env, nil)

	in, r := invocation("", "")
	m.Run(context.Background(), "connect", in)
	assert.Equal(t, msgNotInVoice, r.last().notice.Content)
	assert.Equal(t, 0, env.registry.Len())

	in, r = invocation("", "voice")
	m.Run(context.Background(), "join", in)
	assert.Equal(t, "Connected to: **<#voice>**", r.last().notice.Content)
	assert.Equal(t, "voice", env.voice(0).ChannelID())

	in, r = invocation("<#123456>", "voice")
	m.Run(context.Background(), "c", in)
	assert.Equal(t, "Connected to: **<#123456>**", r.last().notice.Content)
	assert.Equal(t, "123456", env.voice(0).ChannelID())
}

func TestConnectFailure(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	m := newTestCommands(t, env, nil)

	p, err := env.registry.GetOrCreate("g1", "text")
	require.NoError(t, err)
	env.voice(0).connectErr = errBoom

	in, r := invocation("", "voice")
	m.Run(context.Background(), "connect", in)
	assert.Equal(t, msgConnectFailed, r.last().notice.Content)
	assert.False(t, p.Connected())
}

func TestPlay(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	m := newTestCommands(t, env, nil)

	in, r := invocation("lofi beats", "voice")
	require.True(t, m.Run(context.Background(), "p", in))

	got := r.last()
	assert.Equal(t, "```ini\n[Added lofi beats to the Queue.]\n```", got.notice.Content)
	assert.True(t, got.temporary)

	p, ok := env.registry.Get("g1")
	require.True(t, ok)
	assert.True(t, p.Connected())
	require.Eventually(t, func() bool { return nowPlayingTitle(p) == "lofi beats" }, waitFor, tick)

	track, ok := p.NowPlaying()
	require.True(t, ok)
	assert.Equal(t, "alice", track.Requester().Name)
	assert.Equal(t, []string{"lofi beats"}, env.resolver.resolvedTitles())
}

func TestPlaySpotifyLinkSearchesByTitle(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	env.resolver.results = []TrackInfo{{Title: "One More Time - Daft Punk"}}
	m := newTestCommands(t, env, nil)

	in, r := invocation("https://open.spotify.com/track/0DiWol3AO6WpXZgp0goxAV", "voice")
	m.Run(context.Background(), "play", in)
	assert.Equal(t, "```ini\n[Added One More Time - Daft Punk to the Queue.]\n```", r.last().notice.Content)

	require.Eventually(t, func() bool { return len(env.resolver.targets()) == 1 }, waitFor, tick)
	assert.Equal(t, []string{"ytsearch1:One More Time - Daft Punk"}, env.resolver.targets())
}

func TestPlayWithoutVoiceChannel(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	m := newTestCommands(t, env, nil)

	in, r := invocation("lofi", "")
	m.Run(context.Background(), "play", in)

	assert.Equal(t, msgNotInVoice, r.last().notice.Content)
	assert.Equal(t, 0, env.registry.Len())
}

func TestPlaySearchFailure(t *testing.T) {
	env := newTestEnv(t, time.Minute, "nothing")
	m := newTestCommands(t, env, nil)

	in, r := invocation("nothing", "voice")
	m.Run(context.Background(), "play", in)

	assert.Contains(t, r.last().notice.Content, "There was an error processing your song.")
	p, ok := env.registry.Get("g1")
	require.True(t, ok)
	assert.Empty(t, p.Upcoming(10))
	assert.Empty(t, env.resolver.resolvedTitles())
}

func TestPlayUsage(t *testing.T) {
	m := newTestCommands(t, newTestEnv(t, time.Minute), nil)

	in, r := invocation("  ", "voice")
	m.Run(context.Background(), "play", in)
	assert.Equal(t, "_Usage: `|play <link-or-search>`_", r.last().notice.Content)
}

func connected(t *testing.T, env *testEnv, m *MusicCommands) *GuildPlayer {
	t.Helper()
	in, _ := invocation("", "voice")
	m.Run(context.Background(), "connect", in)
	p, ok := env.registry.Get("g1")
	require.True(t, ok)
	require.True(t, p.Connected())
	return p
}

func TestVolumeCommand(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	m := newTestCommands(t, env, nil)
	p := connected(t, env, m)

	for _, bad := range []string{"0", "101", "loud", ""} {
		in, r := invocation(bad, "voice")
		m.Run(context.Background(), "volume", in)
		assert.Equal(t, msgVolumeRange, r.last().notice.Content, "input %q", bad)
	}
	assert.InDelta(t, 0.5, p.Volume(), 1e-9)

	in, r := invocation("70%", "voice")
	m.Run(context.Background(), "vol", in)
	assert.Equal(t, "**`alice`**: _Set the volume to **70%**_", r.last().notice.Content)
	assert.InDelta(t, 0.70, p.Volume(), 1e-9)
}

func TestIncreaseDecrease(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	m := newTestCommands(t, env, nil)
	p := connected(t, env, m)

	for range 5 {
		in, _ := invocation("", "voice")
		m.Run(context.Background(), "<", in)
	}
	assert.InDelta(t, 0.75, p.Volume(), 1e-9)

	in, r := invocation("", "voice")
	m.Run(context.Background(), "dec", in)
	assert.Equal(t, "**`alice`**: _Decreased the volume by **5%**_ (now 70%)", r.last().notice.Content)
	assert.InDelta(t, 0.70, p.Volume(), 1e-9)
}

func TestQueueCommand(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	m := newTestCommands(t, env, nil)
	p := connected(t, env, m)

	in, r := invocation("", "voice")
	m.Run(context.Background(), "q", in)
	assert.Equal(t, "_There are currently no more queued songs._", r.last().notice.Content)

	for _, title := range []string{"A", "B", "C"} {
		require.NoError(t, p.Enqueue(pending(title)))
	}
	require.Eventually(t, func() bool { return nowPlayingTitle(p) == "A" }, waitFor, tick)

	in, r = invocation("", "voice")
	m.Run(context.Background(), "queue", in)
	embed := r.last().notice.Embed
	require.NotNil(t, embed)
	assert.Equal(t, "Upcoming - Next 2", embed.Title)
	assert.Equal(t, "**`B`**\n**`C`**", embed.Description)
}

func TestPauseResumeSkipCommands(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	m := newTestCommands(t, env, nil)
	p := connected(t, env, m)

	require.NoError(t, p.Enqueue(pending("A")))
	require.NoError(t, p.Enqueue(pending("B")))
	require.Eventually(t, func() bool { return nowPlayingTitle(p) == "A" }, waitFor, tick)

	in, r := invocation("", "voice")
	m.Run(context.Background(), "pause", in)
	assert.Equal(t, "**`alice`**: Paused the song!", r.last().notice.Content)
	assert.True(t, p.Paused())

	in, r = invocation("", "voice")
	m.Run(context.Background(), "pp", in)
	assert.Equal(t, msgNothingPlaying, r.last().notice.Content, "pausing a paused track")
	assert.True(t, r.last().temporary)
	assert.True(t, p.Paused())

	in, r = invocation("", "voice")
	m.Run(context.Background(), "r", in)
	assert.Equal(t, "**`alice`**: Resumed the song!", r.last().notice.Content)
	assert.False(t, p.Paused())

	in, r = invocation("", "voice")
	m.Run(context.Background(), "n", in)
	assert.Equal(t, "**`alice`**: Skipped the song!", r.last().notice.Content)
	require.Eventually(t, func() bool { return nowPlayingTitle(p) == "B" }, waitFor, tick)
}

func TestStopCommand(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	m := newTestCommands(t, env, nil)
	p := connected(t, env, m)
	require.NoError(t, p.Enqueue(pending("A")))

	in, r := invocation("", "voice")
	m.Run(context.Background(), "dc", in)

	assert.Contains(t, r.last().notice.Content, "Stopped the player")
	assert.True(t, isDone(p))
	assert.Equal(t, 0, env.registry.Len())
}

func TestDJ(t *testing.T) {
	env := newTestEnv(t, time.Minute)

	m := newTestCommands(t, env, nil)
	in, r := invocation("90s grunge", "voice")
	m.Run(context.Background(), "dj", in)
	assert.Equal(t, "_The AI DJ is not configured._", r.last().notice.Content)

	dj := &fakeDJ{queries: []string{"Nirvana - Lithium", "Soundgarden - Black Hole Sun", "Pearl Jam - Alive"}}
	m = newTestCommands(t, env, dj)
	in, r = invocation("90s grunge", "voice")
	m.Run(context.Background(), "dj", in)
	assert.Equal(t, "```ini\n[Added 3 songs to the Queue.]\n```", r.last().notice.Content)

	p, ok := env.registry.Get("g1")
	require.True(t, ok)
	require.Eventually(t, func() bool { return nowPlayingTitle(p) != "" }, waitFor, tick)
	assert.Len(t, p.Upcoming(10), 2)
}

func TestDJError(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	m := newTestCommands(t, env, &fakeDJ{err: errBoom})

	in, r := invocation("anything", "voice")
	m.Run(context.Background(), "dj", in)
	assert.Equal(t, "Error generating playlist: boom", r.last().notice.Content)
}

func TestHelp(t *testing.T) {
	m := newTestCommands(t, newTestEnv(t, time.Minute), nil)

	in, r := invocation("", "")
	m.Run(context.Background(), "h", in)

	embed := r.last().notice.Embed
	require.NotNil(t, embed)
	assert.Len(t, embed.Fields, len(m.commands))
	assert.Equal(t, "`|play <link-or-search>`", embed.Fields[1].Name)
	assert.Contains(t, embed.Fields[1].Value, "`|p`, `|silvousplay`")
}

func TestApplicationCommands(t *testing.T) {
	m := newTestCommands(t, newTestEnv(t, time.Minute), nil)

	cmds := m.ApplicationCommands()
	require.Len(t, cmds, len(m.commands))

	byName := make(map[string]*discordgo.ApplicationCommand)
	for _, c := range cmds {
		byName[c.Name] = c
		assert.NotEmpty(t, c.Description)
		assert.LessOrEqual(t, len(c.Description), 100)
	}

	require.Len(t, byName["play"].Options, 1)
	assert.True(t, byName["play"].Options[0].Required)
	require.Len(t, byName["connect"].Options, 1)
	assert.False(t, byName["connect"].Options[0].Required)
	assert.Empty(t, byName["skip"].Options)
}

func TestButtonCommand(t *testing.T) {
	env := newTestEnv(t, time.Minute)

	name, ok := buttonCommand(buttonPause, nil)
	assert.True(t, ok)
	assert.Equal(t, "pause", name)

	p, err := env.registry.Enqueue("g1", "text", pending("A"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return nowPlayingTitle(p) == "A" }, waitFor, tick)
	require.NoError(t, p.Pause())

	name, _ = buttonCommand(buttonPause, p)
	assert.Equal(t, "resume", name)

	name, _ = buttonCommand(buttonSkip, p)
	assert.Equal(t, "skip", name)
	name, _ = buttonCommand(buttonStop, p)
	assert.Equal(t, "stop", name)

	_, ok = buttonCommand("something_else", p)
	assert.False(t, ok)
}

func TestParseChannelArg(t *testing.T) {
	assert.Equal(t, "123", parseChannelArg("<#123>"))
	assert.Equal(t, "456", parseChannelArg(" 456 "))
	assert.Empty(t, parseChannelArg("general"))
	assert.Empty(t, parseChannelArg(""))
}
