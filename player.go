package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

type PlayerState int

const (
	StateAwaitingItem PlayerState = iota
	StateResolving
	StatePlaying
	StateDestroyed
)

func (s PlayerState) String() string {
	switch s {
	case StateAwaitingItem:
		return "awaiting"
	case StateResolving:
		return "resolving"
	case StatePlaying:
		return "playing"
	case StateDestroyed:
		return "destroyed"
	}
	return fmt.Sprintf("PlayerState(%d)", int(s))
}

const (
	volumeStep = 5
	minVolume  = 0.05
	maxVolume  = 1.0

	// How long a forced teardown waits for the transport to report that
	// the stream it was playing has finished.
	stopGrace = 5 * time.Second
)

// PlayerOptions are the collaborators shared by every guild player.
type PlayerOptions struct {
	Resolver      Resolver
	Messenger     Messenger
	NewVoice      func(guildID string) Voice
	IdleTimeout   time.Duration
	DefaultVolume float64
	Logger        *log.Logger
}

// GuildPlayer owns one guild's queue, its voice transport and the loop
// that drains the queue into it.
type GuildPlayer struct {
	guildID   string
	channelID string
	sessionID string

	queue     *Queue
	voice     Voice
	resolver  Resolver
	messenger Messenger
	idle      time.Duration
	logger    *log.Logger

	mu         sync.Mutex
	state      PlayerState
	current    *ResolvedTrack
	volume     float64
	nowPlaying *MessageRef

	// serializes posting and deleting the now-playing notice
	noticeMu sync.Mutex

	cancel    context.CancelFunc
	done      chan struct{}
	onDestroy func(*GuildPlayer)
}

func newGuildPlayer(guildID, channelID string, opts PlayerOptions, onDestroy func(*GuildPlayer)) *GuildPlayer {
	sessionID := uuid.NewString()
	volume := opts.DefaultVolume
	if volume <= 0 || volume > maxVolume {
		volume = 0.5
	}

	return &GuildPlayer{
		guildID:   guildID,
		channelID: channelID,
		sessionID: sessionID,
		queue:     NewQueue(),
		voice:     opts.NewVoice(guildID),
		resolver:  opts.Resolver,
		messenger: opts.Messenger,
		idle:      opts.IdleTimeout,
		logger:    opts.Logger.With("guild", guildID, "session", sessionID[:8]),
		volume:    volume,
		done:      make(chan struct{}),
		onDestroy: onDestroy,
	}
}

// start launches the player loop. The loop ends when ctx is cancelled,
// Stop is called or the queue stays empty for the idle timeout.
func (p *GuildPlayer) start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	// reject tracks as soon as teardown begins
	context.AfterFunc(ctx, p.closeQueue)
	go p.run(ctx)
}

func (p *GuildPlayer) run(ctx context.Context) {
	defer close(p.done)
	defer p.destroy()

	p.logger.Info("player started")

	for {
		p.setState(StateAwaitingItem)

		item, err := p.queue.Get(ctx, p.idle)
		if err != nil {
			if errors.Is(err, ErrQueueIdle) {
				p.logger.Info("queue idle, leaving", "after", p.idle)
			}
			return
		}

		var track *ResolvedTrack
		switch t := item.(type) {
		case *PendingTrack:
			p.setState(StateResolving)
			track, err = p.resolver.Resolve(ctx, t)
			if ctx.Err() != nil {
				if track != nil {
					p.release(track)
				}
				return
			}
			if err != nil {
				p.logger.Warn("resolve failed", "query", t.Target(), "err", err)
				p.notify(Notice{Content: fmt.Sprintf("There was an error processing your song.\n```css\n[%v]\n```", err)})
				continue
			}
		case *ResolvedTrack:
			track = t
		default:
			p.logger.Error("unknown queue item", "type", fmt.Sprintf("%T", item))
			continue
		}

		if !p.play(ctx, track) {
			return
		}
	}
}

// play streams one track and blocks until the transport reports completion.
// It returns false when the player is being torn down.
func (p *GuildPlayer) play(ctx context.Context, track *ResolvedTrack) bool {
	finished := make(chan error, 1)

	p.logger.Info("playing", "title", track.Title, "requester", track.Requester())

	// Volume changes take p.mu too, so none can slip in between reading
	// the volume and the transport picking it up.
	p.mu.Lock()
	p.state = StatePlaying
	p.current = track
	p.voice.Play(track.Stream, p.volume, func(err error) {
		finished <- err
	})
	p.mu.Unlock()

	p.postNowPlaying(track)

	alive := true
	select {
	case err := <-finished:
		if err != nil {
			p.logger.Warn("playback ended with error", "title", track.Title, "err", err)
		}
	case <-ctx.Done():
		alive = false
		p.voice.Stop()
		select {
		case <-finished:
		case <-time.After(stopGrace):
			p.logger.Warn("transport did not confirm stop", "title", track.Title)
		}
	}

	p.release(track)

	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()

	p.deleteNowPlaying()
	return alive
}

func (p *GuildPlayer) release(track *ResolvedTrack) {
	if err := track.release(); err != nil {
		p.logger.Debug("stream release", "title", track.Title, "err", err)
	}
}

// closeQueue rejects further tracks and releases whatever was still queued.
func (p *GuildPlayer) closeQueue() {
	dropped := p.queue.Close()
	if len(dropped) == 0 {
		return
	}
	p.logger.Debug("discarding queued tracks", "count", len(dropped))
	for _, t := range dropped {
		if r, ok := t.(*ResolvedTrack); ok {
			p.release(r)
		}
	}
}

func (p *GuildPlayer) destroy() {
	p.setState(StateDestroyed)
	p.closeQueue()

	if err := p.voice.Disconnect(); err != nil {
		p.logger.Debug("voice disconnect", "err", err)
	}
	p.deleteNowPlaying()

	if p.onDestroy != nil {
		p.onDestroy(p)
	}
	p.logger.Info("player destroyed")
}

// Stop tears the player down and waits for the loop to exit.
func (p *GuildPlayer) Stop() {
	p.closeQueue()
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

// Done is closed once the player has been destroyed.
func (p *GuildPlayer) Done() <-chan struct{} {
	return p.done
}

// Closed reports whether the player stopped accepting tracks.
func (p *GuildPlayer) Closed() bool {
	return p.queue.Closed()
}

func (p *GuildPlayer) Enqueue(t Track) error {
	if err := p.queue.Put(t); err != nil {
		return ErrPlayerClosed
	}
	return nil
}

func (p *GuildPlayer) GuildID() string   { return p.guildID }
func (p *GuildPlayer) SessionID() string { return p.sessionID }

func (p *GuildPlayer) State() PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *GuildPlayer) setState(s PlayerState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// NowPlaying returns the track currently streaming, if any.
func (p *GuildPlayer) NowPlaying() (*ResolvedTrack, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, p.current != nil
}

// Upcoming lists up to limit queued tracks without consuming them.
func (p *GuildPlayer) Upcoming(limit int) []Track {
	return p.queue.Peek(limit)
}

// Volume returns the current volume as a fraction in (0, 1].
func (p *GuildPlayer) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// SetVolume takes a percentage in (0, 100].
func (p *GuildPlayer) SetVolume(percent float64) error {
	if !(percent > 0 && percent <= 100) {
		return ErrInvalidVolume
	}
	p.applyVolume(percent / 100)
	return nil
}

// AdjustVolume moves the volume by delta percentage points, clamped to
// [5%, 100%], and returns the new fraction.
func (p *GuildPlayer) AdjustVolume(delta float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	v := math.Round(p.volume*100+delta) / 100
	v = math.Max(minVolume, math.Min(maxVolume, v))
	p.setVolumeLocked(v)
	return v
}

func (p *GuildPlayer) applyVolume(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setVolumeLocked(v)
}

func (p *GuildPlayer) setVolumeLocked(v float64) {
	p.volume = v
	if p.current != nil {
		p.voice.SetVolume(v)
	}
}

// Connect joins the voice channel, or moves there when already connected
// elsewhere.
func (p *GuildPlayer) Connect(ctx context.Context, channelID string) error {
	if err := p.voice.Connect(ctx, channelID); err != nil {
		return fmt.Errorf("%w: %w", ErrVoiceConnection, err)
	}
	return nil
}

func (p *GuildPlayer) Connected() bool { return p.voice.IsConnected() }
func (p *GuildPlayer) Playing() bool   { return p.voice.IsPlaying() }
func (p *GuildPlayer) Paused() bool    { return p.voice.IsPaused() }

// VoiceChannelID is the channel the transport is connected to, or "".
func (p *GuildPlayer) VoiceChannelID() string { return p.voice.ChannelID() }

func (p *GuildPlayer) Pause() error {
	if !p.voice.IsPlaying() {
		return ErrNothingPlaying
	}
	p.voice.Pause()
	return nil
}

func (p *GuildPlayer) Resume() error {
	if !p.voice.IsPaused() {
		return ErrNothingPlaying
	}
	p.voice.Resume()
	return nil
}

// Skip ends the current track; the loop then moves to the next one.
func (p *GuildPlayer) Skip() error {
	if !p.voice.IsPlaying() && !p.voice.IsPaused() {
		return ErrNothingPlaying
	}
	p.voice.Stop()
	return nil
}

// RepostNowPlaying replaces the now-playing notice with a fresh one in
// channelID.
func (p *GuildPlayer) RepostNowPlaying(channelID string) error {
	track, ok := p.NowPlaying()
	if !ok {
		return ErrNothingPlaying
	}
	p.postNowPlayingTo(channelID, track)
	return nil
}

func (p *GuildPlayer) postNowPlaying(track *ResolvedTrack) {
	p.postNowPlayingTo(p.channelID, track)
}

func (p *GuildPlayer) postNowPlayingTo(channelID string, track *ResolvedTrack) {
	p.noticeMu.Lock()
	defer p.noticeMu.Unlock()

	p.mu.Lock()
	old := p.nowPlaying
	p.nowPlaying = nil
	p.mu.Unlock()

	if old != nil {
		if err := p.messenger.Delete(*old); err != nil {
			p.logger.Debug("delete now playing", "err", err)
		}
	}

	msg, err := p.messenger.Send(channelID, nowPlayingNotice(track))
	if err != nil {
		p.logger.Debug("send now playing", "err", err)
		return
	}

	p.mu.Lock()
	p.nowPlaying = &msg
	p.mu.Unlock()
}

func (p *GuildPlayer) deleteNowPlaying() {
	p.noticeMu.Lock()
	defer p.noticeMu.Unlock()

	p.mu.Lock()
	old := p.nowPlaying
	p.nowPlaying = nil
	p.mu.Unlock()

	if old == nil {
		return
	}
	if err := p.messenger.Delete(*old); err != nil {
		p.logger.Debug("delete now playing", "err", err)
	}
}

func (p *GuildPlayer) notify(n Notice) {
	if _, err := p.messenger.Send(p.channelID, n); err != nil {
		p.logger.Debug("send notice", "err", err)
	}
}
