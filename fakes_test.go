package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

// fakeStream stands in for an ffmpeg pipe.
type fakeStream struct {
	title  string
	closed atomic.Bool
}

func (s *fakeStream) Read([]byte) (int, error) { return 0, io.EOF }

func (s *fakeStream) Close() error {
	s.closed.Store(true)
	return nil
}

// fakeVoice plays until the test calls finish or the player calls Stop.
type fakeVoice struct {
	mu          sync.Mutex
	channelID   string
	connectErr  error
	playing     bool
	paused      bool
	done        func(error)
	plays       int
	volume      float64
	disconnects int
	// delays the completion callback after Stop
	stopDelay time.Duration
}

func (v *fakeVoice) Connect(_ context.Context, channelID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.connectErr != nil {
		return v.connectErr
	}
	v.channelID = channelID
	return nil
}

func (v *fakeVoice) ChannelID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.channelID
}

func (v *fakeVoice) Disconnect() error {
	v.mu.Lock()
	v.channelID = ""
	v.disconnects++
	v.mu.Unlock()
	return nil
}

func (v *fakeVoice) Play(_ io.Reader, volume float64, done func(error)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.plays++
	v.volume = volume
	v.playing = true
	v.paused = false
	v.done = done
}

// finish ends the current track as if the stream ran out.
func (v *fakeVoice) finish(err error) {
	v.mu.Lock()
	done := v.done
	v.done = nil
	v.playing = false
	v.paused = false
	v.mu.Unlock()

	if done != nil {
		done(err)
	}
}

func (v *fakeVoice) Pause() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.playing {
		v.playing, v.paused = false, true
	}
}

func (v *fakeVoice) Resume() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.paused {
		v.playing, v.paused = true, false
	}
}

func (v *fakeVoice) Stop() {
	v.mu.Lock()
	delay := v.stopDelay
	v.mu.Unlock()

	if delay == 0 {
		v.finish(nil)
		return
	}
	time.AfterFunc(delay, func() { v.finish(nil) })
}

func (v *fakeVoice) SetVolume(volume float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.volume = volume
}

func (v *fakeVoice) IsConnected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.channelID != ""
}

func (v *fakeVoice) IsPlaying() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.playing
}

func (v *fakeVoice) IsPaused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.paused
}

func (v *fakeVoice) setStopDelay(d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopDelay = d
}

func (v *fakeVoice) playCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.plays
}

func (v *fakeVoice) currentVolume() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.volume
}

func (v *fakeVoice) disconnectCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.disconnects
}

// fakeResolver resolves any query to a fakeStream, except those listed in
// fail.
type fakeResolver struct {
	mu       sync.Mutex
	fail     map[string]bool
	// hold makes Resolve wait for cancellation before returning a stream
	hold bool
	// results, when set, is what every Search returns
	results  []TrackInfo
	queued   []string
	resolved []string
	streams  []*fakeStream
}

func newFakeResolver(fail ...string) *fakeResolver {
	r := &fakeResolver{fail: make(map[string]bool)}
	for _, f := range fail {
		r.fail[f] = true
	}
	return r
}

func (r *fakeResolver) Search(_ context.Context, query string) ([]TrackInfo, error) {
	if r.fail[query] {
		return nil, fmt.Errorf("%w: %s", ErrNoResults, query)
	}
	if r.results != nil {
		return r.results, nil
	}
	return []TrackInfo{{URL: "https://example.com/" + query, Title: query}}, nil
}

func (r *fakeResolver) Resolve(ctx context.Context, t *PendingTrack) (*ResolvedTrack, error) {
	if r.hold {
		<-ctx.Done()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.queued = append(r.queued, t.Target())
	r.resolved = append(r.resolved, t.TrackTitle())
	if r.fail[t.TrackTitle()] {
		return nil, fmt.Errorf("%w: video unavailable", ErrResolve)
	}
	s := &fakeStream{title: t.TrackTitle()}
	r.streams = append(r.streams, s)
	return NewResolvedTrack(s, t.TrackTitle(), "", t.Requester()), nil
}

func (r *fakeResolver) targets() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.queued...)
}

func (r *fakeResolver) resolvedTitles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.resolved...)
}

func (r *fakeResolver) allStreams() []*fakeStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*fakeStream(nil), r.streams...)
}

type sentNotice struct {
	ref    MessageRef
	notice Notice
}

type fakeMessenger struct {
	mu      sync.Mutex
	nextID  int
	sent    []sentNotice
	deleted []MessageRef
	sendErr error
}

func (m *fakeMessenger) Send(channelID string, n Notice) (MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return MessageRef{}, m.sendErr
	}
	m.nextID++
	ref := MessageRef{ChannelID: channelID, ID: fmt.Sprint(m.nextID)}
	m.sent = append(m.sent, sentNotice{ref: ref, notice: n})
	return ref, nil
}

func (m *fakeMessenger) Delete(ref MessageRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, ref)
	return nil
}

// containing returns the sent notices whose content contains substr.
func (m *fakeMessenger) containing(substr string) []sentNotice {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sentNotice
	for _, s := range m.sent {
		if strings.Contains(s.notice.Content, substr) {
			out = append(out, s)
		}
	}
	return out
}

func (m *fakeMessenger) wasDeleted(ref MessageRef) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.deleted {
		if d == ref {
			return true
		}
	}
	return false
}

type reply struct {
	notice    Notice
	temporary bool
}

type fakeResponder struct {
	mu      sync.Mutex
	replies []reply
}

func (r *fakeResponder) Reply(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, reply{notice: n})
}

func (r *fakeResponder) ReplyTemporary(n Notice, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, reply{notice: n, temporary: true})
}

func (r *fakeResponder) last() reply {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.replies) == 0 {
		return reply{}
	}
	return r.replies[len(r.replies)-1]
}

type fakeDJ struct {
	queries []string
	err     error
}

func (d *fakeDJ) Suggest(context.Context, string) ([]string, error) {
	return append([]string(nil), d.queries...), d.err
}

// testEnv is a registry wired to fakes. Every player gets its own
// fakeVoice, recorded in creation order.
type testEnv struct {
	resolver  *fakeResolver
	messenger *fakeMessenger
	registry  *Registry
	cancel    context.CancelFunc

	mu     sync.Mutex
	voices []*fakeVoice
}

func newTestEnv(t *testing.T, idle time.Duration, fail ...string) *testEnv {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	env := &testEnv{
		resolver:  newFakeResolver(fail...),
		messenger: &fakeMessenger{},
		cancel:    cancel,
	}
	env.registry = NewRegistry(ctx, PlayerOptions{
		Resolver:  env.resolver,
		Messenger: env.messenger,
		NewVoice: func(string) Voice {
			v := &fakeVoice{}
			env.mu.Lock()
			env.voices = append(env.voices, v)
			env.mu.Unlock()
			return v
		},
		IdleTimeout:   idle,
		DefaultVolume: 0.5,
		Logger:        testLogger(),
	})

	t.Cleanup(func() {
		cancel()
		env.registry.Wait()
	})
	return env
}

func (e *testEnv) voice(i int) *fakeVoice {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i >= len(e.voices) {
		return nil
	}
	return e.voices[i]
}

func pending(title string) *PendingTrack {
	return NewPendingTrack(title, "", title, UserRef{ID: "u1", Name: "alice"})
}

func nowPlayingTitle(p *GuildPlayer) string {
	t, ok := p.NowPlaying()
	if !ok {
		return ""
	}
	return t.Title
}

func isDone(p *GuildPlayer) bool {
	select {
	case <-p.Done():
		return true
	default:
		return false
	}
}

var errBoom = errors.New("boom")
