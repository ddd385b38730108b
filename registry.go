package main

import (
	"context"
	"sync"
)

// Registry maps guild IDs to their live players. Players are created on
// first use and remove themselves when they are destroyed.
type Registry struct {
	ctx  context.Context
	opts PlayerOptions

	mu      sync.Mutex
	players map[string]*GuildPlayer
	wg      sync.WaitGroup
}

// NewRegistry returns a registry whose players all stop when ctx is done.
func NewRegistry(ctx context.Context, opts PlayerOptions) *Registry {
	return &Registry{
		ctx:     ctx,
		opts:    opts,
		players: make(map[string]*GuildPlayer),
	}
}

// GetOrCreate returns the guild's player, starting one if there is none.
// A player that is already tearing down is waited out and replaced, so a
// guild never has two live players.
func (r *Registry) GetOrCreate(guildID, channelID string) (*GuildPlayer, error) {
	for {
		if err := r.ctx.Err(); err != nil {
			return nil, ErrShuttingDown
		}

		r.mu.Lock()
		p, ok := r.players[guildID]
		if !ok {
			p = newGuildPlayer(guildID, channelID, r.opts, r.remove)
			r.players[guildID] = p
			r.wg.Add(1)
			p.start(r.ctx)
			go func() {
				defer r.wg.Done()
				<-p.Done()
			}()
			r.mu.Unlock()
			return p, nil
		}
		r.mu.Unlock()

		if !p.Closed() {
			return p, nil
		}
		<-p.Done()
	}
}

// Get returns the guild's player if one is live.
func (r *Registry) Get(guildID string) (*GuildPlayer, bool) {
	r.mu.Lock()
	p, ok := r.players[guildID]
	r.mu.Unlock()

	if !ok || p.Closed() {
		return nil, false
	}
	return p, true
}

// Enqueue adds t to the guild's queue, creating the player if needed. If
// the player closes between lookup and insert, a fresh one is used.
func (r *Registry) Enqueue(guildID, channelID string, t Track) (*GuildPlayer, error) {
	for {
		p, err := r.GetOrCreate(guildID, channelID)
		if err != nil {
			return nil, err
		}
		if err := p.Enqueue(t); err == nil {
			return p, nil
		}
		<-p.Done()
	}
}

// Stop destroys the guild's player and waits for it to finish. Stopping a
// guild without a player is a no-op.
func (r *Registry) Stop(guildID string) bool {
	r.mu.Lock()
	p, ok := r.players[guildID]
	r.mu.Unlock()

	if !ok {
		return false
	}
	p.Stop()
	return true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

// Wait blocks until every player started by this registry has been
// destroyed. Call it after cancelling the registry's context.
func (r *Registry) Wait() {
	r.wg.Wait()
}

// remove drops p from the map, unless the guild has already moved on to a
// newer player.
func (r *Registry) remove(p *GuildPlayer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.players[p.guildID]; ok && cur == p {
		delete(r.players, p.guildID)
	}
}
