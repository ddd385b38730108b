package main

import (
	"fmt"
	"io"
)

// UserRef identifies the member who requested a track.
type UserRef struct {
	ID   string
	Name string
}

func (u UserRef) String() string {
	return u.Name
}

// Track is either a *PendingTrack or a *ResolvedTrack.
type Track interface {
	TrackTitle() string
	Requester() UserRef
	track()
}

// PendingTrack is queued immediately on a play request. It holds no stream;
// the player resolves it right before playback because stream URLs expire.
type PendingTrack struct {
	Query string
	URL   string
	Title string

	requester UserRef
}

func NewPendingTrack(query, url, title string, requester UserRef) *PendingTrack {
	return &PendingTrack{Query: query, URL: url, Title: title, requester: requester}
}

func (t *PendingTrack) TrackTitle() string {
	if t.Title != "" {
		return t.Title
	}
	return t.Query
}

func (t *PendingTrack) Requester() UserRef { return t.requester }
func (t *PendingTrack) track()             {}

// Target is what gets handed to yt-dlp: the page URL when search already
// found one, otherwise a search expression for the raw query.
func (t *PendingTrack) Target() string {
	if t.URL != "" {
		return t.URL
	}
	return fmt.Sprintf("ytsearch1:%s", t.Query)
}

// ResolvedTrack carries a live PCM stream (48kHz, stereo, s16le).
type ResolvedTrack struct {
	Stream    io.ReadCloser
	Title     string
	SourceURL string

	requester UserRef
}

func NewResolvedTrack(stream io.ReadCloser, title, sourceURL string, requester UserRef) *ResolvedTrack {
	return &ResolvedTrack{Stream: stream, Title: title, SourceURL: sourceURL, requester: requester}
}

func (t *ResolvedTrack) TrackTitle() string { return t.Title }
func (t *ResolvedTrack) Requester() UserRef { return t.requester }
func (t *ResolvedTrack) track()             {}

// release closes the stream. Safe to call on a nil stream.
func (t *ResolvedTrack) release() error {
	if t.Stream == nil {
		return nil
	}
	return t.Stream.Close()
}
