package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/zmb3/spotify"
	"golang.org/x/oauth2/clientcredentials"
)

// spotifyLookup turns Spotify track and playlist links into
// "title - artist" search queries for yt-dlp.
type spotifyLookup struct {
	client spotify.Client
}

func newSpotifyLookup(ctx context.Context, config *Config) (*spotifyLookup, error) {
	if config.SpotifyClientID == "" || config.SpotifyClientSecret == "" {
		return nil, nil
	}

	authConfig := &clientcredentials.Config{
		ClientID:     config.SpotifyClientID,
		ClientSecret: config.SpotifyClientSecret,
		TokenURL:     spotify.TokenURL,
	}

	accessToken, err := authConfig.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("retrieving spotify access token: %w", err)
	}

	client := spotify.NewAuthenticator("").NewClient(accessToken)
	return &spotifyLookup{client: client}, nil
}

func isSpotifyURL(s string) bool {
	return strings.Contains(s, "open.spotify.com/")
}

// spotifyResource splits a link such as
// https://open.spotify.com/track/<id>?si=... into its kind and ID.
func spotifyResource(link string) (kind string, id spotify.ID, err error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", "", fmt.Errorf("parsing spotify url: %w", err)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	// Localised links carry a leading "intl-xx" segment.
	if len(parts) > 0 && strings.HasPrefix(parts[0], "intl-") {
		parts = parts[1:]
	}
	if len(parts) < 2 || parts[1] == "" {
		return "", "", fmt.Errorf("unsupported spotify url: %s", link)
	}
	return parts[0], spotify.ID(parts[1]), nil
}

func (s *spotifyLookup) Queries(link string) ([]string, error) {
	kind, id, err := spotifyResource(link)
	if err != nil {
		return nil, err
	}

	switch kind {
	case "track":
		track, err := s.client.GetTrack(id)
		if err != nil {
			return nil, fmt.Errorf("fetching spotify track: %w", err)
		}
		return []string{trackQuery(track.SimpleTrack)}, nil
	case "playlist":
		page, err := s.client.GetPlaylistTracks(id)
		if err != nil {
			return nil, fmt.Errorf("fetching spotify playlist: %w", err)
		}
		queries := make([]string, 0, len(page.Tracks))
		for _, item := range page.Tracks {
			queries = append(queries, trackQuery(item.Track.SimpleTrack))
		}
		if len(queries) == 0 {
			return nil, ErrNoResults
		}
		return queries, nil
	}
	return nil, fmt.Errorf("unsupported spotify url: %s", link)
}

func trackQuery(track spotify.SimpleTrack) string {
	if len(track.Artists) == 0 {
		return track.Name
	}
	return fmt.Sprintf("%s - %s", track.Name, track.Artists[0].Name)
}
