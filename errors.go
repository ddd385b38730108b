package main

import "errors"

var (
	// Resolution
	ErrResolve   = errors.New("could not resolve track")
	ErrNoResults = errors.New("no results found")

	// Voice transport
	ErrVoiceConnection = errors.New("voice connection failed")
	ErrNotConnected    = errors.New("not connected to voice")
	ErrNothingPlaying  = errors.New("nothing is playing")

	// Input validation
	ErrInvalidVolume = errors.New("volume must be between 1 and 100")

	// Lifecycle
	ErrQueueIdle    = errors.New("queue idle timeout")
	ErrQueueClosed  = errors.New("queue closed")
	ErrPlayerClosed = errors.New("player closed")
	ErrShuttingDown = errors.New("shutting down")

	ErrDJUnavailable = errors.New("gemini client not initialized")
)
