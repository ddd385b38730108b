package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"
	"gopkg.in/hraban/opus.v2"
)

// Voice is one guild's audio transport. Play must invoke done exactly once,
// whether the stream ran out, failed or was stopped.
type Voice interface {
	Connect(ctx context.Context, channelID string) error
	ChannelID() string
	Disconnect() error

	Play(stream io.Reader, volume float64, done func(error))
	Pause()
	Resume()
	Stop()
	SetVolume(v float64)

	IsConnected() bool
	IsPlaying() bool
	IsPaused() bool
}

const (
	channels  = 2
	frameRate = 48000
	frameSize = 960
	maxBytes  = frameSize * channels * 2
)

// discordVoice streams PCM to a discordgo voice connection, encoding it to
// opus frame by frame.
type discordVoice struct {
	session *discordgo.Session
	guildID string
	config  *Config
	logger  *log.Logger

	mu       sync.Mutex
	conn     *discordgo.VoiceConnection
	playback *playback
}

// playback is the state of a single Play call. Commands only flip these
// flags; the streaming goroutine owns the read cursor.
type playback struct {
	stop     chan struct{}
	stopOnce sync.Once
	paused   atomic.Bool
	volume   atomic.Uint64
}

func (pb *playback) setVolume(v float64) { pb.volume.Store(math.Float64bits(v)) }
func (pb *playback) getVolume() float64  { return math.Float64frombits(pb.volume.Load()) }

func (pb *playback) halt() {
	pb.stopOnce.Do(func() { close(pb.stop) })
}

func newDiscordVoice(s *discordgo.Session, guildID string, config *Config, logger *log.Logger) *discordVoice {
	return &discordVoice{
		session: s,
		guildID: guildID,
		config:  config,
		logger:  logger.With("guild", guildID),
	}
}

func (v *discordVoice) Connect(ctx context.Context, channelID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.conn != nil {
		if v.conn.ChannelID == channelID {
			return nil
		}
		if err := v.conn.ChangeChannel(channelID, false, true); err != nil {
			return fmt.Errorf("moving to channel <#%s>: %w", channelID, err)
		}
		v.logger.Info("moved voice channel", "channel", channelID)
		return nil
	}

	vc, err := v.session.ChannelVoiceJoin(v.guildID, channelID, false, true)
	if err != nil {
		return fmt.Errorf("connecting to channel <#%s>: %w", channelID, err)
	}
	v.conn = vc
	v.logger.Info("joined voice channel", "channel", channelID)
	return nil
}

func (v *discordVoice) ChannelID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.conn == nil {
		return ""
	}
	return v.conn.ChannelID
}

func (v *discordVoice) Disconnect() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.playback != nil {
		v.playback.halt()
	}
	if v.conn == nil {
		return nil
	}
	conn := v.conn
	v.conn = nil
	return conn.Disconnect()
}

func (v *discordVoice) Play(stream io.Reader, volume float64, done func(error)) {
	pb := &playback{stop: make(chan struct{})}
	pb.setVolume(volume)

	v.mu.Lock()
	if v.playback != nil {
		v.playback.halt()
	}
	v.playback = pb
	conn := v.conn
	v.mu.Unlock()

	go func() {
		var err error
		if conn == nil {
			err = ErrNotConnected
		} else {
			err = v.stream(conn, stream, pb)
		}

		v.mu.Lock()
		if v.playback == pb {
			v.playback = nil
		}
		v.mu.Unlock()

		done(err)
	}()
}

func (v *discordVoice) stream(conn *discordgo.VoiceConnection, audio io.Reader, pb *playback) error {
	encoder, err := createOpusEncoder(v.config)
	if err != nil {
		return fmt.Errorf("creating opus encoder: %w", err)
	}

	conn.Speaking(true)
	defer conn.Speaking(false)

	pcm := make([]int16, frameSize*channels)
	opusData := make([]byte, maxBytes)

	for {
		select {
		case <-pb.stop:
			return nil
		default:
		}

		if pb.paused.Load() {
			select {
			case <-pb.stop:
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		err := binary.Read(audio, binary.LittleEndian, pcm)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading pcm: %w", err)
		}

		scalePCM(pcm, pb.getVolume())

		n, err := encoder.Encode(pcm, opusData)
		if err != nil {
			return fmt.Errorf("encoding pcm to opus: %w", err)
		}

		frame := make([]byte, n)
		copy(frame, opusData[:n])

		select {
		case conn.OpusSend <- frame:
		case <-pb.stop:
			return nil
		}
	}
}

// scalePCM applies volume in place, saturating at the int16 range.
func scalePCM(pcm []int16, volume float64) {
	if volume == 1 {
		return
	}
	for i, s := range pcm {
		scaled := float64(s) * volume
		switch {
		case scaled > math.MaxInt16:
			pcm[i] = math.MaxInt16
		case scaled < math.MinInt16:
			pcm[i] = math.MinInt16
		default:
			pcm[i] = int16(scaled)
		}
	}
}

func createOpusEncoder(config *Config) (*opus.Encoder, error) {
	encoder, err := opus.NewEncoder(frameRate, channels, opus.AppAudio)
	if err != nil {
		return nil, err
	}

	encoder.SetBitrate(config.OpusBitrate)
	encoder.SetComplexity(config.OpusComplexity)
	encoder.SetInBandFEC(config.OpusInBandFEC)
	encoder.SetPacketLossPerc(config.OpusPacketLossPerc)
	encoder.SetDTX(config.OpusDTX)

	return encoder, nil
}

func (v *discordVoice) current() *playback {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.playback
}

func (v *discordVoice) Pause() {
	if pb := v.current(); pb != nil {
		pb.paused.Store(true)
	}
}

func (v *discordVoice) Resume() {
	if pb := v.current(); pb != nil {
		pb.paused.Store(false)
	}
}

func (v *discordVoice) Stop() {
	if pb := v.current(); pb != nil {
		pb.halt()
	}
}

func (v *discordVoice) SetVolume(volume float64) {
	if pb := v.current(); pb != nil {
		pb.setVolume(volume)
	}
}

func (v *discordVoice) IsConnected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.conn != nil
}

func (v *discordVoice) IsPlaying() bool {
	pb := v.current()
	return pb != nil && !pb.paused.Load()
}

func (v *discordVoice) IsPaused() bool {
	pb := v.current()
	return pb != nil && pb.paused.Load()
}
