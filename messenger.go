package main

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"
)

// Notice is an outgoing chat message.
type Notice struct {
	Content    string
	Embed      *discordgo.MessageEmbed
	Components []discordgo.MessageComponent
}

// MessageRef points at a message that was sent and may later be deleted.
type MessageRef struct {
	ChannelID string
	ID        string
}

// Messenger delivers notices to text channels. Callers treat every error
// as non-fatal.
type Messenger interface {
	Send(channelID string, n Notice) (MessageRef, error)
	Delete(m MessageRef) error
}

type discordMessenger struct {
	session *discordgo.Session
}

func newDiscordMessenger(s *discordgo.Session) *discordMessenger {
	return &discordMessenger{session: s}
}

func (m *discordMessenger) Send(channelID string, n Notice) (MessageRef, error) {
	send := &discordgo.MessageSend{
		Content:    n.Content,
		Components: n.Components,
	}
	if n.Embed != nil {
		send.Embeds = []*discordgo.MessageEmbed{n.Embed}
	}

	msg, err := m.session.ChannelMessageSendComplex(channelID, send)
	if err != nil {
		return MessageRef{}, fmt.Errorf("sending message: %w", err)
	}
	return MessageRef{ChannelID: msg.ChannelID, ID: msg.ID}, nil
}

func (m *discordMessenger) Delete(ref MessageRef) error {
	return m.session.ChannelMessageDelete(ref.ChannelID, ref.ID)
}

// sendTemporary sends n and deletes it after the given delay.
func sendTemporary(m Messenger, logger *log.Logger, channelID string, n Notice, after time.Duration) {
	ref, err := m.Send(channelID, n)
	if err != nil {
		logger.Debug("send notice", "channel", channelID, "err", err)
		return
	}
	time.AfterFunc(after, func() {
		if err := m.Delete(ref); err != nil {
			logger.Debug("delete notice", "channel", channelID, "err", err)
		}
	})
}

func nowPlayingNotice(track *ResolvedTrack) Notice {
	return Notice{
		Content:    fmt.Sprintf("**Now Playing:** `%s` requested by `%s`", track.Title, track.Requester()),
		Components: musicButtons,
	}
}
