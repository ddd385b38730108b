package main

import "github.com/bwmarrin/discordgo"

const (
	buttonPause = "music_pause"
	buttonSkip  = "music_skip"
	buttonStop  = "music_stop"
)

// musicButtons ride along on every now-playing notice.
var musicButtons = []discordgo.MessageComponent{
	discordgo.ActionsRow{
		Components: []discordgo.MessageComponent{
			discordgo.Button{
				Emoji: &discordgo.ComponentEmoji{
					Name: "⏯️",
				},
				Style:    discordgo.SecondaryButton,
				CustomID: buttonPause,
			},
			discordgo.Button{
				Emoji: &discordgo.ComponentEmoji{
					Name: "⏭️",
				},
				Style:    discordgo.SecondaryButton,
				CustomID: buttonSkip,
			},
			discordgo.Button{
				Emoji: &discordgo.ComponentEmoji{
					Name: "⏹️",
				},
				Style:    discordgo.SecondaryButton,
				CustomID: buttonStop,
			},
		},
	},
}

// ApplicationCommands builds the slash command set from the command table.
// Aliases only exist for prefixed messages.
func (m *MusicCommands) ApplicationCommands() []*discordgo.ApplicationCommand {
	cmds := make([]*discordgo.ApplicationCommand, 0, len(m.commands))
	for _, c := range m.commands {
		ac := &discordgo.ApplicationCommand{
			Name:        c.name,
			Description: c.help,
		}
		if c.option != "" {
			ac.Options = []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        c.option,
					Description: c.usage,
					// connect falls back to the caller's channel
					Required: c.name != "connect",
				},
			}
		}
		cmds = append(cmds, ac)
	}
	return cmds
}

// buttonCommand maps a now-playing button to the command it stands for.
// The pause button toggles.
func buttonCommand(customID string, p *GuildPlayer) (string, bool) {
	switch customID {
	case buttonPause:
		if p != nil && p.Paused() {
			return "resume", true
		}
		return "pause", true
	case buttonSkip:
		return "skip", true
	case buttonStop:
		return "stop", true
	}
	return "", false
}
