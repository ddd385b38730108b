package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"
)

func main() {
	logger := newLogger(nil)

	app := &cli.Command{
		Name:  "jukebox",
		Usage: "Discord music bot with one player per guild",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				Aliases: []string{"e"},
				Usage:   "Path to a .env file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error), overrides LOG_LEVEL",
			},
			&cli.StringFlag{
				Name:  "guild",
				Usage: "Register slash commands in this guild only, overrides COMMAND_GUILD_ID",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return run(ctx, c, logger)
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		logger.Fatal("application error", "err", err)
	}
}

func run(ctx context.Context, c *cli.Command, logger *log.Logger) error {
	config, err := LoadConfig(c.String("env-file"), logger)
	if err != nil {
		return err
	}
	if lvl := c.String("log-level"); lvl != "" {
		config.LogLevel = lvl
	}
	if guild := c.String("guild"); guild != "" {
		config.CommandGuildID = guild
	}

	logger.SetLevel(parseLogLevel(config.LogLevel))
	if config.LogFile != "" {
		f, err := os.OpenFile(config.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer f.Close()
		logger.SetOutput(io.MultiWriter(os.Stderr, f))
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bot, err := NewBot(ctx, config, logger)
	if err != nil {
		return err
	}
	if err := bot.Start(); err != nil {
		return err
	}
	logger.Info("bot is running, press CTRL-C to exit", "prefix", config.CommandPrefix)

	if config.YtDlpAutoUpdate {
		go updateYtDlp(ctx, logger)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	bot.Stop()
	return nil
}

// newLogger creates a logger with timestamps and caller reporting. The
// writer defaults to os.Stderr.
func newLogger(w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	return log.NewWithOptions(w, log.Options{ReportTimestamp: true, ReportCaller: true})
}
