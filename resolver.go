package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

// TrackInfo is search metadata, enough to queue a track and show it.
type TrackInfo struct {
	URL      string
	Title    string
	Duration time.Duration
}

// Resolver turns user input into queueable metadata and, right before
// playback, a pending track into a live stream.
type Resolver interface {
	Search(ctx context.Context, query string) ([]TrackInfo, error)
	Resolve(ctx context.Context, t *PendingTrack) (*ResolvedTrack, error)
}

// ytdlpResolver shells out to yt-dlp for metadata and stream URLs and to
// ffmpeg for decoding. Spotify links are turned into search queries first.
type ytdlpResolver struct {
	config  *Config
	spotify *spotifyLookup
	limiter *rate.Limiter
	logger  *log.Logger
}

func newYtdlpResolver(config *Config, spotify *spotifyLookup, logger *log.Logger) *ytdlpResolver {
	return &ytdlpResolver{
		config:  config,
		spotify: spotify,
		limiter: rate.NewLimiter(rate.Limit(config.ResolveRate), config.ResolveBurst),
		logger:  logger.With("component", "resolver"),
	}
}

func (r *ytdlpResolver) Search(ctx context.Context, query string) ([]TrackInfo, error) {
	query = strings.TrimSpace(query)

	if isSpotifyURL(query) {
		if r.spotify == nil {
			return nil, fmt.Errorf("%w: spotify is not configured", ErrResolve)
		}
		queries, err := r.spotify.Queries(query)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrResolve, err)
		}
		infos := make([]TrackInfo, 0, len(queries))
		for _, q := range queries {
			infos = append(infos, TrackInfo{Title: q})
		}
		return infos, nil
	}

	isPlaylist := strings.Contains(query, "list=") || strings.Contains(query, "/playlist")

	infos, err := r.videoInfos(ctx, query, isPlaylist)
	if err != nil && isPlaylist {
		// Fall back to the single video the link also points at.
		infos, err = r.videoInfos(ctx, query, false)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResolve, err)
	}
	return infos, nil
}

func (r *ytdlpResolver) videoInfos(ctx context.Context, query string, isPlaylist bool) ([]TrackInfo, error) {
	args := []string{"--dump-json"}
	if isPlaylist {
		args = append(args, "--flat-playlist")
	} else {
		args = append(args, "--no-playlist")
	}
	args = append(args, r.commonArgs()...)
	args = append(args, searchTarget(query))

	output, err := r.ytdlp(ctx, args...)
	if err != nil {
		return nil, err
	}
	if isPlaylist {
		return parsePlaylistInfos(output, r.logger)
	}
	info, err := parseVideoInfo(output)
	if err != nil {
		return nil, err
	}
	return []TrackInfo{info}, nil
}

// Resolve fetches a fresh stream URL for t and starts decoding it. The
// decoder is bound to ctx, so cancelling ctx also releases it.
func (r *ytdlpResolver) Resolve(ctx context.Context, t *PendingTrack) (*ResolvedTrack, error) {
	args := []string{"--dump-json", "-f", "bestaudio", "--no-playlist"}
	args = append(args, r.commonArgs()...)
	args = append(args, t.Target())

	output, err := r.ytdlp(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResolve, err)
	}

	var data struct {
		URL        string `json:"url"`
		Title      string `json:"title"`
		WebpageURL string `json:"webpage_url"`
	}
	if err := json.Unmarshal(firstLine(output), &data); err != nil {
		return nil, fmt.Errorf("%w: parsing stream info: %w", ErrResolve, err)
	}
	if data.URL == "" {
		return nil, fmt.Errorf("%w: no audio stream for %s", ErrResolve, t.TrackTitle())
	}

	stream, err := openPCMStream(ctx, data.URL, r.config, r.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResolve, err)
	}

	title := data.Title
	if title == "" {
		title = t.TrackTitle()
	}
	return NewResolvedTrack(stream, title, data.WebpageURL, t.Requester()), nil
}

func (r *ytdlpResolver) commonArgs() []string {
	var args []string
	if r.config.CookiesPath != "" {
		args = append(args, "--cookies", r.config.CookiesPath)
	}
	if r.config.YtDlpProxy != "" {
		args = append(args, "--proxy", r.config.YtDlpProxy)
	}
	return args
}

func (r *ytdlpResolver) ytdlp(ctx context.Context, args ...string) ([]byte, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	r.logger.Debug("yt-dlp", "args", args)
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "yt-dlp", args...)
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("yt-dlp: %s", lastLine(msg))
		}
		return nil, fmt.Errorf("yt-dlp: %w", err)
	}
	return output, nil
}

func searchTarget(query string) string {
	if strings.HasPrefix(query, "http://") || strings.HasPrefix(query, "https://") {
		return query
	}
	return fmt.Sprintf("ytsearch:%s", query)
}

func parseVideoInfo(output []byte) (TrackInfo, error) {
	var data struct {
		URL      string  `json:"webpage_url"`
		Title    string  `json:"title"`
		Duration float64 `json:"duration"`
	}
	if err := json.Unmarshal(firstLine(output), &data); err != nil {
		return TrackInfo{}, fmt.Errorf("failed to parse video info: %w", err)
	}
	if data.Title == "" {
		return TrackInfo{}, ErrNoResults
	}
	return TrackInfo{
		URL:      data.URL,
		Title:    data.Title,
		Duration: time.Duration(data.Duration * float64(time.Second)),
	}, nil
}

func parsePlaylistInfos(output []byte, logger *log.Logger) ([]TrackInfo, error) {
	var infos []TrackInfo
	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var data struct {
			ID       string  `json:"id"`
			URL      string  `json:"url"`
			Title    string  `json:"title"`
			Duration float64 `json:"duration"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &data); err != nil {
			logger.Debug("skipping unparsable playlist item", "err", err)
			continue
		}
		url := data.URL
		if !strings.HasPrefix(url, "http") {
			url = "https://www.youtube.com/watch?v=" + data.ID
		}
		infos = append(infos, TrackInfo{
			URL:      url,
			Title:    data.Title,
			Duration: time.Duration(data.Duration * float64(time.Second)),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, ErrNoResults
	}
	return infos, nil
}

func firstLine(b []byte) []byte {
	b = bytes.TrimSpace(b)
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		return b[:i]
	}
	return b
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// pcmStream is ffmpeg's stdout. Close kills the process and reaps it.
type pcmStream struct {
	cmd *exec.Cmd
	out io.ReadCloser
	// closed once the stderr reader has drained the pipe
	stderrDone chan struct{}
	once       sync.Once
}

func (s *pcmStream) Read(p []byte) (int, error) {
	return s.out.Read(p)
}

func (s *pcmStream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.out.Close()
		if s.cmd.Process != nil {
			s.cmd.Process.Kill()
		}
		// Wait closes the stderr pipe, so the reader must be done first.
		<-s.stderrDone
		// Wait reports the kill signal; that is the expected outcome here.
		s.cmd.Wait()
	})
	return err
}

func openPCMStream(ctx context.Context, streamURL string, config *Config, logger *log.Logger) (*pcmStream, error) {
	args := config.FFmpegInputArgs()
	args = append(args,
		"-i", streamURL,
		"-vn",
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", frameRate),
		"-ac", fmt.Sprintf("%d", channels),
	)
	if filter := config.BuildAudioFilter(); filter != "" {
		args = append(args, "-af", filter)
	}
	args = append(args, "pipe:1")

	return startPCMStream(exec.CommandContext(ctx, "ffmpeg", args...), logger)
}

// startPCMStream starts cmd with its stdout as the stream and its stderr
// logged line by line.
func startPCMStream(cmd *exec.Cmd, logger *log.Logger) (*pcmStream, error) {
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		logFFmpegOutput(stderr, logger)
	}()
	return &pcmStream{cmd: cmd, out: out, stderrDone: stderrDone}, nil
}

// logFFmpegOutput logs ffmpeg's stderr at debug, minus the progress lines.
// It returns once r hits EOF.
func logFFmpegOutput(r io.Reader, logger *log.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "Press [q] to stop") ||
			strings.Contains(line, "size=") ||
			strings.Contains(line, "time=") {
			continue
		}
		logger.Debug("ffmpeg", "line", line)
	}
	// Drain the rest so ffmpeg never blocks on a full pipe.
	io.Copy(io.Discard, r)
}

// updateYtDlp keeps the yt-dlp install current; extractors break often.
func updateYtDlp(ctx context.Context, logger *log.Logger) {
	update := func() {
		logger.Info("checking for yt-dlp updates")
		cmd := exec.CommandContext(ctx, "pipx", "upgrade", "--pip-args=--pre", "yt-dlp")
		if output, err := cmd.CombinedOutput(); err != nil {
			logger.Warn("updating yt-dlp", "err", err, "output", string(output))
		}
	}

	update()
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}
