package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"solrtsp/internal/config"
	"solrtsp/internal/demux"
	"solrtsp/internal/rtspserver"
	"solrtsp/internal/rtspserver/track"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	initLogger(cfg)

	opts := rtspserver.Options{
		Port:        cfg.RTSP.Port,
		SessionName: cfg.RTSP.SessionName,
		SSRCSeed:    cfg.RTSP.SSRCSeed,
	}
	if cfg.RTSP.AuthUser != "" {
		opts.Credentials = &rtspserver.Credentials{
			User:   cfg.RTSP.AuthUser,
			Pass:   cfg.RTSP.AuthPass,
			Digest: cfg.RTSP.AuthDigest,
		}
	}

	server := rtspserver.NewServer(opts)

	videoCodec := track.Codec(strings.ToUpper(cfg.Media.VideoCodec))
	videoTrack, err := server.AddVideoTrack(videoCodec)
	if err != nil {
		slog.Error("failed to add video track", "err", err)
		os.Exit(1)
	}
	videoTrack.SetH264Params(fixtureSPS(), fixturePPS())

	var aacConfig []byte
	if cfg.Media.AudioAAC {
		audioTrack := server.AddAudioTrack(cfg.Media.SampleRate, cfg.Media.Channels)
		aacConfig = fixtureAACConfig()
		audioTrack.SetAACConfig(aacConfig)
	}

	if err := server.StartListen(); err != nil {
		slog.Error("failed to start rtsp server", "err", err)
		os.Exit(1)
	}
	slog.Info("rtsp server started", "port", cfg.RTSP.Port)

	ctx, cancelDemux := context.WithCancel(context.Background())
	stub := demux.NewStub(server, 25, fixtureSPS(), fixturePPS(), aacConfig)
	go stub.Run(ctx)

	timeoutTicker := time.NewTicker(time.Duration(cfg.RTSP.KeepaliveSecs) * time.Second)
	defer timeoutTicker.Stop()
	go func() {
		for range timeoutTicker.C {
			total, playing := server.CheckTimeouts()
			slog.Debug("connection sweep", "total", total, "playing", playing)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("received signal, shutting down server", "signal", sig)

	cancelDemux()
	server.StopListen()
	slog.Info("shutdown complete")
}

func fixtureSPS() []byte       { return []byte{0x67, 0x42, 0x00, 0x1F, 0x96, 0x54, 0x05} }
func fixturePPS() []byte       { return []byte{0x68, 0xCE, 0x3C, 0x80} }
func fixtureAACConfig() []byte { return []byte{0x12, 0x10} }

// initLogger configures the default slog logger with a colorized tint
// handler, trimming source paths to be relative to the working
// directory, adapted from ssungk-sol/internal/sol/sol.go's InitLogger.
func initLogger(cfg *config.Config) {
	wd, err := os.Getwd()
	if err != nil {
		wd = ""
	}

	replaceAttr := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			if source, ok := a.Value.Any().(*slog.Source); ok {
				if wd != "" && strings.HasPrefix(source.File, wd) {
					source.File = strings.TrimPrefix(source.File[len(wd):], string(os.PathSeparator))
				}
				return slog.Any(a.Key, source)
			}
		}
		return a
	}

	handler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:       cfg.GetSlogLevel(),
		AddSource:   true,
		TimeFormat:  time.RFC3339,
		ReplaceAttr: replaceAttr,
	})
	slog.SetDefault(slog.New(handler))
}
