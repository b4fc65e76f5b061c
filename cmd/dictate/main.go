// Command dictate records a WAV file through the dictation engine as if it
// were a live microphone and prints the resulting transcript.
package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"clinical-dictation-service/internal/app"
	"clinical-dictation-service/internal/config"
	"clinical-dictation-service/internal/observability/logging"
	"clinical-dictation-service/internal/platform/mic"
	"clinical-dictation-service/internal/service/recording"
	"clinical-dictation-service/internal/service/stt/provider"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

func main() {
	audioFile := flag.String("audio", "", "Path to WAV file (16-bit mono PCM)")
	outFile := flag.String("out", "", "Write the recorded audio blob to this path")
	sttProvider := flag.String("stt", "", "Override STT_PROVIDER (none, mock, google)")
	actor := flag.String("actor", "dictate-cli", "Actor id recorded on events")
	raw := flag.Bool("raw", false, "Treat the file as headerless PCM paced at RECORDING_BYTES_PER_SECOND")
	flag.Parse()
	if *audioFile == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	logging.Init(logging.Config{Level: cfg.Observability.LogLevel, Format: "console"})
	if *sttProvider != "" {
		cfg.STT.Provider = *sttProvider
	}

	var (
		r              *bufio.Reader
		bytesPerSecond = cfg.Recording.BytesPerSecond
	)
	if !*raw {
		f, err := os.Open(*audioFile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open audio file")
		}
		defer f.Close()

		r = bufio.NewReader(f)
		if bytesPerSecond, err = readWAVHeader(r); err != nil {
			log.Fatal().Err(err).Msg("Invalid WAV file")
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	feed := mic.NewFeed()
	feed.Connect()

	rcfg := app.RecordingConfig(cfg)
	rcfg.ActorID = *actor
	engine := recording.NewEngine(rcfg, recording.Deps{
		Microphone:  mic.New(feed),
		Speech:      provider.New(cfg.STT),
		Transcriber: app.NewTranscriber(cfg.Transcription),
	}, recording.Callbacks{
		OnTranscript: func(text string, isFinal bool) {
			if isFinal {
				fmt.Fprintf(os.Stderr, "[final] %s\n", text)
			}
		},
		OnError: func(msg string) {
			log.Warn().Str("message", msg).Msg("Recording error")
		},
		OnSilence: func() {
			log.Info().Msg("No speech detected yet")
		},
	})
	defer engine.Destroy()

	if err := engine.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start recording")
	}

	var sent int64
	var err error
	if *raw {
		sent, err = mic.FromFile(ctx, feed, *audioFile, bytesPerSecond, cfg.Recording.ChunkInterval)
	} else {
		sent, err = mic.FromReader(ctx, feed, r, bytesPerSecond, cfg.Recording.ChunkInterval)
	}
	if err != nil {
		log.Warn().Err(err).Int64("bytes", sent).Msg("Audio feed interrupted")
	}
	log.Info().Int64("bytes", sent).Msg("Finished streaming audio")

	res, err := engine.Stop(context.WithoutCancel(ctx))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to stop recording")
	}

	log.Info().
		Str("sessionId", res.SessionID).
		Int("durationSeconds", res.DurationSeconds).
		Bool("fallback", res.UsingFallbackMode).
		Bool("synthetic", res.SyntheticTranscript).
		Msg("Recording complete")

	if *outFile != "" && res.Audio != nil {
		if err := os.WriteFile(*outFile, res.Audio.Data, 0o644); err != nil {
			log.Fatal().Err(err).Msg("Failed to write audio")
		}
		log.Info().Str("path", *outFile).Int("bytes", res.Audio.Size()).Msg("Audio written")
	}

	fmt.Println(res.Transcript)
}

// readWAVHeader consumes the header and returns the PCM byte rate.
func readWAVHeader(r io.Reader) (int, error) {
	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return 0, fmt.Errorf("not a WAV file")
	}

	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	byteRate := binary.LittleEndian.Uint32(header[28:32])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])

	log.Info().
		Uint16("format", audioFormat).
		Uint16("channels", numChannels).
		Uint32("sampleRate", sampleRate).
		Uint16("bitsPerSample", bitsPerSample).
		Msg("WAV file")

	if audioFormat != 1 {
		return 0, fmt.Errorf("only PCM format supported, got %d", audioFormat)
	}
	if byteRate == 0 {
		return 0, fmt.Errorf("zero byte rate")
	}
	return int(byteRate), nil
}
