// Package google provides a Google Cloud Speech-to-Text adapter.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"clinical-dictation-service/internal/service/stt"
)

// Config holds recognition settings.
type Config struct {
	LanguageCode   string
	SampleRateHz   int
	InterimResults bool
	AudioEncoding  string
	// Model is optional, e.g. "medical_dictation".
	Model string
}

// DefaultConfig returns the default recognition settings.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   16000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
	}
}

// Adapter implements stt.Adapter using Google streaming recognition.
// One gRPC stream is one listening window; Google ends streams after about
// five minutes, which surfaces as OnEnd so the caller can restart.
type Adapter struct {
	client *speech.Client
	cfg    Config

	mu      sync.Mutex
	stream  speechpb.Speech_StreamingRecognizeClient
	cancel  context.CancelFunc
	running bool
	stopped bool // Stop was requested for the current window
}

// New creates a new Google STT adapter.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &Adapter{client: c, cfg: cfg}, nil
}

// Start opens a streaming recognition window and sends the config message.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return stt.ErrAlreadyStarted
	}

	// The window outlives the request that started it.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := a.client.StreamingRecognize(streamCtx)
	if err != nil {
		cancel()
		return classify(err)
	}

	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   parseAudioEncoding(a.cfg.AudioEncoding),
					SampleRateHertz:            int32(a.cfg.SampleRateHz),
					LanguageCode:               a.cfg.LanguageCode,
					Model:                      a.cfg.Model,
					EnableAutomaticPunctuation: true,
				},
				InterimResults: a.cfg.InterimResults,
			},
		},
	})
	if err != nil {
		cancel()
		return classify(err)
	}

	a.stream = stream
	a.cancel = cancel
	a.running = true
	a.stopped = false

	go a.listen(stream, cb)
	return nil
}

// SendAudio sends audio bytes to Google Speech-to-Text.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	stream, running := a.stream, a.running && !a.stopped
	a.mu.Unlock()

	if !running || stream == nil {
		return nil
	}
	err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// Stop half-closes the stream; remaining results arrive before OnEnd.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running || a.stopped || a.stream == nil {
		return nil
	}
	a.stopped = true
	return a.stream.CloseSend()
}

// Close ends the stream and the client connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.running = false
	a.stream = nil
	a.mu.Unlock()

	return a.client.Close()
}

// listen receives responses until the stream ends and invokes callbacks.
func (a *Adapter) listen(stream speechpb.Speech_StreamingRecognizeClient, cb stt.Callback) {
	defer func() {
		a.mu.Lock()
		if a.stream == stream {
			a.running = false
			a.stream = nil
			if a.cancel != nil {
				a.cancel()
				a.cancel = nil
			}
		}
		a.mu.Unlock()
		cb.OnEnd()
	}()

	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			if cerr := classify(err); cerr != nil {
				cb.OnError(cerr)
			}
			return
		}

		if st := resp.GetError(); st != nil && codes.Code(st.GetCode()) != codes.OK {
			if cerr := classifyCode(codes.Code(st.GetCode()), st.GetMessage()); cerr != nil {
				cb.OnError(cerr)
			}
			return
		}

		for _, r := range resp.GetResults() {
			if len(r.GetAlternatives()) == 0 {
				continue
			}
			alt := r.GetAlternatives()[0]
			if r.GetIsFinal() {
				cb.OnFinal(alt.GetTranscript(), float64(alt.GetConfidence()))
			} else {
				cb.OnPartial(alt.GetTranscript())
			}
		}
	}
}

// classify maps a gRPC error onto the stt error set. A nil result means the
// window simply ended.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return stt.ErrAborted
	}
	st, ok := status.FromError(err)
	if !ok {
		log.Warn().Err(err).Msg("Unclassified speech engine error")
		return err
	}
	return classifyCode(st.Code(), st.Message())
}

func classifyCode(code codes.Code, msg string) error {
	switch code {
	case codes.OK:
		return nil
	case codes.OutOfRange:
		// Maximum stream duration reached.
		return nil
	case codes.Canceled:
		return stt.ErrAborted
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", stt.ErrNetwork, msg)
	default:
		return fmt.Errorf("google speech %s: %s", code, msg)
	}
}

func parseAudioEncoding(s string) speechpb.RecognitionConfig_AudioEncoding {
	switch s {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}
