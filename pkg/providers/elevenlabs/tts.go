package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/parley/pkg/adapters/tts"
	"github.com/harunnryd/parley/pkg/errorsx"
	"github.com/harunnryd/parley/pkg/logging"
	"github.com/harunnryd/parley/pkg/resilience"
)

type Config struct {
	APIKey  string `mapstructure:"api_key"`
	VoiceID string `mapstructure:"voice_id"`
	ModelID string `mapstructure:"model_id"`
	// OutputFormat must be a pcm_<rate> format; frames carry PCM16LE.
	OutputFormat string  `mapstructure:"output_format"`
	Stability    float64 `mapstructure:"stability"`
	Similarity   float64 `mapstructure:"similarity_boost"`
	BaseURL      string  `mapstructure:"base_url"`
}

// Synthesizer opens one stream-input websocket per sentence, so calls are
// independent and safe to run concurrently.
type Synthesizer struct {
	cfg        Config
	sampleRate int
	dialer     websocket.Dialer
	logger     *slog.Logger
}

type inbound struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func New(cfg Config) (*Synthesizer, error) {
	if cfg.APIKey == "" || cfg.VoiceID == "" {
		return nil, errors.New("elevenlabs: api key and voice id are required")
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "pcm_16000"
	}
	rate, err := pcmRate(cfg.OutputFormat)
	if err != nil {
		return nil, err
	}
	if cfg.Stability == 0 {
		cfg.Stability = 0.5
	}
	if cfg.Similarity == 0 {
		cfg.Similarity = 0.8
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "wss://api.elevenlabs.io"
	}
	return &Synthesizer{
		cfg:        cfg,
		sampleRate: rate,
		dialer:     websocket.Dialer{Proxy: http.ProxyFromEnvironment},
		logger:     logging.NewComponentLogger(nil, "elevenlabs_tts"),
	}, nil
}

func (s *Synthesizer) Name() string { return "elevenlabs_tts" }

func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice tts.VoiceConfig) (tts.Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return tts.Audio{}, errorsx.Newf(errorsx.ReasonTTSSynthesize, "elevenlabs: empty text")
	}
	voiceID := s.cfg.VoiceID
	if voice.VoiceID != "" {
		voiceID = voice.VoiceID
	}
	conn, resp, err := s.dialer.DialContext(ctx, s.url(voiceID, voice.Language), http.Header{"xi-api-key": []string{s.cfg.APIKey}})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return tts.Audio{}, errorsx.Wrap(resilience.RateLimitError{Provider: "elevenlabs", Message: resp.Status}, errorsx.ReasonTTSRateLimit)
		}
		if ctx.Err() != nil {
			return tts.Audio{}, ctx.Err()
		}
		return tts.Audio{}, errorsx.Transient(errorsx.Wrap(err, errorsx.ReasonTTSConnect))
	}
	defer conn.Close()

	// unblock ReadMessage when the turn is cancelled
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	settings := map[string]any{"stability": s.cfg.Stability, "similarity_boost": s.cfg.Similarity}
	if voice.Speed > 0 {
		settings["speed"] = voice.Speed
	}
	for _, msg := range []map[string]any{
		{"text": " ", "voice_settings": settings},
		{"text": text + " ", "flush": true},
		{"text": ""},
	} {
		if err := conn.WriteJSON(msg); err != nil {
			return tts.Audio{}, s.fail(ctx, err)
		}
	}

	var pcm []byte
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && len(pcm) > 0 {
				break
			}
			return tts.Audio{}, s.fail(ctx, err)
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("elevenlabs_unparsed_message", "size", len(data))
			continue
		}
		if msg.Error != "" {
			return tts.Audio{}, errorsx.Newf(errorsx.ReasonTTSSynthesize, "elevenlabs: %s: %s", msg.Error, msg.Message)
		}
		if msg.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				return tts.Audio{}, errorsx.WrapOp("elevenlabs", err, errorsx.ReasonTTSSynthesize)
			}
			pcm = append(pcm, chunk...)
		}
		if msg.IsFinal {
			break
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.logger.Debug("elevenlabs_synthesized", "chars", len(text), "bytes", len(pcm))
	return tts.Audio{PCM: pcm, SampleRate: s.sampleRate, Channels: 1}, nil
}

func (s *Synthesizer) fail(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errorsx.Transient(errorsx.Wrap(err, errorsx.ReasonTTSSynthesize))
}

func (s *Synthesizer) url(voiceID, language string) string {
	q := url.Values{}
	if s.cfg.ModelID != "" {
		q.Set("model_id", s.cfg.ModelID)
	}
	if language != "" {
		q.Set("language_code", strings.ToLower(language)[:min(2, len(language))])
	}
	q.Set("output_format", s.cfg.OutputFormat)
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream-input?" + q.Encode()
}

func pcmRate(format string) (int, error) {
	rate, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fmt.Errorf("elevenlabs: output format %q is not pcm", format)
	}
	return strconv.Atoi(rate)
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
