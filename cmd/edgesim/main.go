// Command edgesim replays a scripted conversation as an edge device would:
// it starts a session, streams base64 audio frames with VAD flags, and stops
// the session. The frame payload carries the utterance text as bytes so the
// mock speech-to-text service can echo it back, which makes end-to-end runs
// deterministic.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrWong99/mindgraph/internal/bus"
	"github.com/MrWong99/mindgraph/internal/config"
	"github.com/MrWong99/mindgraph/internal/event"
)

// frameParts is how many frames each utterance is split into.
const frameParts = 4

// fixture is the replay script.
type fixture struct {
	SessionID  string      `json:"session_id"`
	DeviceID   string      `json:"device_id"`
	Utterances []utterance `json:"utterances"`
}

// utterance is one spoken phrase. Flush selects how the aggregator should
// close the segment: "speech_final" marks the last frame, "silence" relies on
// the timeout sweep.
type utterance struct {
	Text  string `json:"text"`
	Flush string `json:"flush"`
}

// defaultFixture is used when no -fixture file is given.
var defaultFixture = fixture{
	SessionID: "sess-demo",
	DeviceID:  "edge-sim",
	Utterances: []utterance{
		{Text: "let us plan the field survey for next week", Flush: "speech_final"},
		{Text: "as a side note the drone battery needs replacing", Flush: "speech_final"},
		{Text: "back to the survey we should start at the north ridge", Flush: "silence"},
		{Text: "override the previous decision and use the east trail", Flush: "speech_final"},
	},
}

func main() {
	os.Exit(run())
}

func run() int {
	fixturePath := flag.String("fixture", "", "path to a fixture JSON file (uses a built-in script when empty)")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "edgesim: %v\n", err)
		return 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	fx := defaultFixture
	if *fixturePath != "" {
		data, err := os.ReadFile(*fixturePath)
		if err != nil {
			logger.Error("read fixture", "path", *fixturePath, "error", err)
			return 1
		}
		if err := json.Unmarshal(data, &fx); err != nil {
			logger.Error("parse fixture", "path", *fixturePath, "error", err)
			return 1
		}
	}

	b := bus.New(bus.Config{
		ClientID: "edgesim",
		Host:     cfg.MQTTHost,
		Port:     cfg.MQTTPort,
		QoS:      byte(cfg.MQTTQoS),
		Logger:   logger,
	})
	ctx := context.Background()
	if err := b.Start(ctx, nil, nil); err != nil {
		logger.Error("connect to mqtt", "error", err)
		return 1
	}
	defer b.Close()

	if err := replay(ctx, b, fx, logger); err != nil {
		logger.Error("replay failed", "error", err)
		return 1
	}
	logger.Info("simulation complete", "session_id", fx.SessionID)
	return 0
}

// replay drives one full session through the pipeline.
func replay(ctx context.Context, b bus.Publisher, fx fixture, logger *slog.Logger) error {
	if err := publishControl(ctx, b, event.TopicSessionControlStart, fx); err != nil {
		return err
	}
	time.Sleep(2 * time.Second)

	frameSeq := 1
	for _, u := range fx.Utterances {
		chunks := chunkText(u.Text, frameParts)
		for i, chunk := range chunks {
			speechFinal := u.Flush == "speech_final" && i == len(chunks)-1
			env, err := event.Build(event.TopicAudioFrame, fx.SessionID, fx.DeviceID, event.AudioFrame{
				FrameSeq:    frameSeq,
				FrameMS:     20,
				Encoding:    "wav_pcm16",
				VADActive:   true,
				SpeechFinal: speechFinal,
				AudioB64:    base64.StdEncoding.EncodeToString([]byte(chunk)),
			})
			if err != nil {
				return err
			}
			if err := b.Publish(ctx, event.TopicAudioFrame, env); err != nil {
				return err
			}
			frameSeq++
			time.Sleep(100 * time.Millisecond)
		}
		logger.Info("utterance sent", "text", u.Text, "flush", u.Flush)
		if u.Flush == "silence" {
			time.Sleep(1500 * time.Millisecond)
		} else {
			time.Sleep(500 * time.Millisecond)
		}
	}

	time.Sleep(2 * time.Second)
	return publishControl(ctx, b, event.TopicSessionControlStop, fx)
}

func publishControl(ctx context.Context, b bus.Publisher, topic string, fx fixture) error {
	env, err := event.Build(topic, fx.SessionID, fx.DeviceID, event.SessionControl{
		SessionID: fx.SessionID,
		DeviceID:  fx.DeviceID,
	})
	if err != nil {
		return err
	}
	return b.Publish(ctx, topic, env)
}

// chunkText splits text into at most parts pieces of roughly equal size.
func chunkText(text string, parts int) []string {
	size := len(text) / parts
	if size < 1 {
		size = 1
	}
	var chunks []string
	for i := 0; i < len(text); i += size {
		end := i + size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[i:end])
	}
	return chunks
}
