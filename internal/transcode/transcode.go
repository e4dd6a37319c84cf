// Package transcode converts synthesized audio into Telegram voice notes and encodes images for vision requests.
package transcode

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Telegram renders voice notes only for OGG containers with the Opus codec
const (
	defaultBitrate  = "48k"
	defaultChannels = 1
)

// Transcoder shells out to ffmpeg
type Transcoder struct {
	ffmpegPath string
	bitrate    string

	// run executes the command; replaced in tests
	run func(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error)
}

func NewTranscoder(ffmpegPath string) *Transcoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Transcoder{
		ffmpegPath: ffmpegPath,
		bitrate:    defaultBitrate,
		run:        runCommand,
	}
}

// PCMToOggOpus encodes signed 16-bit little-endian mono samples into an OGG/Opus voice note
func (t *Transcoder) PCMToOggOpus(ctx context.Context, samples []byte, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("no audio samples to transcode")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}

	out, err := t.run(ctx, t.ffmpegPath, t.pcmArgs(sampleRate), samples)
	if err != nil {
		return nil, fmt.Errorf("failed to transcode audio: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("ffmpeg produced no output")
	}
	return out, nil
}

func (t *Transcoder) pcmArgs(sampleRate int) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(defaultChannels),
		"-i", "pipe:0",
		"-c:a", "libopus",
		"-b:a", t.bitrate,
		"-application", "voip",
		"-f", "ogg",
		"pipe:1",
	}
}

func runCommand(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// EncodeImage reads an image file and returns it base64-encoded
func EncodeImage(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
