package ffmpeg

import (
	"context"
	"fmt"
)

// AudioFormat defines audio extraction format options
type AudioFormat struct {
	Codec      string
	SampleRate int
	Channels   int
	Bitrate    string
	Extension  string
	MIMEType   string
}

// TranscriptionFormat is a small mono MP3, enough for speech recognition
func TranscriptionFormat() AudioFormat {
	return AudioFormat{
		Codec:      "libmp3lame",
		SampleRate: 16000,
		Channels:   1, // mono
		Bitrate:    "64k",
		Extension:  "mp3",
		MIMEType:   "audio/mpeg",
	}
}

// AudioArgs builds the ffmpeg arguments for ExtractAudio
func AudioArgs(input, output string, format AudioFormat) []string {
	args := []string{
		"-i", input,
		"-vn", // no video
		"-acodec", format.Codec,
		"-ar", fmt.Sprintf("%d", format.SampleRate),
		"-ac", fmt.Sprintf("%d", format.Channels),
	}

	if format.Bitrate != "" {
		args = append(args, "-b:a", format.Bitrate)
	}

	return append(args, output)
}

// ExtractAudio extracts the audio stream to a separate file
func (e *Executor) ExtractAudio(ctx context.Context, input, output string, format AudioFormat, progressFunc ProgressFunc) error {
	if input == "" || output == "" {
		return fmt.Errorf("input and output paths are required")
	}

	e.logger.Info().
		Str("input", input).
		Str("output", output).
		Str("codec", format.Codec).
		Int("sample_rate", format.SampleRate).
		Msg("extracting audio")

	opts := RunOptions{
		Args:            AudioArgs(input, output, format),
		ProgressHandler: progressFunc,
		LogHandler: func(line string) {
			e.logger.Debug().Str("ffmpeg", line).Msg("audio extraction")
		},
	}

	return e.Run(ctx, opts)
}
