package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kikiluvv/captionburn/internal/captions"
	"github.com/kikiluvv/captionburn/internal/config"
	"github.com/kikiluvv/captionburn/internal/export"
	"github.com/kikiluvv/captionburn/internal/gui"
	"github.com/kikiluvv/captionburn/internal/logging"
	"github.com/kikiluvv/captionburn/internal/pipeline"
	"github.com/kikiluvv/captionburn/internal/preview"
	"github.com/kikiluvv/captionburn/pkg/util"
)

func newPipeline(cmd *cobra.Command) (*pipeline.Pipeline, *config.Config, error) {
	cfg := config.FromContext(cmd.Context())
	pipe, err := pipeline.New(log.Logger, cfg)
	if err != nil {
		return nil, nil, err
	}
	return pipe, cfg, nil
}

// addStyleFlags registers the per-run style overrides
func addStyleFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("animation", "", "animation: "+strings.Join(captions.AnimationNames(), ", "))
	f.String("position", "", "caption position: top, middle, bottom")
	f.String("font", "", "font family list")
	f.Float64("font-size", 0, "font size in reference pixels")
	f.String("color", "", "text color")
	f.String("background", "", "plate color, or transparent")
	f.Bool("outline", true, "draw the text outline and shadow")
}

// styleFromFlags applies changed style flags on top of the configured style
func styleFromFlags(cmd *cobra.Command, base captions.Style) (captions.Style, error) {
	f := cmd.Flags()
	style := base
	if f.Changed("animation") {
		v, _ := f.GetString("animation")
		a, err := captions.ParseAnimation(v)
		if err != nil {
			return style, err
		}
		style.Animation = a
	}
	if f.Changed("position") {
		v, _ := f.GetString("position")
		p, err := captions.ParsePosition(v)
		if err != nil {
			return style, err
		}
		style.Position = p
	}
	if f.Changed("font") {
		style.FontFamily, _ = f.GetString("font")
	}
	if f.Changed("font-size") {
		style.FontSize, _ = f.GetFloat64("font-size")
	}
	if f.Changed("color") {
		style.TextColor, _ = f.GetString("color")
	}
	if f.Changed("background") {
		style.BackgroundColor, _ = f.GetString("background")
	}
	if f.Changed("outline") {
		style.Outline, _ = f.GetBool("outline")
	}
	return style, style.Validate()
}

var exportCmd = &cobra.Command{
	Use:   "export [input video] [captions file]",
	Short: "Burn captions into a video",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pipe, cfg, err := newPipeline(cmd)
		if err != nil {
			return err
		}
		defer pipe.Close()

		entries, err := captions.LoadFile(args[1])
		if err != nil {
			return err
		}
		style, err := styleFromFlags(cmd, cfg.Style)
		if err != nil {
			return err
		}
		outDir, _ := cmd.Flags().GetString("out")
		format, _ := cmd.Flags().GetString("format")

		progressLog := logging.WithComponent("export")
		every := max(1, int(cfg.Export.FPS*5))
		res, err := pipe.Export(cmd.Context(), args[0], entries, style, pipeline.ExportOptions{
			OutputDir: outDir,
			Format:    format,
			Progress: func(frame, total int) {
				if frame == total || frame%every == 0 {
					progressLog.Info().Msgf("frame %d/%d", frame, total)
				}
			},
		})
		if err != nil {
			if export.IsFailure(err) {
				log.Error().Err(err).Msg(export.Reason(err))
			}
			return err
		}

		fmt.Println(res.Path)
		return nil
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot [input video] [captions file]",
	Short: "Render one captioned frame to PNG",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pipe, cfg, err := newPipeline(cmd)
		if err != nil {
			return err
		}
		defer pipe.Close()

		entries, err := captions.LoadFile(args[1])
		if err != nil {
			return err
		}
		style, err := styleFromFlags(cmd, cfg.Style)
		if err != nil {
			return err
		}
		at, err := timeFlag(cmd, "at")
		if err != nil {
			return err
		}
		out, _ := cmd.Flags().GetString("out")

		return pipe.Snapshot(cmd.Context(), args[0], entries, style, pipeline.SnapshotOptions{At: at, OutputPath: out})
	},
}

var previewCmd = &cobra.Command{
	Use:   "preview [captions file]",
	Short: "Print the overlay state of the live preview at a time or over a range",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		entries, err := captions.LoadFile(args[0])
		if err != nil {
			return err
		}
		style, err := styleFromFlags(cmd, cfg.Style)
		if err != nil {
			return err
		}

		f := cmd.Flags()
		at, err := timeFlag(cmd, "at")
		if err != nil {
			return err
		}
		css, _ := f.GetBool("css")

		if f.Changed("end") {
			end, err := timeFlag(cmd, "end")
			if err != nil {
				return err
			}
			fps, _ := f.GetFloat64("fps")
			return writeJSON(preview.Timeline(entries, style, at, end, fps))
		}

		o := preview.Describe(entries, style, at)
		if css {
			fmt.Println(o.CSS(style))
			return nil
		}
		return writeJSON(o)
	},
}

var srtCmd = &cobra.Command{
	Use:   "srt [captions file]",
	Short: "Convert captions to SubRip",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := captions.LoadFile(args[0])
		if err != nil {
			return err
		}
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			return captions.WriteSRT(os.Stdout, entries)
		}

		f, err := os.Create(out)
		if err != nil {
			return err
		}
		if err := captions.WriteSRT(f, entries); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	},
}

var transcribeCmd = &cobra.Command{
	Use:   "transcribe [input video]",
	Short: "Generate timed captions with the transcription service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pipe, _, err := newPipeline(cmd)
		if err != nil {
			return err
		}
		defer pipe.Close()

		language, _ := cmd.Flags().GetString("language")
		audioOnly, _ := cmd.Flags().GetBool("audio-only")
		entries, err := pipe.Transcribe(cmd.Context(), args[0], pipeline.TranscribeOptions{
			Language:  language,
			AudioOnly: audioOnly,
		})
		if err != nil {
			return err
		}

		out, _ := cmd.Flags().GetString("out")
		switch {
		case out == "":
			return writeJSON(entries)
		case strings.EqualFold(filepath.Ext(out), ".srt"):
			return os.WriteFile(out, []byte(captions.FormatSRT(entries)), 0644)
		default:
			return captions.SaveJSON(out, entries)
		}
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe [input video]",
	Short: "Show video metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pipe, _, err := newPipeline(cmd)
		if err != nil {
			return err
		}
		defer pipe.Close()

		info, err := pipe.Probe(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return writeJSON(info)
	},
}

var studioCmd = &cobra.Command{
	Use:   "studio [input video] [captions file]",
	Short: "Open the editor window",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pipe, cfg, err := newPipeline(cmd)
		if err != nil {
			return err
		}
		defer pipe.Close()

		var videoPath, captionsPath string
		if len(args) > 0 {
			videoPath = args[0]
		}
		if len(args) > 1 {
			captionsPath = args[1]
		}
		gui.RunGUI(log.Logger, cfg, pipe, videoPath, captionsPath)
		return nil
	},
}

var fontsCmd = &cobra.Command{
	Use:   "fonts",
	Short: "List registered font families",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := pipeline.LoadFonts(config.FromContext(cmd.Context()))
		if err != nil {
			return err
		}
		for _, name := range registry.List() {
			fmt.Println(name)
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config management commands",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		enc := yaml.NewEncoder(os.Stdout)
		defer enc.Close()
		return enc.Encode(config.FromContext(cmd.Context()))
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "captionburn.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if util.FileExists(path) {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.Default().Save(path); err != nil {
			return err
		}
		log.Info().Str("path", path).Msg("config written")
		return nil
	},
}

// timeFlag parses a timestamp flag
func timeFlag(cmd *cobra.Command, name string) (float64, error) {
	v, _ := cmd.Flags().GetString(name)
	t, err := util.ParseTimestamp(v)
	if err != nil {
		return 0, fmt.Errorf("--%s: %w", name, err)
	}
	return t, nil
}

func writeJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	addStyleFlags(exportCmd)
	exportCmd.Flags().StringP("out", "o", "", "output directory (default from config)")
	exportCmd.Flags().String("format", "", "webm or mjpeg (default from config)")

	addStyleFlags(snapshotCmd)
	snapshotCmd.Flags().String("at", "0", "time as seconds or HH:MM:SS.mmm")
	snapshotCmd.Flags().StringP("out", "o", "snapshot.png", "output PNG")

	addStyleFlags(previewCmd)
	previewCmd.Flags().String("at", "0", "time as seconds or HH:MM:SS.mmm, or range start with --end")
	previewCmd.Flags().String("end", "", "range end")
	previewCmd.Flags().Float64("fps", 30, "samples per second for a range")
	previewCmd.Flags().Bool("css", false, "print the inline CSS instead of JSON")

	srtCmd.Flags().StringP("out", "o", "", "output file (default stdout)")

	transcribeCmd.Flags().String("language", "", "caption language (default from config)")
	transcribeCmd.Flags().StringP("out", "o", "", "output .json or .srt (default stdout JSON)")
	transcribeCmd.Flags().Bool("audio-only", false, "upload only the audio track")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}
