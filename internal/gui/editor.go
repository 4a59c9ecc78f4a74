package gui

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/widget"
	"github.com/rs/zerolog"

	"github.com/kikiluvv/captionburn/internal/captions"
	"github.com/kikiluvv/captionburn/internal/compositor"
	"github.com/kikiluvv/captionburn/internal/config"
	"github.com/kikiluvv/captionburn/internal/export"
	"github.com/kikiluvv/captionburn/internal/pipeline"
	"github.com/kikiluvv/captionburn/internal/preview"
	"github.com/kikiluvv/captionburn/internal/studio"
)

// RunGUI opens the studio window and blocks until it is closed
func RunGUI(logger zerolog.Logger, cfg *config.Config, p *pipeline.Pipeline, videoPath, captionsPath string) {
	s := studio.New(logger, cfg.Style)
	logger = logger.With().Str("component", "gui").Logger()

	myApp := app.NewWithID("captionburn")
	w := myApp.NewWindow("captionburn studio")
	w.Resize(fyne.NewSize(960, 720))

	frame := canvas.NewImageFromImage(image.NewRGBA(image.Rect(0, 0, 16, 9)))
	frame.FillMode = canvas.ImageFillContain
	frame.SetMinSize(fyne.NewSize(640, 360))

	videoLabel := widget.NewLabel("No video loaded")
	captionLabel := widget.NewLabel("")
	timestampLabel := widget.NewLabel("Current: 0.00s")
	status := widget.NewLabel("")
	progress := widget.NewProgressBar()
	slider := widget.NewSlider(0, 1)
	slider.Step = 1 / cfg.Export.FPS

	go s.Run(func(img image.Image, t float64, o preview.Overlay) {
		text := o.Summary()
		fyne.Do(func() {
			frame.Image = img
			frame.Refresh()
			captionLabel.SetText(text)
		})
	})

	slider.OnChanged = func(val float64) {
		timestampLabel.SetText(fmt.Sprintf("Current: %.2fs", val))
		s.Request(val)
	}

	animSelect := widget.NewSelect(captions.AnimationNames(), func(v string) {
		a, err := captions.ParseAnimation(v)
		if err != nil {
			return
		}
		s.UpdateStyle(func(st *captions.Style) { st.Animation = a })
		s.Request(slider.Value)
	})
	animSelect.SetSelected(string(cfg.Style.Animation))

	posSelect := widget.NewSelect([]string{
		string(captions.PositionTop),
		string(captions.PositionMiddle),
		string(captions.PositionBottom),
	}, func(v string) {
		pos, err := captions.ParsePosition(v)
		if err != nil {
			return
		}
		s.UpdateStyle(func(st *captions.Style) { st.Position = pos })
		s.Request(slider.Value)
	})
	posSelect.SetSelected(string(cfg.Style.Position))

	loadVideo := func(path string) {
		duration, err := openVideo(p, cfg, s, path)
		if err != nil {
			dialog.ShowError(err, w)
			return
		}
		videoLabel.SetText("Loaded: " + filepath.Base(path))
		slider.Min = 0
		slider.Max = duration
		slider.SetValue(0)
		s.Request(0)
	}

	loadCaptions := func(path string) {
		entries, err := captions.LoadFile(path)
		if err != nil {
			dialog.ShowError(err, w)
			return
		}
		s.SetEntries(entries)
		status.SetText(fmt.Sprintf("%d captions loaded", len(entries)))
		s.Request(slider.Value)
	}

	loadButton := widget.NewButton("Load Video", func() {
		fd := dialog.NewFileOpen(func(ur fyne.URIReadCloser, err error) {
			if ur == nil {
				return
			}
			defer ur.Close()
			loadVideo(ur.URI().Path())
		}, w)
		fd.SetFilter(storage.NewExtensionFileFilter([]string{".mp4", ".mov", ".mkv", ".webm"}))
		fd.Show()
	})

	captionsButton := widget.NewButton("Load Captions", func() {
		fd := dialog.NewFileOpen(func(ur fyne.URIReadCloser, err error) {
			if ur == nil {
				return
			}
			defer ur.Close()
			loadCaptions(ur.URI().Path())
		}, w)
		fd.SetFilter(storage.NewExtensionFileFilter([]string{".json", ".srt", ".vtt", ".ssa", ".ass"}))
		fd.Show()
	})

	var exportButton, cancelButton *widget.Button
	cancelButton = widget.NewButton("Cancel", func() {
		if s.StopExport() {
			status.SetText("Canceling...")
		}
	})
	cancelButton.Disable()

	exportButton = widget.NewButton("Export", func() {
		path, entries, style := s.Current()
		if path == "" {
			dialog.ShowInformation("Export", "Load a video first", w)
			return
		}

		ctx, ok := s.StartExport()
		if !ok {
			return
		}
		exportButton.Disable()
		cancelButton.Enable()
		progress.SetValue(0)
		status.SetText("Exporting...")
		go func() {
			res, err := p.Export(ctx, path, entries, style, pipeline.ExportOptions{
				Progress: func(frame, total int) {
					fyne.Do(func() { progress.SetValue(float64(frame) / float64(total)) })
				},
			})
			s.StopExport()
			fyne.Do(func() {
				exportButton.Enable()
				cancelButton.Disable()
				switch {
				case errors.Is(err, export.ErrCanceled):
					status.SetText("Export canceled")
				case err != nil:
					logger.Error().Err(err).Msg("export failed")
					status.SetText("Export failed")
					dialog.ShowError(errors.New(export.Reason(err)), w)
				default:
					status.SetText("Saved " + res.Path)
				}
			})
		}()
	})

	w.SetOnClosed(s.Close)
	w.SetContent(
		container.NewBorder(
			container.NewVBox(
				videoLabel,
				container.NewHBox(loadButton, captionsButton, animSelect, posSelect, exportButton, cancelButton),
			),
			container.NewVBox(
				slider,
				timestampLabel,
				captionLabel,
				progress,
				status,
			),
			nil, nil,
			frame,
		),
	)

	if videoPath != "" {
		loadVideo(videoPath)
	}
	if captionsPath != "" {
		loadCaptions(captionsPath)
	}

	w.ShowAndRun()
}

// openVideo loads path into the studio and returns its duration
func openVideo(p *pipeline.Pipeline, cfg *config.Config, s *studio.Studio, path string) (float64, error) {
	src, err := p.OpenSource(context.Background(), path)
	if err != nil {
		return 0, err
	}
	w, h := src.Size()
	comp, err := compositor.New(w, h, p.Fonts(), compositor.Options{
		ReferenceWidth: cfg.Export.ReferenceWidth,
		PlateRadius:    cfg.Export.PlateRadius,
	})
	if err != nil {
		src.Close()
		return 0, err
	}

	s.Load(path, src, comp)
	return src.Duration(), nil
}
