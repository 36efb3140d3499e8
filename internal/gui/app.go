// Main window: prompt entry, image viewer and navigation
package gui

import (
	"context"
	"fmt"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"github.com/sirupsen/logrus"

	"image-creator/internal/app"
	"image-creator/internal/config"
	"image-creator/internal/core"
)

// Dispatcher runs controller callbacks on the fyne main goroutine
type Dispatcher struct{}

func (Dispatcher) Do(fn func()) {
	fyne.Do(fn)
}

// Application is the main window. It only renders controller state and
// forwards user actions.
type Application struct {
	app    fyne.App
	window fyne.Window
	ctrl   *app.Controller
	cfg    *config.Config
	logger logrus.FieldLogger

	// GUI components
	prependEntry *widget.Entry
	promptEntry  *widget.Entry
	generateBtn  *widget.Button
	progress     *widget.ProgressBarInfinite
	image        *canvas.Image
	placeholder  *widget.Label
	promptLabel  *widget.Label
	statusLabel  *widget.Label
	counterLabel *widget.Label
	menuHandler  *MenuHandler
}

func NewApplication(fyneApp fyne.App, ctrl *app.Controller, cfg *config.Config, logger logrus.FieldLogger) *Application {
	window := fyneApp.NewWindow("Image Creator")
	window.Resize(fyne.NewSize(1100, 900))
	window.CenterOnScreen()

	a := &Application{
		app:    fyneApp,
		window: window,
		ctrl:   ctrl,
		cfg:    cfg,
		logger: logger,
	}

	a.initializeGUI()
	a.setupLayout()
	a.setupCallbacks()

	return a
}

func (a *Application) initializeGUI() {
	a.prependEntry = widget.NewEntry()
	a.prependEntry.SetPlaceHolder("Prepend (style, artist...)")
	a.prependEntry.SetText(a.cfg.Prepend)

	a.promptEntry = widget.NewEntry()
	a.promptEntry.SetPlaceHolder("Describe the image")
	a.promptEntry.SetText(a.cfg.Prompt)
	a.promptEntry.OnSubmitted = func(string) { a.generate() }

	a.generateBtn = widget.NewButtonWithIcon("Generate", theme.MediaPlayIcon(), a.generate)
	a.generateBtn.Importance = widget.HighImportance

	a.progress = widget.NewProgressBarInfinite()
	a.progress.Hide()

	a.image = canvas.NewImageFromImage(nil)
	a.image.FillMode = canvas.ImageFillContain
	a.image.ScaleMode = canvas.ImageScaleSmooth

	a.placeholder = widget.NewLabel("No images yet. Enter a prompt and press Generate.")
	a.placeholder.Alignment = fyne.TextAlignCenter

	a.promptLabel = widget.NewLabel("")
	a.promptLabel.Wrapping = fyne.TextWrapWord

	a.statusLabel = widget.NewLabel("Ready")
	a.counterLabel = widget.NewLabel("")

	a.menuHandler = NewMenuHandler(a.window, a.ctrl, a.logger)
}

func (a *Application) setupLayout() {
	inputs := container.NewBorder(nil, nil, nil, a.generateBtn,
		container.NewGridWithColumns(2, a.prependEntry, a.promptEntry))

	prev := widget.NewButtonWithIcon("", theme.NavigateBackIcon(), a.previous)
	next := widget.NewButtonWithIcon("", theme.NavigateNextIcon(), a.next)

	viewer := container.NewBorder(nil, nil, prev, next,
		container.NewStack(a.placeholder, a.image))

	status := container.NewBorder(nil, nil, a.statusLabel, a.counterLabel, a.progress)

	footer := container.NewVBox(
		widget.NewSeparator(),
		a.promptLabel,
		status,
	)

	content := container.NewBorder(
		container.NewPadded(inputs), // top
		footer,                      // bottom
		nil,                         // left
		nil,                         // right
		viewer,
	)

	a.window.SetMainMenu(a.menuHandler.GetMainMenu())
	a.window.SetContent(content)
}

func (a *Application) setupCallbacks() {
	a.ctrl.OnChange = a.render
	a.ctrl.OnBusy = a.updateBusy
	a.ctrl.OnError = func(n core.Notification) {
		ShowNotification(n, a.window)
	}
	a.ctrl.OnBackup = func(path string) {
		a.updateStatusMessage(fmt.Sprintf("Backup saved: %s", path))
	}
	a.ctrl.OnSaved = func(path string) {
		a.updateStatusMessage(fmt.Sprintf("Saved: %s", path))
	}

	a.menuHandler.SetCallbacks(a.updateStatusMessage)

	a.window.Canvas().SetOnTypedKey(func(ev *fyne.KeyEvent) {
		switch ev.Name {
		case fyne.KeyLeft:
			a.previous()
		case fyne.KeyRight:
			a.next()
		case fyne.KeyF:
			a.window.SetFullScreen(!a.window.FullScreen())
		}
	})
}

func (a *Application) generate() {
	if err := a.ctrl.Generate(a.prependEntry.Text, a.promptEntry.Text); err != nil {
		a.showError(err)
	}
}

func (a *Application) next() {
	a.ctrl.Next()
}

func (a *Application) previous() {
	a.ctrl.Previous()
}

// render redraws the viewer from the current gallery state
func (a *Application) render() {
	g := a.ctrl.Gallery()
	rec, ok := g.Current()
	if !ok {
		a.image.Image = nil
		a.image.Hide()
		a.placeholder.Show()
		a.promptLabel.SetText("")
		a.counterLabel.SetText("")
		a.image.Refresh()
		return
	}

	a.image.Image = rec.Display()
	a.placeholder.Hide()
	a.image.Show()
	a.image.Refresh()

	a.promptLabel.SetText(rec.Prompt)

	cursor, _ := g.Cursor()
	counter := fmt.Sprintf("%d / %d", cursor+1, g.Len())
	if rec.ShowUpscaled {
		size := rec.Size()
		counter = fmt.Sprintf("%s  (upscaled %dx%d)", counter, size.X, size.Y)
	}
	a.counterLabel.SetText(counter)
}

func (a *Application) updateBusy(b app.Busy) {
	if b.Generating {
		a.generateBtn.Disable()
	} else {
		a.generateBtn.Enable()
	}

	if b.Any() {
		a.progress.Show()
		a.progress.Start()
	} else {
		a.progress.Stop()
		a.progress.Hide()
	}

	switch {
	case b.Generating:
		a.updateStatusMessage("Generating...")
	case b.Upscaling:
		a.updateStatusMessage(fmt.Sprintf("Upscaling on %s...", a.ctrl.UpscaleDevice()))
	case b.BackingUp > 0:
		a.updateStatusMessage(fmt.Sprintf("Backing up (%d queued)...", b.BackingUp))
	case b.FileOps > 0:
		a.updateStatusMessage("Writing files...")
	default:
		a.updateStatusMessage("Ready")
	}
}

func (a *Application) updateStatusMessage(message string) {
	a.statusLabel.SetText(message)
}

func (a *Application) showError(err error) {
	a.logger.WithError(err).Warn("Action rejected")
	ShowNotification(core.Notify(err), a.window)
}

// ShowAndRun starts the workers, loads the output directory in the
// background and blocks until the window is closed.
func (a *Application) ShowAndRun(ctx context.Context) {
	a.logger.Info("Showing main application window")

	a.ctrl.Start(ctx)
	a.render()

	go func() {
		if err := a.ctrl.Load(a.cfg.OutputDir); err != nil {
			fyne.Do(func() { a.showError(err) })
		}
	}()

	var closing bool
	a.window.SetCloseIntercept(func() {
		if closing {
			return
		}
		closing = true

		// draining may take up to the shutdown timeout, keep the UI thread free
		a.window.Hide()
		a.saveState()
		go func() {
			a.shutdown()
			fyne.Do(a.app.Quit)
		}()
	})

	a.window.ShowAndRun()
}

func (a *Application) saveState() {
	if err := a.cfg.SaveState(a.prependEntry.Text, a.promptEntry.Text); err != nil {
		a.logger.WithError(err).Warn("Failed to save prompt state")
	}
}

// shutdown drains the workers; it runs off the fyne main goroutine
func (a *Application) shutdown() {
	a.logger.Info("Cleaning up application resources")
	if err := a.ctrl.Shutdown(context.Background()); err != nil {
		a.logger.WithError(err).Warn("Shutdown incomplete")
	}
}
