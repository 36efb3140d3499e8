// Menu handler for gallery actions
package gui

import (
	"fmt"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/widget"
	"github.com/sirupsen/logrus"

	"image-creator/internal/app"
	"image-creator/internal/core"
)

// MenuHandler handles menu actions
type MenuHandler struct {
	window fyne.Window
	ctrl   *app.Controller
	logger logrus.FieldLogger

	onStatus func(string)
}

func NewMenuHandler(window fyne.Window, ctrl *app.Controller, logger logrus.FieldLogger) *MenuHandler {
	return &MenuHandler{
		window: window,
		ctrl:   ctrl,
		logger: logger,
	}
}

func (mh *MenuHandler) GetMainMenu() *fyne.MainMenu {
	fileMenu := fyne.NewMenu("File",
		fyne.NewMenuItem("Save Image...", mh.saveImage),
		fyne.NewMenuItem("Backup", mh.backup),
		fyne.NewMenuItemSeparator(),
		fyne.NewMenuItem("Exit", func() {
			mh.window.Close()
		}),
	)

	imageMenu := fyne.NewMenu("Image",
		fyne.NewMenuItem("Copy Prompt", mh.copyPrompt),
		fyne.NewMenuItem("Edit Prompt...", mh.editPrompt),
		fyne.NewMenuItemSeparator(),
		fyne.NewMenuItem("Upscale", mh.upscale),
		fyne.NewMenuItem("Toggle Upscaled", mh.ctrl.ToggleUpscaled),
		fyne.NewMenuItemSeparator(),
		fyne.NewMenuItem("Delete", mh.deleteImage),
	)

	viewMenu := fyne.NewMenu("View",
		fyne.NewMenuItem("Previous", mh.ctrl.Previous),
		fyne.NewMenuItem("Next", mh.ctrl.Next),
		fyne.NewMenuItem("Fullscreen", func() {
			mh.window.SetFullScreen(!mh.window.FullScreen())
		}),
	)

	helpMenu := fyne.NewMenu("Help",
		fyne.NewMenuItem("About", mh.showAbout),
	)

	return fyne.NewMainMenu(fileMenu, imageMenu, viewMenu, helpMenu)
}

func (mh *MenuHandler) saveImage() {
	rec, ok := mh.ctrl.Gallery().Current()
	if !ok {
		mh.showError(core.E(core.StateInvariant, "save", core.ErrEmptyGallery))
		return
	}

	fileDialog := dialog.NewFileSave(func(writer fyne.URIWriteCloser, err error) {
		if err != nil {
			mh.showError(err)
			return
		}
		if writer == nil {
			return
		}
		// the codec writes by path, the dialog only reserves the name
		path := writer.URI().Path()
		writer.Close()

		mh.logger.WithField("path", path).Info("Saving image")
		if err := mh.ctrl.Save(rec.ID, path); err != nil {
			mh.showError(err)
			return
		}
		mh.status(fmt.Sprintf("Saving: %s", path))
	}, mh.window)

	name := rec.BaseName()
	if name == "" {
		name = "image.jpg"
	}
	fileDialog.SetFileName(name)
	fileDialog.SetFilter(storage.NewExtensionFileFilter([]string{".jpg", ".jpeg", ".png", ".webp", ".bmp"}))
	fileDialog.Show()
}

func (mh *MenuHandler) backup() {
	if err := mh.ctrl.Backup(); err != nil {
		mh.showError(err)
		return
	}
	mh.status("Backup queued")
}

func (mh *MenuHandler) copyPrompt() {
	rec, ok := mh.ctrl.Gallery().Current()
	if !ok {
		return
	}
	mh.window.Clipboard().SetContent(rec.Prompt)
	mh.status("Prompt copied")
}

func (mh *MenuHandler) editPrompt() {
	rec, ok := mh.ctrl.Gallery().Current()
	if !ok {
		mh.showError(core.E(core.StateInvariant, "edit prompt", core.ErrEmptyGallery))
		return
	}

	entry := widget.NewMultiLineEntry()
	entry.Wrapping = fyne.TextWrapWord
	entry.SetText(rec.Prompt)
	entry.SetMinRowsVisible(4)

	form := dialog.NewForm("Edit Prompt", "Save", "Cancel",
		[]*widget.FormItem{widget.NewFormItem("Prompt", entry)},
		func(confirmed bool) {
			if !confirmed || strings.TrimSpace(entry.Text) == "" {
				return
			}
			if err := mh.ctrl.EditPrompt(rec.ID, entry.Text); err != nil {
				mh.showError(err)
				return
			}
			mh.status("Updating prompt...")
		}, mh.window)
	form.Resize(fyne.NewSize(600, 250))
	form.Show()
}

func (mh *MenuHandler) upscale() {
	if err := mh.ctrl.Upscale(); err != nil {
		mh.showError(err)
	}
}

func (mh *MenuHandler) deleteImage() {
	rec, ok := mh.ctrl.Gallery().Current()
	if !ok {
		return
	}

	name := rec.BaseName()
	if name == "" {
		name = "this image"
	}
	dialog.ShowConfirm("Delete Image", fmt.Sprintf("Delete %s from disk?", name), func(confirmed bool) {
		if !confirmed {
			return
		}
		if err := mh.ctrl.Delete(rec.ID); err != nil {
			mh.showError(err)
			return
		}
		mh.status(fmt.Sprintf("Deleting: %s", name))
	}, mh.window)
}

func (mh *MenuHandler) showAbout() {
	device := mh.ctrl.UpscaleDevice()
	if device == "" {
		device = "unavailable"
	}

	content := container.NewVBox(
		widget.NewLabel("Image Creator"),
		widget.NewSeparator(),
		widget.NewLabel("Generates images from prompts, removes watermarks"),
		widget.NewLabel("and keeps the prompt inside every saved JPEG."),
		widget.NewSeparator(),
		widget.NewLabel(fmt.Sprintf("Upscaler device: %s", device)),
		widget.NewLabel("Keys: Left/Right to browse, F for fullscreen"),
	)

	aboutDialog := dialog.NewCustom("About", "Close", content, mh.window)
	aboutDialog.Resize(fyne.NewSize(400, 250))
	aboutDialog.Show()
}

func (mh *MenuHandler) showError(err error) {
	mh.logger.WithError(err).Warn("Menu action failed")
	ShowNotification(core.Notify(err), mh.window)
}

func (mh *MenuHandler) status(message string) {
	if mh.onStatus != nil {
		mh.onStatus(message)
	}
}

func (mh *MenuHandler) SetCallbacks(onStatus func(string)) {
	mh.onStatus = onStatus
}
