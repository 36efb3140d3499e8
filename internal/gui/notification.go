package gui

import (
	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"image-creator/internal/core"
)

// ShowNotification shows the short message of n with the raw error behind a
// Details toggle and a button copying it to the clipboard.
func ShowNotification(n core.Notification, window fyne.Window) {
	message := widget.NewLabel(n.Message)
	message.Wrapping = fyne.TextWrapWord

	if n.Detail == "" {
		dialog.ShowCustom(n.Title, "Close", message, window)
		return
	}

	detail := widget.NewMultiLineEntry()
	detail.SetText(n.Detail)
	detail.Wrapping = fyne.TextWrapWord
	detail.SetMinRowsVisible(6)
	detail.Hide()

	var toggle *widget.Button
	toggle = widget.NewButtonWithIcon("Details", theme.MenuDropDownIcon(), func() {
		if detail.Visible() {
			detail.Hide()
			toggle.SetText("Details")
		} else {
			detail.Show()
			toggle.SetText("Hide details")
		}
	})

	copyBtn := widget.NewButtonWithIcon("Copy", theme.ContentCopyIcon(), func() {
		window.Clipboard().SetContent(n.Detail)
	})

	content := container.NewBorder(
		message,
		container.NewHBox(toggle, copyBtn),
		nil,
		nil,
		detail,
	)

	d := dialog.NewCustom(n.Title, "Close", content, window)
	d.Resize(fyne.NewSize(520, 200))
	d.Show()
}
