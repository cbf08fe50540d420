package dialogue

import (
	"strings"

	"dental-bot/internal/export"
)

// Keyboard is a set of selectable options rendered under a prompt.
type Keyboard struct {
	Rows    [][]string
	OneTime bool
}

// Reply is the single outbound answer to one inbound message.
type Reply struct {
	Text string
	// Keyboard replaces the operator's option list; nil leaves it alone
	// unless RemoveKeyboard is set.
	Keyboard       *Keyboard
	RemoveKeyboard bool
	// Document is a file to deliver along with the text.
	Document *export.Artifact
}

const (
	textChooseAction   = "Choose an action:"
	textEnterName      = "Enter the patient's name:"
	textEnterDate      = "Enter the appointment date (e.g. 01.05.2025):"
	textChooseSvc      = "Choose a service:"
	textEnterCost      = "Enter the service cost:"
	textEnterPaid      = "Paid? (yes/no)"
	textSaved          = "✅ Data saved successfully!"
	textNotSaved       = "⚠️ The record was not saved. Please send the payment status again to retry."
	textStateNotStored = "⚠️ The conversation could not be updated. Do not resend the record; use the buttons below."
	textBadCost        = "The cost must be a number, for example 50 or 49.99."
	textEmptyAnswer    = "Please answer with text."
	textCancelled      = "Cancelled."
	textExportFailed   = "⚠️ Export failed, please try again later."
	textInternal       = "Something went wrong, please try again."
	textHelpIntro      = "Patient records bot for a dental clinic.\nUse the buttons to add data.\nAvailable services:\n"
)

var (
	mainKeyboard  = &Keyboard{Rows: [][]string{{PhraseAddPatient}, {PhraseHelp}}}
	finalKeyboard = &Keyboard{Rows: [][]string{{PhraseExport}, {PhraseAddNewPatient}}}
)

func lines(parts ...string) string {
	return strings.Join(parts, "\n")
}

func mainMenu(prefix ...string) *Reply {
	return &Reply{Text: lines(append(prefix, textChooseAction)...), Keyboard: mainKeyboard}
}

func finalMenu(prefix ...string) *Reply {
	return &Reply{Text: lines(append(prefix, textChooseAction)...), Keyboard: finalKeyboard}
}

func serviceKeyboard(services []string) *Keyboard {
	rows := make([][]string, 0, len(services))
	for _, s := range services {
		rows = append(rows, []string{s})
	}
	return &Keyboard{Rows: rows, OneTime: true}
}
