package dialogue

import (
	"strings"

	"github.com/looplab/fsm"
)

// Conversation states.
const (
	StateIdle           = "idle"
	StateCollectName    = "collect_name"
	StateCollectDate    = "collect_date"
	StateCollectService = "collect_service"
	StateCollectCost    = "collect_cost"
	StateCollectPaid    = "collect_paid"
	StateAwaitExport    = "await_export_or_restart"
)

// FSM events.
const (
	EventStart   = "start"
	EventName    = "name"
	EventDate    = "date"
	EventService = "service"
	EventCost    = "cost"
	EventPaid    = "paid"
	EventCancel  = "cancel"
)

// Operator phrases and commands.
const (
	PhraseAddPatient    = "Add patient"
	PhraseHelp          = "Help"
	PhraseExport        = "Export data"
	PhraseAddNewPatient = "Add new patient"
	PhraseCancel        = "Cancel"
	CommandStart        = "/start"
	CommandCancel       = "/cancel"
)

var collectingStates = []string{
	StateCollectName,
	StateCollectDate,
	StateCollectService,
	StateCollectCost,
	StateCollectPaid,
}

// transitions is the whole dialogue graph. Export keeps the state and is
// handled outside the FSM.
var transitions = fsm.Events{
	{Name: EventStart, Src: []string{StateIdle, StateAwaitExport}, Dst: StateCollectName},
	{Name: EventName, Src: []string{StateCollectName}, Dst: StateCollectDate},
	{Name: EventDate, Src: []string{StateCollectDate}, Dst: StateCollectService},
	{Name: EventService, Src: []string{StateCollectService}, Dst: StateCollectCost},
	{Name: EventCost, Src: []string{StateCollectCost}, Dst: StateCollectPaid},
	{Name: EventPaid, Src: []string{StateCollectPaid}, Dst: StateAwaitExport},
	{Name: EventCancel, Src: append(append([]string{}, collectingStates...), StateAwaitExport), Dst: StateIdle},
}

// fieldEvents maps a collecting state to the event its answer fires.
var fieldEvents = map[string]string{
	StateCollectName:    EventName,
	StateCollectDate:    EventDate,
	StateCollectService: EventService,
	StateCollectCost:    EventCost,
	StateCollectPaid:    EventPaid,
}

func knownState(s string) bool {
	if s == StateIdle || s == StateAwaitExport {
		return true
	}
	_, ok := fieldEvents[s]
	return ok
}

func matches(input, phrase string) bool {
	return strings.EqualFold(input, phrase)
}

func isCancel(input string) bool {
	return matches(input, CommandCancel) || matches(input, PhraseCancel)
}

func isCommand(input string) bool {
	return strings.HasPrefix(input, "/")
}
