package clients

import "time"

// History actions.
const (
	ActionCreated       = "CLIENTE AGREGADO"
	ActionStatusChanged = "ESTATUS MODIFICADO"
	ActionDeleted       = "CLIENTE ELIMINADO"
	ActionDocuments     = "DOCUMENTOS"
	ActionImported      = "IMPORTADO"
)

// SystemActor is recorded when no user is attached to a change.
const SystemActor = "(sistema)"

// HistoryColumns is the persisted header of the history table, in order.
var HistoryColumns = []string{
	"id", "nombre", "estatus_old", "estatus_new", "segundo_old", "segundo_new",
	"observaciones", "action", "actor", "ts",
}

// HistoryEntry is one audit record.
type HistoryEntry struct {
	ID            string `json:"id"`
	Nombre        string `json:"nombre"`
	EstatusOld    string `json:"estatus_old"`
	EstatusNew    string `json:"estatus_new"`
	SegundoOld    string `json:"segundo_old"`
	SegundoNew    string `json:"segundo_new"`
	Observaciones string `json:"observaciones"`
	Action        string `json:"action"`
	Actor         string `json:"actor"`
	TS            string `json:"ts"`
}

// NewHistoryEntry records the transition of c from before (nil for a new
// client) at now. A blank actor becomes SystemActor.
func NewHistoryEntry(before *Client, c Client, action, actor, note string, now time.Time) HistoryEntry {
	if actor == "" {
		actor = SystemActor
	}
	e := HistoryEntry{
		ID:            c.ID,
		Nombre:        c.Nombre,
		EstatusNew:    c.Estatus,
		SegundoNew:    c.SegundoEstatus,
		Observaciones: note,
		Action:        action,
		Actor:         actor,
		TS:            now.Format(time.RFC3339),
	}
	if before != nil {
		e.EstatusOld = before.Estatus
		e.SegundoOld = before.SegundoEstatus
	}
	return e
}

// Values returns the entry in HistoryColumns order.
func (e HistoryEntry) Values() []string {
	return []string{
		e.ID, e.Nombre, e.EstatusOld, e.EstatusNew, e.SegundoOld, e.SegundoNew,
		e.Observaciones, e.Action, e.Actor, e.TS,
	}
}

// HistoryFromRecord decodes a history record using header to locate columns.
func HistoryFromRecord(header, record []string) HistoryEntry {
	var e HistoryEntry
	for i, h := range header {
		if i >= len(record) {
			break
		}
		v := record[i]
		switch h {
		case "id":
			e.ID = v
		case "nombre":
			e.Nombre = v
		case "estatus_old":
			e.EstatusOld = v
		case "estatus_new":
			e.EstatusNew = v
		case "segundo_old":
			e.SegundoOld = v
		case "segundo_new":
			e.SegundoNew = v
		case "observaciones":
			e.Observaciones = v
		case "action":
			e.Action = v
		case "actor":
			e.Actor = v
		case "ts":
			e.TS = v
		}
	}
	return e
}

// HistoryFor returns the entries of client id in order.
func HistoryFor(entries []HistoryEntry, id string) []HistoryEntry {
	var out []HistoryEntry
	for _, e := range entries {
		if e.ID == id {
			out = append(out, e)
		}
	}
	return out
}
