// CLAUDE:SUMMARY Client record with its persisted column order, column-name accessors and header-driven record decoding.
package clients

import (
	"strings"

	"github.com/hazyhaar/onboarding-crm/pkg/catalog"
)

// Columns is the persisted header of the client table, in order.
var Columns = []string{
	"id", "nombre", "sucursal", "asesor", "fecha_ingreso", "fecha_dispersion",
	"estatus", "monto_propuesta", "monto_final", "segundo_estatus", "observaciones",
	"score", "telefono", "correo", "analista", "fuente",
}

// CatalogColumns binds the columns whose values come from a catalog to
// that catalog's ID.
var CatalogColumns = []struct{ Column, Catalog string }{
	{"estatus", catalog.Status},
	{"segundo_estatus", catalog.SecondStatus},
	{"sucursal", catalog.Branches},
}

// Client is one row of the client table. Every value is kept as text.
type Client struct {
	ID              string `json:"id"`
	Nombre          string `json:"nombre"`
	Sucursal        string `json:"sucursal"`
	Asesor          string `json:"asesor"`
	FechaIngreso    string `json:"fecha_ingreso"`
	FechaDispersion string `json:"fecha_dispersion"`
	Estatus         string `json:"estatus"`
	MontoPropuesta  string `json:"monto_propuesta"`
	MontoFinal      string `json:"monto_final"`
	SegundoEstatus  string `json:"segundo_estatus"`
	Observaciones   string `json:"observaciones"`
	Score           string `json:"score"`
	Telefono        string `json:"telefono"`
	Correo          string `json:"correo"`
	Analista        string `json:"analista"`
	Fuente          string `json:"fuente"`
}

func (c *Client) field(col string) *string {
	switch col {
	case "id":
		return &c.ID
	case "nombre":
		return &c.Nombre
	case "sucursal":
		return &c.Sucursal
	case "asesor":
		return &c.Asesor
	case "fecha_ingreso":
		return &c.FechaIngreso
	case "fecha_dispersion":
		return &c.FechaDispersion
	case "estatus":
		return &c.Estatus
	case "monto_propuesta":
		return &c.MontoPropuesta
	case "monto_final":
		return &c.MontoFinal
	case "segundo_estatus":
		return &c.SegundoEstatus
	case "observaciones":
		return &c.Observaciones
	case "score":
		return &c.Score
	case "telefono":
		return &c.Telefono
	case "correo":
		return &c.Correo
	case "analista":
		return &c.Analista
	case "fuente":
		return &c.Fuente
	}
	return nil
}

// Field returns the value of column col, or "" for unknown columns.
func (c *Client) Field(col string) string {
	if p := c.field(col); p != nil {
		return *p
	}
	return ""
}

// SetField sets column col. It reports false for unknown columns.
func (c *Client) SetField(col, value string) bool {
	p := c.field(col)
	if p == nil {
		return false
	}
	*p = value
	return true
}

// Values returns the row in Columns order.
func (c *Client) Values() []string {
	out := make([]string, len(Columns))
	for i, col := range Columns {
		out[i] = c.Field(col)
	}
	return out
}

// ColumnFor maps a free-form header cell to a known column by normalized
// name, treating spaces and underscores alike. It returns "" when none fits.
func ColumnFor(header string) string {
	key := strings.ReplaceAll(catalog.Normalize(header), " ", "_")
	for _, col := range Columns {
		if col == key {
			return col
		}
	}
	return ""
}

// FromRecord decodes a record using header to locate columns. Unknown
// columns are ignored and missing ones stay empty. Cells are not trimmed.
func FromRecord(header, record []string) Client {
	var c Client
	for i, h := range header {
		if i >= len(record) {
			break
		}
		if col := ColumnFor(h); col != "" {
			c.SetField(col, record[i])
		}
	}
	return c
}
