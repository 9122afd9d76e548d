package clients

import (
	"slices"
	"strings"

	"github.com/hazyhaar/onboarding-crm/pkg/catalog"
)

// Find returns the position of the row with identifier id, or -1.
func Find(rows []Client, id string) int {
	id = strings.TrimSpace(id)
	if id == "" {
		return -1
	}
	return slices.IndexFunc(rows, func(c Client) bool { return strings.TrimSpace(c.ID) == id })
}

// Delete returns rows without the row identified by id and reports whether
// one was removed.
func Delete(rows []Client, id string) ([]Client, bool) {
	i := Find(rows, id)
	if i < 0 {
		return rows, false
	}
	return slices.Delete(slices.Clone(rows), i, i+1), true
}

// FindByNamePhone returns the first row whose name and phone both match
// under normalization, or -1. A blank name never matches.
func FindByNamePhone(rows []Client, nombre, telefono string) int {
	nk := catalog.Normalize(nombre)
	if nk == "" {
		return -1
	}
	tk := catalog.Normalize(telefono)
	return slices.IndexFunc(rows, func(c Client) bool {
		return catalog.Normalize(c.Nombre) == nk && catalog.Normalize(c.Telefono) == tk
	})
}

// Names returns the display names of rows in order, for search lists.
func Names(rows []Client) []string {
	out := make([]string, len(rows))
	for i := range rows {
		out[i] = rows[i].Nombre
	}
	return out
}
