package clients

import (
	"math/big"
	"regexp"
	"slices"
	"strings"
)

// FirstID is allocated when no existing identifier has the C<digits> form.
const FirstID = "C1000"

var idPattern = regexp.MustCompile(`^C([0-9]+)$`)

// parseID returns the numeric suffix of a trimmed C<digits> identifier.
func parseID(id string) (*big.Int, bool) {
	m := idPattern.FindStringSubmatch(strings.TrimSpace(id))
	if m == nil {
		return nil, false
	}
	n, ok := new(big.Int).SetString(m[1], 10)
	return n, ok
}

func formatID(n *big.Int) string {
	return "C" + n.String()
}

// maxID returns the largest suffix among ids, or nil when none matches.
func maxID(ids []string) *big.Int {
	var best *big.Int
	for _, id := range ids {
		if n, ok := parseID(id); ok && (best == nil || n.Cmp(best) > 0) {
			best = n
		}
	}
	return best
}

// AllocateNextID returns "C" followed by one more than the largest numeric
// suffix among ids, or FirstID when none is well formed. Suffixes have no
// size limit.
func AllocateNextID(ids []string) string {
	best := maxID(ids)
	if best == nil {
		return FirstID
	}
	return formatID(new(big.Int).Add(best, big.NewInt(1)))
}

// IDs returns the identifier column of rows.
func IDs(rows []Client) []string {
	out := make([]string, len(rows))
	for i := range rows {
		out[i] = rows[i].ID
	}
	return out
}

// RepairIDColumn gives every blank or repeated identifier a fresh one,
// walking rows in order so the first occurrence of a value keeps it.
// Valid values are returned untouched, surrounding spaces included. It
// returns the repaired copy and the positions that changed.
func RepairIDColumn(ids []string) ([]string, []int) {
	out := slices.Clone(ids)
	present := make(map[string]int, len(out))
	for _, id := range out {
		present[strings.TrimSpace(id)]++
	}

	// The column maximum only grows: a replaced value is blank or still
	// held by an earlier row.
	top := maxID(out)
	used := make(map[string]bool, len(out))
	var changed []int
	for i, id := range out {
		cur := strings.TrimSpace(id)
		if cur != "" && !used[cur] {
			used[cur] = true
			continue
		}

		next := big.NewInt(1000)
		if top != nil {
			next.Add(top, big.NewInt(1))
		}
		fresh := formatID(next)
		for used[fresh] || present[fresh] > 0 {
			next.Add(next, big.NewInt(1))
			fresh = formatID(next)
		}

		present[cur]--
		present[fresh]++
		out[i] = fresh
		used[fresh] = true
		if top == nil || next.Cmp(top) > 0 {
			top = new(big.Int).Set(next)
		}
		changed = append(changed, i)
	}
	return out, changed
}

// RepairIDs applies RepairIDColumn to a table. Only the ID of changed rows
// differs in the returned copy.
func RepairIDs(rows []Client) ([]Client, []int) {
	ids, changed := RepairIDColumn(IDs(rows))
	out := slices.Clone(rows)
	for _, i := range changed {
		out[i].ID = ids[i]
	}
	return out, changed
}
