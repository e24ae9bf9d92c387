package security

import "strings"

// Allowlist restricts which source tables a loader may read. An empty list
// allows every table.
type Allowlist struct {
	Tables []string
}

func (a Allowlist) AllowsTable(table string) bool {
	if len(a.Tables) == 0 {
		return true
	}
	for _, t := range a.Tables {
		if strings.EqualFold(t, table) {
			return true
		}
	}
	return false
}
