// Package dataset holds the aggregated role membership table.
package dataset

import (
	"bytes"
	"cmp"
	"encoding/csv"
	"fmt"
	"io"
	"slices"
)

// Columns is the retained column set in output order.
var Columns = []string{"userPrincipalName", "displayName", "roles", "jobTitle", "description", "id"}

// MemberRecord is one (member, role) pair. A member assigned to several roles
// appears once per role.
type MemberRecord struct {
	UserPrincipalName string `json:"userPrincipalName"`
	DisplayName       string `json:"displayName"`
	Roles             string `json:"roles"`
	JobTitle          string `json:"jobTitle"`
	Description       string `json:"description"`
	ID                string `json:"id"`
}

// Values returns the record's fields in Columns order.
func (r MemberRecord) Values() []string {
	return []string{r.UserPrincipalName, r.DisplayName, r.Roles, r.JobTitle, r.Description, r.ID}
}

// Dataset is an immutable, UPN-ordered sequence of member records.
type Dataset struct {
	records []MemberRecord
}

// New builds a dataset from records in arrival order. Records are sorted by
// userPrincipalName with empty UPNs (service principals) last; records with
// equal UPNs keep their arrival order. The input slice is not retained.
func New(records []MemberRecord) *Dataset {
	out := slices.Clone(records)
	slices.SortStableFunc(out, compareUPN)
	return &Dataset{records: out}
}

func compareUPN(a, b MemberRecord) int {
	switch {
	case a.UserPrincipalName == b.UserPrincipalName:
		return 0
	case a.UserPrincipalName == "":
		return 1
	case b.UserPrincipalName == "":
		return -1
	}
	return cmp.Compare(a.UserPrincipalName, b.UserPrincipalName)
}

// Len returns the number of records.
func (d *Dataset) Len() int {
	return len(d.records)
}

// At returns the i-th record.
func (d *Dataset) At(i int) MemberRecord {
	return d.records[i]
}

// Records returns a copy of the records.
func (d *Dataset) Records() []MemberRecord {
	return slices.Clone(d.records)
}

// WriteCSV writes the dataset with a header row.
func (d *Dataset) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range d.records {
		if err := cw.Write(r.Values()); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// CSV returns the dataset as CSV text.
func (d *Dataset) CSV() (string, error) {
	var buf bytes.Buffer
	if err := d.WriteCSV(&buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RoleCount is the number of records carrying one role.
type RoleCount struct {
	Role  string
	Count int
}

// RoleCounts returns per-role record counts, largest first. Equal counts are
// ordered by role name.
func (d *Dataset) RoleCounts() []RoleCount {
	return d.countRoles(false)
}

// UPNRoleCounts is RoleCounts restricted to records with a
// userPrincipalName. Roles held only by service principals are omitted.
func (d *Dataset) UPNRoleCounts() []RoleCount {
	return d.countRoles(true)
}

func (d *Dataset) countRoles(upnOnly bool) []RoleCount {
	idx := make(map[string]int)
	var counts []RoleCount
	for _, r := range d.records {
		if upnOnly && r.UserPrincipalName == "" {
			continue
		}
		i, ok := idx[r.Roles]
		if !ok {
			i = len(counts)
			idx[r.Roles] = i
			counts = append(counts, RoleCount{Role: r.Roles})
		}
		counts[i].Count++
	}
	slices.SortFunc(counts, func(a, b RoleCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Role, b.Role)
	})
	return counts
}

// DistinctUsers counts distinct member ids.
func (d *Dataset) DistinctUsers() int {
	seen := make(map[string]struct{}, len(d.records))
	for _, r := range d.records {
		seen[r.ID] = struct{}{}
	}
	return len(seen)
}

// MultiRoleUsers counts member ids that appear under more than one role.
func (d *Dataset) MultiRoleUsers() int {
	perID := make(map[string]int, len(d.records))
	for _, r := range d.records {
		perID[r.ID]++
	}
	n := 0
	for _, c := range perID {
		if c > 1 {
			n++
		}
	}
	return n
}

// Missing returns the number of empty values per column, in Columns order.
func (d *Dataset) Missing() []int {
	out := make([]int, len(Columns))
	for _, r := range d.records {
		for i, v := range r.Values() {
			if v == "" {
				out[i]++
			}
		}
	}
	return out
}
