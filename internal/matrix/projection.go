package matrix

import (
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"github.com/odyssey-erp/authmatrix/internal/rbac"
)

// CategoryAll selects every category.
const CategoryAll = "all"

// Filter narrows the actions shown in the grid.
type Filter struct {
	Category string `json:"category"`
	Search   string `json:"search"`
}

// Matches reports whether a passes the category filter and the case-insensitive search on
// name or description.
func (f Filter) Matches(a rbac.Action) bool {
	category := strings.TrimSpace(f.Category)
	if category != "" && category != CategoryAll && a.Category != category {
		return false
	}
	search := strings.TrimSpace(f.Search)
	if search == "" {
		return true
	}
	fold := cases.Fold()
	needle := fold.String(search)
	return strings.Contains(fold.String(a.Name), needle) ||
		strings.Contains(fold.String(a.Description), needle)
}

// Cell is one (role, action) decision in the grid.
type Cell struct {
	RoleID     int64                `json:"role_id"`
	RoleName   string               `json:"role_name"`
	ActionID   int64                `json:"action_id"`
	ActionName string               `json:"action_name"`
	Category   string               `json:"category"`
	State      rbac.PermissionState `json:"state"`
}

// Row is an action with one cell per role, in role order.
type Row struct {
	Action rbac.Action `json:"action"`
	Cells  []Cell      `json:"cells"`
}

// Totals counts the visible cells by status.
type Totals struct {
	Granted     int `json:"granted"`
	Conditional int `json:"conditional"`
	Denied      int `json:"denied"`
}

func (t *Totals) add(s rbac.Status) {
	switch s {
	case rbac.StatusGranted:
		t.Granted++
	case rbac.StatusConditional:
		t.Conditional++
	default:
		t.Denied++
	}
}

// Grid is the filtered matrix.
type Grid struct {
	Roles      []rbac.Role `json:"roles"`
	Rows       []Row       `json:"rows"`
	Categories []string    `json:"categories"`
	Totals     Totals      `json:"totals"`
	Filter     Filter      `json:"filter"`
}

// Project builds the grid for the actions that pass f. Categories lists every distinct
// category in the catalog regardless of the filter.
func Project(s *Snapshot, f Filter) Grid {
	grid := Grid{
		Roles:      s.Roles,
		Rows:       []Row{},
		Categories: categories(s.Actions),
		Filter:     f,
	}
	for _, a := range s.Actions {
		if !f.Matches(a) {
			continue
		}
		row := Row{Action: a, Cells: make([]Cell, 0, len(s.Roles))}
		for _, r := range s.Roles {
			st := s.Resolve(r.ID, a.ID)
			grid.Totals.add(st.Status)
			row.Cells = append(row.Cells, Cell{
				RoleID:     r.ID,
				RoleName:   r.Name,
				ActionID:   a.ID,
				ActionName: a.Name,
				Category:   a.Category,
				State:      st,
			})
		}
		grid.Rows = append(grid.Rows, row)
	}
	return grid
}

// CellAt resolves a single cell. ok is false when the role or action does not exist.
func CellAt(s *Snapshot, roleID, actionID int64) (Cell, bool) {
	r, ok := s.Role(roleID)
	if !ok {
		return Cell{}, false
	}
	a, ok := s.Action(actionID)
	if !ok {
		return Cell{}, false
	}
	return Cell{
		RoleID:     r.ID,
		RoleName:   r.Name,
		ActionID:   a.ID,
		ActionName: a.Name,
		Category:   a.Category,
		State:      s.Resolve(r.ID, a.ID),
	}, true
}

// ExportRow is one line of the flattened matrix.
type ExportRow struct {
	Role       string
	Action     string
	Status     string
	Limit      string
	Conditions string
	Category   string
}

// Flatten emits every role × action pair, role-major, ignoring any filter.
func Flatten(s *Snapshot) []ExportRow {
	rows := make([]ExportRow, 0, len(s.Roles)*len(s.Actions))
	for _, r := range s.Roles {
		for _, a := range s.Actions {
			st := s.Resolve(r.ID, a.ID)
			row := ExportRow{
				Role:     r.Name,
				Action:   a.Name,
				Status:   string(st.Status),
				Category: a.Category,
			}
			if st.LimitValue != nil {
				row.Limit = strconv.FormatFloat(*st.LimitValue, 'f', -1, 64)
			}
			if st.Conditions != nil {
				row.Conditions = *st.Conditions
			}
			rows = append(rows, row)
		}
	}
	return rows
}

func categories(actions []rbac.Action) []string {
	seen := make(map[string]struct{}, len(actions))
	out := make([]string, 0)
	for _, a := range actions {
		if _, ok := seen[a.Category]; ok {
			continue
		}
		seen[a.Category] = struct{}{}
		out = append(out, a.Category)
	}
	slices.Sort(out)
	return out
}
