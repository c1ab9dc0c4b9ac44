package storage

import (
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"github.com/Qualiasolutions/qualia-erp-sub000/domain"
)

type taskEntity struct {
	aztables.Entity
	Title      string `json:"Title"`
	Priority   string `json:"Priority"`
	ProjectID  string `json:"ProjectID"`
	Status     string `json:"Status"`
	AssigneeID string `json:"AssigneeID"`
	Done       bool   `json:"Done"`
	Rank       string `json:"Rank"`
}

// entity property per record field
var propertyNames = map[string]string{
	domain.FieldTitle:      "Title",
	domain.FieldPriority:   "Priority",
	domain.FieldProjectID:  "ProjectID",
	domain.FieldStatus:     "Status",
	domain.FieldAssigneeID: "AssigneeID",
	domain.FieldDone:       "Done",
	domain.FieldRank:       "Rank",
}

func decodeEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	t := domain.Task{
		ID:        ent.RowKey,
		Title:     ent.Title,
		Priority:  ent.Priority,
		ProjectID: ent.ProjectID,
		Status:    ent.Status,
		Done:      ent.Done,
		Rank:      ent.Rank,
		UpdatedAt: time.Time(ent.Timestamp),
	}
	if ent.AssigneeID != "" {
		a := ent.AssigneeID
		t.AssigneeID = &a
	}
	return t, nil
}

func insertPayload(tenant string, t domain.Task) map[string]any {
	return map[string]any{
		"PartitionKey": tenant,
		"RowKey":       t.ID,
		"Title":        t.Title,
		"Priority":     t.Priority,
		"ProjectID":    t.ProjectID,
		"Status":       t.Status,
		"AssigneeID":   t.Assignee(),
		"Done":         t.Done,
		"Rank":         domain.NormalizeRank(t.Rank),
	}
}

// mergePayload builds a merge-mode update body. A cleared assignee is
// written as an empty string since merge never drops properties.
func mergePayload(tenant, id string, fields domain.Fields) map[string]any {
	out := map[string]any{"PartitionKey": tenant, "RowKey": id}
	for k, v := range fields {
		prop, ok := propertyNames[k]
		if !ok {
			continue
		}
		switch k {
		case domain.FieldAssigneeID:
			var t domain.Task
			_ = t.Apply(domain.Fields{k: v})
			out[prop] = t.Assignee()
		case domain.FieldRank:
			out[prop] = domain.NormalizeRank(v.(string))
		default:
			out[prop] = v
		}
	}
	return out
}

func odataFilter(tenant string, filter domain.Filter) string {
	var sb strings.Builder
	sb.WriteString("PartitionKey eq ")
	sb.WriteString(quote(tenant))
	for _, k := range filterNames(filter) {
		// unassigned records may have no AssigneeID property at all
		if k == domain.FieldAssigneeID && filter[k] == "" {
			continue
		}
		sb.WriteString(" and ")
		sb.WriteString(propertyNames[k])
		sb.WriteString(" eq ")
		sb.WriteString(quote(filter[k]))
	}
	return sb.String()
}

func filterNames(f domain.Filter) []string {
	fields := make(domain.Fields, len(f))
	for k := range f {
		fields[k] = nil
	}
	return fields.Names()
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
