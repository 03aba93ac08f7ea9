package normalize

// AuditTable holds every audit event.
const AuditTable = "Audit Events"

// auditFields maps named audit columns to their API fields.
var auditFields = []struct {
	column string
	field  string
}{
	{"event_type", "eventType"},
	{"action_type", "actionType"},
	{"actor_id", "actionUserId"},
	{"actor_ip", "ipAddress"},
	{"resource_type", "auditResource"},
}

var auditConsumed = map[string]bool{
	"eventDate":     true,
	"eventType":     true,
	"actionType":    true,
	"actionUserId":  true,
	"ipAddress":     true,
	"auditResource": true,
	"resourceId":    true,
	"data":          true,
}

// detailKeys are the recognized keys of an audit detail payload.
var detailKeys = []string{"id", "status", "username"}

func (n *Normalizer) audit(rec map[string]any) Row {
	row := newRow(AuditTable, SourceAudit)

	n.setTime(&row, "event_date", rec["eventDate"])
	for _, f := range auditFields {
		row.Set(f.column, Flatten(rec[f.field]))
	}

	data := rec["data"]
	resourceID := Flatten(rec["resourceId"])
	if resourceID == nil {
		if m, ok := data.(map[string]any); ok {
			resourceID = Flatten(m["id"])
		}
	}
	row.Set("resource_id", resourceID)

	n.auditDetails(&row, data)
	n.flattenRemaining(&row, rec, auditConsumed)
	return row
}

// auditDetails expands a recognized detail payload into details_* columns
// with leftovers in details_extra. Any other payload goes whole into details.
func (n *Normalizer) auditDetails(row *Row, data any) {
	m, ok := data.(map[string]any)
	recognized := false
	if ok {
		for _, k := range detailKeys {
			if _, present := m[k]; present {
				recognized = true
				break
			}
		}
	}

	if !recognized {
		for _, k := range detailKeys {
			row.Set("details_"+k, nil)
		}
		row.Set("details", Flatten(data))
		return
	}

	extra := make(map[string]any)
	for k, v := range m {
		extra[k] = v
	}
	for _, k := range detailKeys {
		row.Set("details_"+k, Flatten(m[k]))
		delete(extra, k)
	}
	if len(extra) > 0 {
		row.Set("details_extra", marshal(extra))
	}
}
