package normalize

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// FallbackTable holds scans without exactly one recognized engine.
const FallbackTable = "Scans"

// Engine is a scan engine with its own table and columns.
type Engine struct {
	ID    string
	Table string
	// extract adds the engine's own columns beyond status and timing.
	extract func(n *Normalizer, row *Row, s scanView)
}

var engines = map[string]Engine{
	"sast":         {ID: "sast", Table: "SAST", extract: extractSAST},
	"sca":          {ID: "sca", Table: "SCA", extract: extractSCA},
	"kics":         {ID: "kics", Table: "KICS"},
	"apisec":       {ID: "apisec", Table: "API Security"},
	"containers":   {ID: "containers", Table: "Containers"},
	"microengines": {ID: "microengines", Table: "Microengines", extract: extractMicroengines},
}

var engineAliases = map[string]string{
	"iac":          "kics",
	"iac-security": "kics",
	"api-security": "apisec",
	"apisecurity":  "apisec",
	"api security": "apisec",
	"container":    "containers",
}

// engineFields are the record fields that may name a scan's engine.
var engineFields = []string{"engine", "scanEngine", "type"}

var scanConsumed = map[string]bool{
	"id":            true,
	"projectId":     true,
	"projectName":   true,
	"status":        true,
	"branch":        true,
	"sourceType":    true,
	"sourceOrigin":  true,
	"initiator":     true,
	"createdAt":     true,
	"updatedAt":     true,
	"metadata":      true,
	"statusDetails": true,
	"engines":       true,
}

// engineConsumed extends scanConsumed for rows whose engine was resolved.
var engineConsumed = map[string]bool{
	"engine":     true,
	"scanEngine": true,
	"type":       true,
}

var credentialsInURL = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9+.-]*://)[^@/]*@`)

// CanonicalEngine maps an engine name to its canonical id.
func CanonicalEngine(name string) string {
	id := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := engineAliases[id]; ok {
		return alias
	}
	return id
}

// LookupEngine returns the engine with the given name or alias.
func LookupEngine(name string) (Engine, bool) {
	e, ok := engines[CanonicalEngine(name)]
	return e, ok
}

// EngineTables returns the table names of all known engines, sorted.
func EngineTables() []string {
	tables := make([]string, 0, len(engines))
	for _, e := range engines {
		tables = append(tables, e.Table)
	}
	sort.Strings(tables)
	return tables
}

// resolveEngine finds the single engine a scan belongs to.
func resolveEngine(rec map[string]any) (Engine, bool) {
	for _, f := range engineFields {
		if name, ok := rec[f].(string); ok && name != "" {
			return LookupEngine(name)
		}
	}
	if list, ok := rec["engines"].([]any); ok && len(list) == 1 {
		if name, ok := list[0].(string); ok {
			return LookupEngine(name)
		}
	}
	return Engine{}, false
}

// scanView gives typed access to the nested parts of a scan record.
type scanView struct {
	rec      map[string]any
	metadata map[string]any
	configs  []map[string]any
	statuses []map[string]any
}

func newScanView(rec map[string]any) scanView {
	s := scanView{rec: rec}
	s.metadata, _ = rec["metadata"].(map[string]any)
	if list, ok := s.metadata["configs"].([]any); ok {
		for _, c := range list {
			if m, ok := c.(map[string]any); ok {
				s.configs = append(s.configs, m)
			}
		}
	}
	if list, ok := rec["statusDetails"].([]any); ok {
		for _, st := range list {
			if m, ok := st.(map[string]any); ok {
				s.statuses = append(s.statuses, m)
			}
		}
	}
	return s
}

func (s scanView) config(engine string) (map[string]any, bool) {
	for _, c := range s.configs {
		if t, _ := c["type"].(string); CanonicalEngine(t) == engine {
			v, _ := c["value"].(map[string]any)
			return v, true
		}
	}
	return nil, false
}

func (s scanView) status(engine string) map[string]any {
	for _, st := range s.statuses {
		if name, _ := st["name"].(string); CanonicalEngine(name) == engine {
			return st
		}
	}
	return nil
}

func (s scanView) gitHandler() map[string]any {
	handler, _ := s.metadata["Handler"].(map[string]any)
	git, _ := handler["GitHandler"].(map[string]any)
	return git
}

func (n *Normalizer) scan(rec map[string]any) Row {
	s := newScanView(rec)
	engine, ok := resolveEngine(rec)

	table := FallbackTable
	if ok {
		table = engine.Table
	}
	row := newRow(table, SourceScan)
	row.Engine = engine.ID

	n.scanCommon(&row, s)
	consumed := scanConsumed
	if ok {
		n.scanEngine(&row, s, engine)
		consumed = make(map[string]bool, len(scanConsumed)+len(engineConsumed))
		for k := range scanConsumed {
			consumed[k] = true
		}
		for k := range engineConsumed {
			consumed[k] = true
		}
	} else {
		n.scanStatuses(&row, s)
	}
	n.flattenRemaining(&row, rec, consumed)
	return row
}

// scanCommon sets the columns every scan row carries.
func (n *Normalizer) scanCommon(row *Row, s scanView) {
	rec := s.rec
	git := s.gitHandler()

	row.Set("scan_id", Flatten(rec["id"]))

	projectID := Flatten(rec["projectId"])
	if project, ok := s.metadata["project"].(map[string]any); ok && projectID == nil {
		projectID = Flatten(project["id"])
	}
	row.Set("project_id", projectID)
	row.Set("project_name", Flatten(rec["projectName"]))
	row.Set("status", Flatten(rec["status"]))

	branch := Flatten(git["branch"])
	if branch == nil {
		branch = Flatten(rec["branch"])
	}
	row.Set("branch", branch)
	row.Set("repository_type", Flatten(s.metadata["type"]))

	var repoURL any
	if u, ok := git["repo_url"].(string); ok && u != "" {
		repoURL = StripCredentials(u)
	}
	row.Set("repository_url", repoURL)
	row.Set("source_type", Flatten(rec["sourceType"]))
	row.Set("source_origin", Flatten(rec["sourceOrigin"]))
	row.Set("initiator", Flatten(rec["initiator"]))

	if created, ok := rec["createdAt"]; ok && created != nil && created != "" {
		n.setTime(row, "created_date", created)
	} else {
		n.setEpoch(row, "created_date", s.metadata["created_at"])
	}
	n.setTime(row, "updated_date", rec["updatedAt"])

	var enabled []any
	if list, ok := rec["engines"].([]any); ok && len(list) > 0 {
		enabled = list
	} else {
		for _, c := range s.configs {
			if t, ok := c["type"].(string); ok && t != "" {
				enabled = append(enabled, t)
			}
		}
	}
	row.Set("enabled_scan_engines", Flatten(enabled))
}

// scanEngine sets the status, timing and engine-specific columns of engine.
func (n *Normalizer) scanEngine(row *Row, s scanView, engine Engine) {
	st := s.status(engine.ID)
	row.Set(engine.ID+"_status", Flatten(st["status"]))
	n.setTime(row, engine.ID+"_start_date", st["startDate"])
	n.setTime(row, engine.ID+"_end_date", st["endDate"])
	if engine.extract != nil {
		engine.extract(n, row, s)
	}
}

// scanStatuses sets a status column for every engine the scan reports.
func (n *Normalizer) scanStatuses(row *Row, s scanView) {
	for _, st := range s.statuses {
		name, _ := st["name"].(string)
		if name == "" {
			continue
		}
		row.Set(ColumnName(CanonicalEngine(name))+"_status", Flatten(st["status"]))
	}
	if len(s.statuses) == 0 {
		row.Set("status_details", Flatten(s.rec["statusDetails"]))
	}
}

// setEpoch reads a {"seconds": n} timestamp.
func (n *Normalizer) setEpoch(row *Row, column string, v any) {
	m, ok := v.(map[string]any)
	if !ok {
		row.Set(column, nil)
		return
	}
	switch secs := m["seconds"].(type) {
	case json.Number:
		if i, err := secs.Int64(); err == nil && i > 0 {
			row.Set(column, time.Unix(i, 0).UTC())
			return
		}
		row.Set(column, secs.String())
		n.warn(row, column, secs.String(), "invalid epoch seconds")
	case float64:
		row.Set(column, time.Unix(int64(secs), 0).UTC())
	case nil:
		row.Set(column, nil)
	default:
		raw := fmt.Sprint(secs)
		row.Set(column, raw)
		n.warn(row, column, raw, "invalid epoch seconds")
	}
}

func extractSAST(n *Normalizer, row *Row, s scanView) {
	n.setInt(row, "sast_lines_of_code", s.status("sast")["loc"])

	cfg, ok := s.config("sast")
	if !ok {
		row.Set("sast_configuration", nil)
		return
	}
	preset, _ := scalarString(cfg["presetName"])
	incremental, _ := scalarString(cfg["incremental"])
	if preset == "" && incremental == "" {
		row.Set("sast_configuration", "Default")
		return
	}
	row.Set("sast_configuration", fmt.Sprintf("Preset: %s, Incremental: %s", preset, incremental))
}

func extractSCA(_ *Normalizer, row *Row, s scanView) {
	cfg, ok := s.config("sca")
	if !ok {
		row.Set("sca_containers_enabled", nil)
		return
	}
	enabled, ok := scalarString(cfg["enableContainersScan"])
	if !ok || enabled == "" {
		enabled = "false"
	}
	row.Set("sca_containers_enabled", enabled)
}

func extractMicroengines(_ *Normalizer, row *Row, s scanView) {
	cfg, ok := s.config("microengines")
	if !ok {
		row.Set("microengines_enabled", nil)
		return
	}
	var on []string
	for k, v := range cfg {
		if str, _ := scalarString(v); strings.EqualFold(str, "true") {
			on = append(on, k)
		}
	}
	sort.Strings(on)
	if len(on) == 0 {
		row.Set("microengines_enabled", "None")
		return
	}
	row.Set("microengines_enabled", strings.Join(on, ", "))
}

// StripCredentials removes user info from a repository URL.
func StripCredentials(u string) string {
	return credentialsInURL.ReplaceAllString(u, "$1")
}
