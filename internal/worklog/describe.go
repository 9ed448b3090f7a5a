package worklog

import "strings"

// NoEpicLabel is the sentinel used in descriptions when the parent issue
// has no epic. Keeping it stable matters: the enriched description is one
// of the fingerprint comparison fields, so changing the sentinel would make
// every epic-less entry look modified.
const NoEpicLabel = "no-epic"

// BuildDescription renders the destination description for a record:
//
//	{epic} > {parent_key}: {summary} - {comment}
//
// The epic label falls back to NoEpicLabel when absent. Empty summary or
// comment segments are omitted along with their separators, so the result
// never ends in a dangling ":" or "-".
func BuildDescription(rec Record, meta IssueMeta) string {
	epic := meta.EpicLabel
	if epic == "" {
		epic = NoEpicLabel
	}

	var b strings.Builder
	b.WriteString(epic)
	b.WriteString(" > ")
	b.WriteString(rec.ParentKey)

	if meta.Summary != "" {
		b.WriteString(": ")
		b.WriteString(meta.Summary)
	}
	if rec.RawComment != "" {
		b.WriteString(" - ")
		b.WriteString(rec.RawComment)
	}

	return b.String()
}
