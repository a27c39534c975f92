package audit

// Display labels used by the CSV export. These are presentation strings for
// spreadsheet consumers, not wire identifiers; never parse them back.

var actionLabels = map[Action]string{
	ActionCreate:   "Created",
	ActionRead:     "Viewed",
	ActionUpdate:   "Updated",
	ActionDelete:   "Deleted",
	ActionRestore:  "Restored",
	ActionDownload: "Downloaded",
	ActionExport:   "Exported",
}

// Label returns the human-readable label for an action, falling back to the
// raw enum value for anything unknown.
func (a Action) Label() string {
	if l, ok := actionLabels[a]; ok {
		return l
	}
	return string(a)
}
