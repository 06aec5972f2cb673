package models

import (
	"fmt"
	"time"
)

// Table identifies a syncable resource. The set is closed; table names that
// arrive as strings (queue rows, CLI flags) must pass through ParseTable.
type Table string

const (
	TableOrganizations Table = "organizations"
	TableUsers         Table = "users"
	TableDevices       Table = "devices"
	TableEvents        Table = "events"
	TableIncidents     Table = "incidents"
	TableFiles         Table = "files"
)

// DefaultTables returns the full table list in pull order. Reference data
// (organizations, users, devices) syncs before the rows that point at it.
func DefaultTables() []Table {
	return []Table{TableOrganizations, TableUsers, TableDevices, TableEvents, TableIncidents, TableFiles}
}

// ParseTable validates a raw table name against the closed table set.
func ParseTable(s string) (Table, error) {
	switch Table(s) {
	case TableOrganizations, TableUsers, TableDevices, TableEvents, TableIncidents, TableFiles:
		return Table(s), nil
	default:
		return "", fmt.Errorf("unknown table %q", s)
	}
}

// SyncStatus is the per-table sync cursor and last-error record.
// LastSyncAt only moves forward, and only after a successful pull.
type SyncStatus struct {
	Table        Table      `json:"table_name"`
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
	SyncToken    string     `json:"sync_token,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// TableOutcome is the result of one table's pull within a sync call.
type TableOutcome string

const (
	// TableOutcomeSynced indicates the pull completed and the cursor advanced.
	TableOutcomeSynced TableOutcome = "synced"
	// TableOutcomeSkipped indicates the pull is a documented no-op (files).
	TableOutcomeSkipped TableOutcome = "skipped"
	// TableOutcomeFailed indicates the pull errored; the cursor did not move.
	TableOutcomeFailed TableOutcome = "failed"
	// TableOutcomeAborted indicates an earlier table's failure prevented the pull.
	TableOutcomeAborted TableOutcome = "aborted"
)

// TableResult reports the outcome of one table within a SyncReport.
type TableResult struct {
	Table       Table        `json:"table_name"`
	Outcome     TableOutcome `json:"outcome"`
	RowsPulled  int          `json:"rows_pulled"`
	RowsSkipped int          `json:"rows_skipped"`
	Error       string       `json:"error,omitempty"`
}

// SyncReport summarizes one SyncOrganization call.
type SyncReport struct {
	OrgID      string        `json:"org_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Tables     []TableResult `json:"tables"`
}

// Failed returns true if any table pull failed.
func (r *SyncReport) Failed() bool {
	for _, t := range r.Tables {
		if t.Outcome == TableOutcomeFailed {
			return true
		}
	}
	return false
}

// UploadReport summarizes one UploadOfflineChanges call. ItemsSkipped counts
// items whose operation is not implemented cloud-side; they remain queued and
// are reported distinctly from successes so a no-op cannot pass for an upload.
type UploadReport struct {
	AuditLogsUploaded int `json:"audit_logs_uploaded"`
	ItemsUploaded     int `json:"items_uploaded"`
	ItemsSkipped      int `json:"items_skipped"`
	ItemsFailed       int `json:"items_failed"`
	ItemsDeadLettered int `json:"items_dead_lettered"`
}
