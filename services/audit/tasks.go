package audit

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// buildTasks converts terminal discrepancies into follow-up records at
// finalization: one missing task per snapshot item that was never found, one
// task per unexpected or incongruent scan. Pure; the caller persists.
func buildTasks(auditID uuid.UUID, missing []SnapshotItem, discrepancies []ScanEvent, now time.Time) []Task {
	tasks := make([]Task, 0, len(missing)+len(discrepancies))

	for _, item := range missing {
		tasks = append(tasks, Task{
			ID:          uuid.New(),
			AuditID:     auditID,
			Type:        TaskMissing,
			Description: fmt.Sprintf("Locate item %s %s: expected %s at %s, never scanned", item.IdentifierKind, item.Identifier, item.ExpectedStatus, item.ExpectedLocation),
			Priority:    "high",
			Status:      TaskOpen,
			Identifier:  item.Identifier,
			CreatedAt:   now,
		})
	}

	for _, scan := range discrepancies {
		var taskType, description string
		switch scan.Outcome {
		case OutcomeUnexpectedPresent:
			taskType = TaskUnexpectedPresent
			description = fmt.Sprintf("Item %s scanned but not expected in this audit; verify its registered location", scan.Identifier)
		case OutcomeStatusIncongruent:
			taskType = TaskStatusIncongruent
			description = fmt.Sprintf("Item %s present but its recorded status disagrees with the snapshot; reconcile the catalog", scan.Identifier)
		default:
			continue
		}

		tasks = append(tasks, Task{
			ID:          uuid.New(),
			AuditID:     auditID,
			Type:        taskType,
			Description: description,
			Priority:    "normal",
			Status:      TaskOpen,
			Identifier:  scan.Identifier,
			CreatedAt:   now,
		})
	}

	return tasks
}
