package admin

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"stocktake/services/audit"
)

// ErrAborted means the operator declined an interactive confirmation.
var ErrAborted = errors.New("aborted by operator")

// FinishConfig drives one interactive finish flow.
type FinishConfig struct {
	Client  *Client
	AuditID uuid.UUID
	Note    string
	// Yes skips the discrepancy prompt and finishes regardless.
	Yes    bool
	Stdin  io.Reader
	Stdout io.Writer
}

// Finish closes an audit. When discrepancies remain it shows the counts and
// asks the operator to confirm before retrying with confirm=true.
func Finish(ctx context.Context, cfg FinishConfig) (audit.Audit, int, error) {
	if cfg.Client == nil {
		return audit.Audit{}, 0, errors.New("client is required")
	}

	finished, tasks, err := cfg.Client.FinishAudit(ctx, cfg.AuditID, cfg.Yes, cfg.Note)
	if err == nil {
		return finished, tasks, nil
	}

	var outstanding *OutstandingError
	if !errors.As(err, &outstanding) {
		return audit.Audit{}, 0, err
	}

	fmt.Fprintf(cfg.Stdout, "Audit %s still has %d missing items and %d discrepancy scans.\n",
		cfg.AuditID, outstanding.Missing, outstanding.Discrepancies)
	fmt.Fprint(cfg.Stdout, "Finish anyway and generate follow-up tasks? Type 'finish' to proceed: ")

	answer, err := readLine(cfg.Stdin)
	if err != nil {
		return audit.Audit{}, 0, err
	}
	if answer != "finish" {
		return audit.Audit{}, 0, ErrAborted
	}

	return cfg.Client.FinishAudit(ctx, cfg.AuditID, true, cfg.Note)
}

// ResetConfig drives one interactive reset flow.
type ResetConfig struct {
	Client  *Client
	AuditID uuid.UUID
	// Yes skips the typed confirmation and sends the audit id directly.
	Yes    bool
	Stdin  io.Reader
	Stdout io.Writer
}

// Reset wipes every scan from an audit. The operator must retype the audit
// id; whatever they type travels to the server, which enforces the match a
// second time.
func Reset(ctx context.Context, cfg ResetConfig) (audit.Audit, int64, error) {
	if cfg.Client == nil {
		return audit.Audit{}, 0, errors.New("client is required")
	}

	confirm := cfg.AuditID.String()
	if !cfg.Yes {
		fmt.Fprintf(cfg.Stdout, "This deletes every scan recorded for audit %s and cannot be undone.\n", cfg.AuditID)
		fmt.Fprint(cfg.Stdout, "Retype the audit id to confirm: ")

		typed, err := readLine(cfg.Stdin)
		if err != nil {
			return audit.Audit{}, 0, err
		}
		if typed != confirm {
			return audit.Audit{}, 0, fmt.Errorf("%w: confirmation did not match the audit id", ErrAborted)
		}
		confirm = typed
	}

	return cfg.Client.ResetAudit(ctx, cfg.AuditID, confirm)
}

func readLine(r io.Reader) (string, error) {
	if r == nil {
		return "", errors.New("no input available for confirmation")
	}
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(scanner.Text()), nil
}
