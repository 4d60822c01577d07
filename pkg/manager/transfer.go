package manager

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pcesched/pcesched/pkg/policy"
	"github.com/pcesched/pcesched/pkg/schedule"
	"github.com/pcesched/pcesched/pkg/stores"
)

// ImportResult reports what Import did.
type ImportResult struct {
	Count    int                `json:"count"`
	Warnings []policy.Violation `json:"warnings,omitempty"`
}

// Import reads a schedule document and stores every record. With replace
// set, schedules missing from the document are removed. Nothing is stored if
// any record is rejected by policy.
func (m *Manager) Import(ctx context.Context, r io.Reader, replace bool, actor string) (*ImportResult, error) {
	doc, err := schedule.ReadDocument(r)
	if err != nil {
		return nil, err
	}
	actor = actorOr(actor)

	result := &ImportResult{}
	if m.policies != nil {
		var rejected []string
		for _, href := range doc.Hrefs() {
			pr, err := m.policies.Evaluate(ctx, href, doc[href], "import", actor)
			if err != nil {
				return nil, fmt.Errorf("failed to evaluate policies for %s: %w", href, err)
			}
			if !pr.Allowed {
				rejected = append(rejected, (&PolicyError{Href: href, Result: pr}).Error())
			}
			result.Warnings = append(result.Warnings, pr.Warnings()...)
		}
		if len(rejected) > 0 {
			return nil, fmt.Errorf("import rejected: %s", strings.Join(rejected, "; "))
		}
	}

	n, err := m.store.Import(ctx, doc, replace)
	if err != nil {
		return nil, fmt.Errorf("failed to import schedules: %w", err)
	}
	result.Count = n

	m.audit(ctx, stores.AuditImport, actor, "", map[string]any{"count": n, "replace": replace})
	m.logger.WithField("count", n).WithField("replace", replace).Info("Schedules imported")
	return result, nil
}

// Export writes every schedule to w as "json" (the persisted document shape)
// or "yaml".
func (m *Manager) Export(ctx context.Context, w io.Writer, format string) error {
	doc, err := m.store.Export(ctx)
	if err != nil {
		return fmt.Errorf("failed to export schedules: %w", err)
	}
	switch strings.ToLower(format) {
	case "", "json":
		return doc.WriteJSON(w)
	case "yaml", "yml":
		return doc.WriteYAML(w)
	default:
		return fmt.Errorf("unsupported export format %q (want json or yaml)", format)
	}
}
