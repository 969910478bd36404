// Package feedback records user interactions with operations: session
// starts, approval prompts and answers, classification corrections and undo
// attempts. Collectors are pure sinks; nothing in the pipeline reads the
// rows back to make decisions.
package feedback

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/harrison/opgate/internal/logger"
	"github.com/harrison/opgate/internal/models"
	"github.com/harrison/opgate/internal/store"
)

// Collector receives feedback events for operations.
type Collector interface {
	StartSession(ctx context.Context, op *models.AtomicOperation) error
	PresentForApproval(ctx context.Context, opID string) error
	CollectApproval(ctx context.Context, op *models.AtomicOperation, approved bool, modified string) error
	CollectCorrection(ctx context.Context, op *models.AtomicOperation, fields map[string]string, reasoning string) error
	CollectUndo(ctx context.Context, opID string, method models.ReversibilityMethod, success bool, message string) error
}

// StoreCollector persists each event as a row in the feedback table.
type StoreCollector struct {
	Store  *store.Store
	Logger logger.Logger
	Now    func() time.Time
}

// NewStoreCollector creates a collector writing to st.
func NewStoreCollector(st *store.Store, log logger.Logger) *StoreCollector {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &StoreCollector{Store: st, Logger: log, Now: time.Now}
}

func (c *StoreCollector) save(ctx context.Context, fb *models.Feedback) error {
	if c.Now != nil {
		fb.CreatedAt = c.Now()
	}
	if err := c.Store.SaveFeedback(ctx, nil, fb); err != nil {
		return fmt.Errorf("collect %s feedback: %w", fb.Type, err)
	}
	if c.Logger != nil {
		c.Logger.Debugf("feedback %s for %s", fb.Type, logger.ShortID(fb.OperationID))
	}
	return nil
}

// StartSession records that op entered the pipeline.
func (c *StoreCollector) StartSession(ctx context.Context, op *models.AtomicOperation) error {
	if op == nil {
		return fmt.Errorf("start session: no operation")
	}
	return c.save(ctx, &models.Feedback{
		OperationID: op.ID,
		Type:        models.FeedbackSessionStart,
		Reasoning:   op.SourceAgent,
	})
}

// PresentForApproval records that the operation was shown to the user for approval.
func (c *StoreCollector) PresentForApproval(ctx context.Context, opID string) error {
	return c.save(ctx, &models.Feedback{OperationID: opID, Type: models.FeedbackApprovalPrompt})
}

// CollectApproval records the user's answer. modified is the edited request,
// if the user changed it while approving.
func (c *StoreCollector) CollectApproval(ctx context.Context, op *models.AtomicOperation, approved bool, modified string) error {
	if op == nil {
		return fmt.Errorf("collect approval: no operation")
	}
	return c.save(ctx, &models.Feedback{
		OperationID: op.ID,
		Type:        models.FeedbackApproval,
		Approved:    &approved,
		Modified:    modified,
	})
}

// CollectCorrection records which classification fields the user corrected.
func (c *StoreCollector) CollectCorrection(ctx context.Context, op *models.AtomicOperation, fields map[string]string, reasoning string) error {
	if op == nil {
		return fmt.Errorf("collect correction: no operation")
	}
	if len(fields) == 0 {
		return fmt.Errorf("collect correction for %s: no corrected fields", op.ID)
	}
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return c.save(ctx, &models.Feedback{
		OperationID:     op.ID,
		Type:            models.FeedbackCorrection,
		CorrectedFields: copied,
		Reasoning:       reasoning,
	})
}

// CollectUndo records an undo attempt. Approved holds whether the undo
// succeeded and Modified the reversibility method used.
func (c *StoreCollector) CollectUndo(ctx context.Context, opID string, method models.ReversibilityMethod, success bool, message string) error {
	return c.save(ctx, &models.Feedback{
		OperationID: opID,
		Type:        models.FeedbackUndo,
		Approved:    &success,
		Modified:    string(method),
		Reasoning:   message,
	})
}

// NopCollector discards everything.
type NopCollector struct{}

func (NopCollector) StartSession(context.Context, *models.AtomicOperation) error { return nil }
func (NopCollector) PresentForApproval(context.Context, string) error            { return nil }
func (NopCollector) CollectApproval(context.Context, *models.AtomicOperation, bool, string) error {
	return nil
}
func (NopCollector) CollectCorrection(context.Context, *models.AtomicOperation, map[string]string, string) error {
	return nil
}
func (NopCollector) CollectUndo(context.Context, string, models.ReversibilityMethod, bool, string) error {
	return nil
}

// DiffClassification lists the fields that differ between two
// classifications as field name to corrected value.
func DiffClassification(before, after *models.Classification) map[string]string {
	out := map[string]string{}
	if after == nil {
		return out
	}
	if before == nil {
		before = &models.Classification{}
	}
	set := func(name, old, updated string) {
		if old != updated {
			out[name] = updated
		}
	}
	set("destination", string(before.Destination), string(after.Destination))
	set("consumer", string(before.Consumer), string(after.Consumer))
	set("semantics", string(before.Semantics), string(after.Semantics))
	set("domain", before.Domain, after.Domain)
	set("action_hint", before.ActionHint, after.ActionHint)
	if before.Confidence != after.Confidence {
		out["confidence"] = fmt.Sprintf("%.2f", after.Confidence)
	}
	return out
}

// FieldNames returns the keys of a correction in sorted order.
func FieldNames(fields map[string]string) []string {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
