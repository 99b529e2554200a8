package verify

import (
	"time"

	"github.com/alfredjeanlab/verifyd/internal/idgen"
	"github.com/alfredjeanlab/verifyd/internal/model"
)

// BuildItems snapshots lead into one item per canonical field, in canonical
// order. Every item starts with original and verified values equal and both
// flags false.
func BuildItems(sessionID string, lead *model.Lead, now time.Time) ([]*model.Item, error) {
	rec, err := lead.Record()
	if err != nil {
		return nil, model.NewValidationError("lead_snapshot", "lead data is not a JSON object: "+err.Error())
	}
	ids, err := idgen.ItemIDs(len(model.CanonicalFields))
	if err != nil {
		return nil, err
	}

	items := make([]*model.Item, len(model.CanonicalFields))
	for i, f := range model.CanonicalFields {
		v := model.ResolveField(rec, f)
		items[i] = &model.Item{
			ID:            ids[i],
			SessionID:     sessionID,
			FieldName:     f.Name,
			FieldCategory: f.Category,
			Position:      i,
			OriginalValue: v,
			VerifiedValue: v,
			UpdatedAt:     now,
		}
	}
	return items, nil
}
