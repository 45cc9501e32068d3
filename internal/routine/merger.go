package routine

import (
	"time"

	"github.com/kubev2v/role-normalizer/internal/normalizer"
	"github.com/kubev2v/role-normalizer/internal/store/model"
)

// Merge maps a response back onto the records of batch, one result per record.
func Merge(batch Batch, ids []*int64, attemptedAt time.Time) ([]model.NormalizationResult, error) {
	if len(ids) != len(batch.Titles) {
		return nil, normalizer.NewErrLengthMismatch(len(batch.Titles), len(ids))
	}

	results := make([]model.NormalizationResult, 0, len(batch.Records))
	for i, rec := range batch.Records {
		var roleID *int64
		if id := ids[batch.Slots[i]]; id != nil {
			v := *id
			roleID = &v
		}
		results = append(results, model.NormalizationResult{
			RecordID:    rec.ID,
			OwnerID:     rec.OwnerID,
			RoleID:      roleID,
			AttemptedAt: attemptedAt,
		})
	}
	return results, nil
}
