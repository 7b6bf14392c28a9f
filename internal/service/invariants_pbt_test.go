package service

import (
	"context"
	"testing"

	"github.com/erp-sync/internal/models"
	"github.com/erp-sync/internal/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property-based checks over the transition API's counter invariants.

func TestBatchProgressProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("errors accumulate while progress stays absolute", prop.ForAll(
		func(deltas []int) bool {
			env := newTestService(t)
			ctx := context.Background()
			env.service.InitializeSync(ctx, types.EntityProducts, types.DirectionERPToStore, 10, "op-pbt")

			sum := 0
			for i, delta := range deltas {
				env.service.UpdateBatchProgress(ctx, i+1, (i+1)*10, delta)
				sum += delta
			}

			current := env.service.ReadStatus(ctx).Current
			if current.Errors != sum {
				return false
			}
			if len(deltas) > 0 {
				return current.CurrentBatch == len(deltas) && current.ItemsSynced == len(deltas)*10
			}
			return current.CurrentBatch == 0 && current.ItemsSynced == 0
		},
		gen.SliceOf(gen.IntRange(0, 20)),
	))

	properties.TestingRun(t)
}

func TestPatchApplicationProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("empty patch is the identity", prop.ForAll(
		func(batch, items, errors int) bool {
			current := models.CurrentSync{
				InProgress:   true,
				Entity:       types.EntityProducts,
				Direction:    types.DirectionERPToStore,
				BatchSize:    50,
				CurrentBatch: batch,
				ItemsSynced:  items,
				Errors:       errors,
				OperationID:  "op-pbt",
			}
			before := current

			(&models.CurrentSyncPatch{}).Apply(&current)
			return current == before
		},
		gen.IntRange(0, 1000),
		gen.IntRange(0, 100000),
		gen.IntRange(0, 1000),
	))

	properties.Property("patch never touches protected fields it omits", prop.ForAll(
		func(newBatch int) bool {
			current := models.CurrentSync{
				InProgress:   true,
				TotalBatches: 42,
				TotalItems:   4200,
				OperationID:  "op-protected",
			}

			(&models.CurrentSyncPatch{CurrentBatch: &newBatch}).Apply(&current)

			return current.TotalBatches == 42 &&
				current.TotalItems == 4200 &&
				current.OperationID == "op-protected" &&
				current.InProgress &&
				current.CurrentBatch == newBatch
		},
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}

func TestClampRepairProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("repair clamps progress down, never inflates totals", prop.ForAll(
		func(total, overshoot int) bool {
			env := newTestService(t)
			ctx := context.Background()

			seedRawStatus(t, env, map[string]interface{}{
				"currentBatch": total + overshoot,
				"totalBatches": total,
			})

			report := env.service.ValidateStateConsistency(ctx)
			env.service.AutoFixInconsistencies(ctx, report)

			current := env.service.ReadStatus(ctx).Current
			return current.TotalBatches == total && current.CurrentBatch <= total
		},
		gen.IntRange(1, 100),
		gen.IntRange(1, 100),
	))

	properties.TestingRun(t)
}
