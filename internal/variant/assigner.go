// Package variant assigns problem variants to exam sessions.
//
// Each session draws one seed at creation and derives its whole assignment
// from it, so the mapping can be reproduced later for audit. The generator is
// local to the call; nothing here touches the process-global rand state.
package variant

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand"
	"sort"

	"github.com/google/uuid"

	"github.com/inkgrade/inkgrade-backend/internal/model"
)

// NewSeed draws a non-negative 63-bit seed from the OS entropy pool so an
// assignment cannot be predicted or steered by the client.
func NewSeed() (int64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read entropy: %w", err)
	}
	return int64(binary.BigEndian.Uint64(b[:]) >> 1), nil
}

// Assign picks one variant per task type, uniformly at random, driven
// entirely by seed. Task types without variants are skipped.
//
// Inputs are sorted internally, so the result depends only on the seed and
// the identity of the tasks and variants, not on slice order.
func Assign(seed int64, tasks []model.TaskType, variantsByTask map[uuid.UUID][]model.TaskVariant) model.VariantAssignments {
	ordered := make([]model.TaskType, len(tasks))
	copy(ordered, tasks)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].OrderIndex != ordered[j].OrderIndex {
			return ordered[i].OrderIndex < ordered[j].OrderIndex
		}
		return ordered[i].ID.String() < ordered[j].ID.String()
	})

	rng := rand.New(rand.NewSource(seed))
	out := make(model.VariantAssignments, len(ordered))

	for _, task := range ordered {
		variants := variantsByTask[task.ID]
		if len(variants) == 0 {
			continue
		}
		ids := make([]string, len(variants))
		for i, v := range variants {
			ids[i] = v.ID.String()
		}
		sort.Strings(ids)
		out[task.ID] = uuid.MustParse(ids[rng.Intn(len(ids))])
	}
	return out
}
