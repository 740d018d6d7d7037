// Package conflicts detects and resolves write-write divergence between
// local pending mutations and the authoritative remote store.
package conflicts

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/chartkit/chartsync/internal/events"
	"github.com/chartkit/chartsync/internal/models"
)

// ClassificationKind is the detector verdict.
type ClassificationKind string

const (
	// NoConflict: remote is unchanged since the last sync; local wins.
	NoConflict ClassificationKind = "no_conflict"

	// AutoResolvable: local and remote touched disjoint fields.
	AutoResolvable ClassificationKind = "auto_resolvable"

	// RequiresDecision: overlapping field changes or a remote delete of a
	// locally dirty entity; a user must choose.
	RequiresDecision ClassificationKind = "requires_decision"
)

// Classification is the detector output for one entity.
type Classification struct {
	Kind          ClassificationKind
	Priority      models.ConflictPriority
	Diff          []models.FieldChange
	RemoteDeleted bool
}

// significantFields raise priority to high when changed on both sides.
var significantFields = map[string]bool{
	"title":   true,
	"content": true,
}

// Detector classifies divergence using a three-way field diff against the
// last-synced base snapshot. Classification is pure and deterministic:
// identical inputs always yield identical outputs.
type Detector struct {
	logger *events.Logger
	now    func() time.Time
}

// NewDetector creates a conflict detector.
func NewDetector(logger *events.Logger) *Detector {
	return &Detector{
		logger: logger.WithField("component", "conflict_detector"),
		now:    time.Now,
	}
}

// Classify compares the locally pending payload and the pulled remote
// record against the entity's last-synced base snapshot.
func (d *Detector) Classify(state *models.SyncState, localPending models.Fields, remote models.RemoteRecord) Classification {
	// Remote unchanged since last sync: no divergence, local simply wins.
	if !remote.Deleted && remote.Version != "" && remote.Version == state.RemoteVersion {
		return Classification{Kind: NoConflict}
	}

	base := state.BaseSnapshot
	if base == nil {
		base = models.Fields{}
	}

	if remote.Deleted {
		// Deleted remotely while dirty locally: recreate-vs-discard, not
		// a field merge.
		diff := buildDiff(base, localPending, models.Fields{}, localPending.ChangedFrom(base), nil)
		return Classification{
			Kind:          RequiresDecision,
			Priority:      models.PriorityHigh,
			Diff:          diff,
			RemoteDeleted: true,
		}
	}

	localChanged := localPending.ChangedFrom(base)
	remoteChanged := remote.Fields.ChangedFrom(base)
	diff := buildDiff(base, localPending, remote.Fields, localChanged, remoteChanged)

	overlap := intersect(localChanged, remoteChanged)
	if len(overlap) == 0 {
		return Classification{
			Kind:     AutoResolvable,
			Priority: models.PriorityLow,
			Diff:     diff,
		}
	}

	priority := models.PriorityMedium
	for _, name := range overlap {
		if significantFields[name] {
			priority = models.PriorityHigh
			break
		}
	}

	return Classification{
		Kind:     RequiresDecision,
		Priority: priority,
		Diff:     diff,
	}
}

// NewConflict materializes a SyncConflict record from a classification.
func (d *Detector) NewConflict(state *models.SyncState, localPending models.Fields, remote models.RemoteRecord, cls Classification) *models.SyncConflict {
	return &models.SyncConflict{
		ID:            uuid.NewString(),
		EntityID:      state.EntityID,
		EntityType:    state.EntityType,
		Base:          state.BaseSnapshot.Clone(),
		Local:         localPending.Clone(),
		Remote:        remote.Fields.Clone(),
		RemoteDeleted: cls.RemoteDeleted,
		RemoteVersion: remote.Version,
		Diff:          cls.Diff,
		Priority:      cls.Priority,
		Status:        models.ConflictUnresolved,
		DetectedAt:    d.now(),
	}
}

// buildDiff lists every changed field with its three-way values, sorted
// alphabetically. changed slices are already sorted.
func buildDiff(base, local, remote models.Fields, localChanged, remoteChanged []string) []models.FieldChange {
	localSet := toSet(localChanged)
	remoteSet := toSet(remoteChanged)

	union := make(map[string]struct{}, len(localChanged)+len(remoteChanged))
	for name := range localSet {
		union[name] = struct{}{}
	}
	for name := range remoteSet {
		union[name] = struct{}{}
	}

	names := make([]string, 0, len(union))
	for name := range union {
		names = append(names, name)
	}
	sort.Strings(names)

	diff := make([]models.FieldChange, 0, len(names))
	for _, name := range names {
		_, inLocal := localSet[name]
		_, inRemote := remoteSet[name]
		diff = append(diff, models.FieldChange{
			Name:    name,
			Base:    base[name],
			Local:   local[name],
			Remote:  remote[name],
			Overlap: inLocal && inRemote,
		})
	}
	return diff
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

func intersect(a, b []string) []string {
	set := toSet(b)
	var out []string
	for _, n := range a {
		if _, ok := set[n]; ok {
			out = append(out, n)
		}
	}
	return out
}

