package residency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// =============================================================================
// STORE - Persistence for recorded legs
// =============================================================================

// Store persists legs per subject. The engine itself never touches a Store;
// callers load a snapshot with Legs and hand it to the builder.
type Store interface {
	// SaveLeg inserts or replaces a leg, keyed by (Subject, ID).
	SaveLeg(ctx context.Context, leg Leg) error

	// Legs returns the subject's legs ordered by departure time.
	// A subject with no legs returns an empty slice, not an error.
	Legs(ctx context.Context, subject SubjectID) ([]Leg, error)

	// DeleteLeg removes one leg. Returns generic.ErrLegNotFound if absent.
	DeleteLeg(ctx context.Context, subject SubjectID, id LegID) error

	// Subjects lists every subject with at least one leg, sorted.
	Subjects(ctx context.Context) ([]SubjectID, error)

	// Reset removes everything. Used by demo scenarios.
	Reset(ctx context.Context) error
}

// =============================================================================
// FINGERPRINT - Content hash of a leg snapshot (cache key)
// =============================================================================

type fingerprintEnd struct {
	Country   string `json:"c"`
	Zone      string `json:"z"`
	Time      string `json:"t"`
	HasOffset bool   `json:"o"`
}

type fingerprintLeg struct {
	ID  LegID          `json:"id"`
	Dep fingerprintEnd `json:"d"`
	Arr fingerprintEnd `json:"a"`
}

// Fingerprint returns a stable hash of everything in legs that can change a
// ledger. Input order does not matter, matching Build.
func Fingerprint(legs []Leg) string {
	entries := make([]fingerprintLeg, len(legs))
	for i, l := range legs {
		entries[i] = fingerprintLeg{
			ID:  l.ID,
			Dep: fingerprintEndpoint(l.Departure),
			Arr: fingerprintEndpoint(l.Arrival),
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		a, _ := json.Marshal(entries[i])
		b, _ := json.Marshal(entries[j])
		return string(a) < string(b)
	})

	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, e := range entries {
		_ = enc.Encode(e)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func fingerprintEndpoint(e Endpoint) fingerprintEnd {
	ts := e.Time.Format("2006-01-02T15:04:05.999999999")
	if e.HasOffset {
		ts = e.Time.UTC().Format(time.RFC3339Nano)
	}
	return fingerprintEnd{Country: e.Country, Zone: e.Timezone, Time: ts, HasOffset: e.HasOffset}
}
