package entry

import (
	"time"

	"github.com/vthunder/timeline/internal/container"
	"github.com/vthunder/timeline/internal/types"
)

// Record is the tagged, serializable view of an entry
type Record struct {
	Kind           Kind                  `json:"kind"`
	ID             string                `json:"id"`
	Timestamp      time.Time             `json:"timestamp"`
	Duration       time.Duration         `json:"duration,omitempty"`
	Category       types.Category        `json:"category,omitempty"`
	Content        string                `json:"content,omitempty"`
	ContentRef     string                `json:"content_ref,omitempty"`
	ConsensusScore float64               `json:"consensus_score,omitempty"`
	Attributes     map[string]string     `json:"attributes,omitempty"`
	Script         string                `json:"script,omitempty"`
	Active         string                `json:"active,omitempty"` // active candidate id
	Candidates     []container.Candidate `json:"candidates,omitempty"`
	Count          int                   `json:"count,omitempty"`
	EndTimestamp   *time.Time            `json:"end_timestamp,omitempty"`
	Originals      []Record              `json:"originals,omitempty"`
}

// ToRecord converts an entry to its tagged form
func ToRecord(e Entry) Record {
	switch v := e.(type) {
	case *Resolved:
		return Record{
			Kind:           KindResolved,
			ID:             v.ID,
			Timestamp:      v.Timestamp,
			Duration:       v.Duration,
			Category:       v.Category,
			Content:        v.Content,
			ConsensusScore: v.ConsensusScore,
			Attributes:     v.Attributes,
		}
	case *Ambiguous:
		rec := Record{
			Kind:           KindAmbiguous,
			ID:             v.ID,
			Timestamp:      v.Timestamp,
			Duration:       v.Duration,
			Content:        v.Content,
			ContentRef:     v.ContentRef,
			ConsensusScore: v.ConsensusScore,
			Attributes:     v.Attributes,
			Category:       v.ActiveCategory(),
		}
		if v.Container != nil {
			rec.Script = v.Container.Policy().Name()
			rec.Candidates = v.Container.Candidates()
			if a, ok := v.Container.Active(); ok {
				rec.Active = a.ID
			}
		}
		return rec
	case *CompactedRun:
		end := v.EndTimestamp
		rec := Record{
			Kind:         KindRun,
			ID:           v.ID,
			Timestamp:    v.StartTimestamp,
			Count:        v.Count,
			EndTimestamp: &end,
		}
		for _, o := range v.Originals {
			rec.Originals = append(rec.Originals, ToRecord(o))
		}
		return rec
	default:
		return Record{ID: e.EntryID(), Kind: e.Kind(), Timestamp: e.Start()}
	}
}

// ToRecords converts a slice of entries
func ToRecords(entries []Entry) []Record {
	out := make([]Record, 0, len(entries))
	for _, e := range entries {
		out = append(out, ToRecord(e))
	}
	return out
}
