// Package usage owns the multi-granularity token ledger.
//
// DESIGN: Everything is a Bucket: an additive counter set keyed by a time
// window (hour/day/week/month) or an identity dimension (chat/model/source).
// Buckets only ever grow; the total invariant (total = input + output +
// reasoning) is enforced at write time, never recomputed lazily.
//
// FILES:
//   - bucket.go: Bucket type and additive operations
//   - keys.go:   Time-bucket key formatting (fixed UTC reference zone)
//   - store.go:  Store - single mutation entry point, snapshots, reset
package usage

// Bucket is an additive counter set. Hour and day buckets additionally carry
// nested per-model and per-source breakdowns (one level deep, never nested
// further).
type Bucket struct {
	Input        int64 `json:"input"`
	Output       int64 `json:"output"`
	Reasoning    int64 `json:"reasoning"`
	Total        int64 `json:"total"`
	MessageCount int64 `json:"messageCount"`

	Models  map[string]*Bucket `json:"models,omitempty"`
	Sources map[string]*Bucket `json:"sources,omitempty"`
}

// add applies one exchange's counts to the bucket.
func (b *Bucket) add(input, output, reasoning int64) {
	b.Input += input
	b.Output += output
	b.Reasoning += reasoning
	b.Total += input + output + reasoning
	b.MessageCount++
}

// addModel applies counts to the nested per-model breakdown.
func (b *Bucket) addModel(modelID string, input, output, reasoning int64) {
	if modelID == "" {
		return
	}
	if b.Models == nil {
		b.Models = make(map[string]*Bucket)
	}
	sub := b.Models[modelID]
	if sub == nil {
		sub = &Bucket{}
		b.Models[modelID] = sub
	}
	sub.add(input, output, reasoning)
}

// addSource applies counts to the nested per-source breakdown.
func (b *Bucket) addSource(sourceID string, input, output, reasoning int64) {
	if sourceID == "" {
		return
	}
	if b.Sources == nil {
		b.Sources = make(map[string]*Bucket)
	}
	sub := b.Sources[sourceID]
	if sub == nil {
		sub = &Bucket{}
		b.Sources[sourceID] = sub
	}
	sub.add(input, output, reasoning)
}

// merge adds every counter of other into b, recursing into breakdowns.
func (b *Bucket) merge(other *Bucket) {
	if other == nil {
		return
	}
	b.Input += other.Input
	b.Output += other.Output
	b.Reasoning += other.Reasoning
	b.Total += other.Total
	b.MessageCount += other.MessageCount
	for id, sub := range other.Models {
		if b.Models == nil {
			b.Models = make(map[string]*Bucket)
		}
		if b.Models[id] == nil {
			b.Models[id] = &Bucket{}
		}
		b.Models[id].merge(sub)
	}
	for id, sub := range other.Sources {
		if b.Sources == nil {
			b.Sources = make(map[string]*Bucket)
		}
		if b.Sources[id] == nil {
			b.Sources[id] = &Bucket{}
		}
		b.Sources[id].merge(sub)
	}
}

// sanitize clamps negative counters to zero and re-derives total from the
// clamped parts, recursing into breakdowns. Imported buckets pass through
// here so no merge can ever decrease an aggregate or break the total
// invariant.
func (b *Bucket) sanitize() {
	if b == nil {
		return
	}
	if b.Input < 0 {
		b.Input = 0
	}
	if b.Output < 0 {
		b.Output = 0
	}
	if b.Reasoning < 0 {
		b.Reasoning = 0
	}
	if b.MessageCount < 0 {
		b.MessageCount = 0
	}
	b.Total = b.Input + b.Output + b.Reasoning
	for _, sub := range b.Models {
		sub.sanitize()
	}
	for _, sub := range b.Sources {
		sub.sanitize()
	}
}

// Clone returns a deep copy.
func (b *Bucket) Clone() *Bucket {
	if b == nil {
		return nil
	}
	out := &Bucket{
		Input:        b.Input,
		Output:       b.Output,
		Reasoning:    b.Reasoning,
		Total:        b.Total,
		MessageCount: b.MessageCount,
	}
	if b.Models != nil {
		out.Models = make(map[string]*Bucket, len(b.Models))
		for id, sub := range b.Models {
			out.Models[id] = sub.Clone()
		}
	}
	if b.Sources != nil {
		out.Sources = make(map[string]*Bucket, len(b.Sources))
		for id, sub := range b.Sources {
			out.Sources[id] = sub.Clone()
		}
	}
	return out
}

func cloneBucketMap(m map[string]*Bucket) map[string]*Bucket {
	out := make(map[string]*Bucket, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}
