package evlog

import "github.com/julianstephens/evlog/internal/evlog/wire"

// Result is the decoded form of one subscribe response, and the accumulator
// GetEvents builds out of several of them.
type Result struct {
	// VStart is the first version covered by the response.
	VStart uint32 `json:"v_start"`
	// VEnd is the exclusive high-water version reached.
	VEnd uint32 `json:"v_end"`
	// Size is the number of body bytes consumed.
	Size uint64 `json:"size"`

	Complete bool `json:"complete"`
	Oneshot  bool `json:"oneshot"`
	Current  bool `json:"current"`

	Events []wire.Event `json:"events"`
}

// NewResult builds a Result from a decoded subscribe response, assigning each
// record its version starting at VStart.
func NewResult(resp *wire.SubscribeResp) *Result {
	events := make([]wire.Event, len(resp.Records))
	v := resp.VStart
	for i, rec := range resp.Records {
		rec.Version = v
		events[i] = rec
		v += uint32(rec.BatchSize)
	}
	return &Result{
		VStart:   resp.VStart,
		VEnd:     v,
		Size:     resp.Size,
		Complete: resp.Flags&wire.FlagComplete != 0,
		Oneshot:  resp.Flags&wire.FlagOneshot != 0,
		Current:  resp.Flags&wire.FlagCurrent != 0,
		Events:   events,
	}
}

// Merge folds next into r. VStart is kept, VEnd and Complete are taken from
// next, Current is OR-ed and events are appended in order.
func (r *Result) Merge(next *Result) {
	if next == nil {
		return
	}
	r.VEnd = next.VEnd
	r.Complete = next.Complete
	r.Current = r.Current || next.Current
	r.Size += next.Size
	r.Events = append(r.Events, next.Events...)
}

// Trim drops trailing events at or beyond to and lowers VEnd to the end of
// the last kept event. Size is left untouched.
func (r *Result) Trim(to uint32) {
	if r.VEnd <= to {
		return
	}
	kept := r.Events[:0]
	for _, ev := range r.Events {
		if ev.Version >= to {
			break
		}
		kept = append(kept, ev)
	}
	r.Events = kept
	if len(kept) == 0 {
		r.VEnd = r.VStart
		return
	}
	last := kept[len(kept)-1]
	r.VEnd = last.Version + uint32(last.BatchSize)
}
