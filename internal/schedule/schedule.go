// Package schedule builds and renders the level-stratified processor graph:
// a topological ordering of registered output roots and their transitive
// dependencies, bucketed by level so that every processor's dependencies
// render strictly before it, then mixed down to the engine's interleaved
// stereo output buffer.
package schedule

import (
	"github.com/ritschwumm/anklang/internal/processor"
)

// levelList is one stratum of the schedule: every processor at this level
// can render in any order relative to its level-mates, because none of
// them depends on another at the same level.
type levelList struct {
	procs []processor.Processor
}

// Schedule holds the current render order plus the invalidation flag the
// engine consults before each render to decide whether a rebuild is due
// (§4.4 CHECK phase).
type Schedule struct {
	levels      []levelList
	invalid     bool
	renderStamp uint64
}

// New returns an empty, already-invalid schedule so the first render pass
// always triggers a build.
func New() *Schedule {
	return &Schedule{invalid: true}
}

// Invalidate marks the schedule stale. Idempotent: repeated calls before
// the next rebuild have no additional effect, mirroring the engine's
// single dirty bit for schedule_queue_update.
func (s *Schedule) Invalidate() { s.invalid = true }

// IsInvalid reports whether a rebuild is due.
func (s *Schedule) IsInvalid() bool { return s.invalid }

func (s *Schedule) clear() {
	for _, lvl := range s.levels {
		for _, p := range lvl.procs {
			p.Core().ClearFlag(processor.FlagScheduled)
		}
	}
	s.levels = s.levels[:0]
}

// ScheduleAdd places p into the schedule at the given level, growing the
// level list as needed. Idempotent per processor via FlagScheduled: a
// processor reachable from two roots is only added once, at the level of
// its first registration in this build pass. This is the method that
// satisfies processor.Scheduler, letting a root's ScheduleProcessor call
// straight back into the schedule that is building it.
//
// Per §4.3 step 2, a processor whose own stored render stamp differs from
// the schedule's current render_stamp (set by Rebuild) gets reset(
// render_stamp) here, before it can next render -- this is what makes a
// processor removed then re-added as a root resume from clean internal
// state instead of stale one.
func (s *Schedule) ScheduleAdd(p processor.Processor, level int) {
	if p.Core().HasFlag(processor.FlagScheduled) {
		return
	}
	for len(s.levels) <= level {
		s.levels = append(s.levels, levelList{})
	}
	p.Core().SetFlag(processor.FlagScheduled)
	s.levels[level].procs = append(s.levels[level].procs, p)

	if p.Core().RenderStamp() != s.renderStamp {
		p.Reset(s.renderStamp)
	}
}

// Rebuild discards the current schedule and re-derives it from roots by
// invoking each root's ScheduleProcessor, which recurses into its own
// dependencies before registering itself -- the same recursive contract
// the engine's schedule_processor() uses (§4.3). renderStamp is the
// engine's current (not-yet-advanced) render stamp at the time of the
// rebuild, the value ScheduleAdd compares each newly-scheduled processor
// against to decide whether it needs a Reset.
func (s *Schedule) Rebuild(roots []processor.Processor, renderStamp uint64) {
	s.clear()
	s.renderStamp = renderStamp
	for _, root := range roots {
		root.ScheduleProcessor(s)
	}
	s.invalid = false
}

// Render renders the schedule level by level, then mixes every root's main
// output bus into out, an interleaved stereo buffer of nFrames*2 float32s.
// nFrames must be a multiple of 8 (§4.3 block-size constraint). out starts
// zeroed and every root adds into it, so a root with no contribution (or
// no roots at all) leaves silence. A mono root broadcasts its single
// channel to both stereo lanes.
func Render(s *Schedule, roots []processor.Processor, nFrames int, renderStamp uint64, out []float32) {
	if nFrames%8 != 0 {
		panic("schedule: nFrames must be a multiple of 8")
	}
	if len(out) != nFrames*2 {
		panic("schedule: out must hold nFrames*2 interleaved stereo samples")
	}

	for _, lvl := range s.levels {
		for _, p := range lvl.procs {
			if p.Core().RenderStamp() != renderStamp {
				p.Core().SetRenderStamp(renderStamp)
				p.Render(nFrames)
			}
		}
	}

	for i := range out {
		out[i] = 0
	}
	for _, root := range roots {
		channels := root.BusChannels(processor.MainOutputBus)
		if channels == 0 {
			continue
		}
		left := root.Ofloats(processor.MainOutputBus, 0)
		right := left
		if channels > 1 {
			right = root.Ofloats(processor.MainOutputBus, 1)
		}
		for f := 0; f < nFrames; f++ {
			out[f*2] += left[f]
			out[f*2+1] += right[f]
		}
	}
}
