package schedule

import (
	"testing"

	"github.com/ritschwumm/anklang/internal/processor"
)

// genProc is a leaf that renders a constant value on every channel of its
// single output bus; sumProc sums its inputs' main buses. Together they
// let tests assemble small render graphs without a real engine.
type genProc struct {
	processor.Node
	channels int
	value    float32
	buf      [][]float32
	rendered int
	resets   int
}

func newGen(channels int, value float32) *genProc {
	buf := make([][]float32, channels)
	return &genProc{channels: channels, value: value, buf: buf}
}

func (g *genProc) Core() *processor.Node                      { return &g.Node }
func (g *genProc) InputBuses() int                            { return 0 }
func (g *genProc) OutputBuses() int                           { return 1 }
func (g *genProc) BusChannels(bus processor.BusID) int         { return g.channels }
func (g *genProc) Initialize(uint32, processor.Arrangement) error { return nil }
func (g *genProc) Reset(stamp uint64)                         { g.resets++; g.Core().SetRenderStamp(stamp) }
func (g *genProc) Ofloats(bus processor.BusID, ch int) []float32 { return g.buf[ch] }

func (g *genProc) Render(nFrames int) {
	g.rendered++
	for ch := 0; ch < g.channels; ch++ {
		out := make([]float32, nFrames)
		for f := range out {
			out[f] = g.value
		}
		g.buf[ch] = out
	}
}

func (g *genProc) ScheduleProcessor(s processor.Scheduler) {
	s.ScheduleAdd(g, 0)
}

type sumProc struct {
	processor.Node
	inputs []processor.Processor
	buf    [][]float32
}

func newSum(inputs ...processor.Processor) *sumProc {
	return &sumProc{inputs: inputs, buf: [][]float32{nil, nil}}
}

func (s *sumProc) Core() *processor.Node                       { return &s.Node }
func (s *sumProc) InputBuses() int                             { return len(s.inputs) }
func (s *sumProc) OutputBuses() int                            { return 1 }
func (s *sumProc) BusChannels(bus processor.BusID) int         { return 2 }
func (s *sumProc) Initialize(uint32, processor.Arrangement) error { return nil }
func (s *sumProc) Reset(stamp uint64)                          { s.Core().SetRenderStamp(stamp) }
func (s *sumProc) Ofloats(bus processor.BusID, ch int) []float32 { return s.buf[ch] }

func (s *sumProc) Render(nFrames int) {
	left := make([]float32, nFrames)
	right := make([]float32, nFrames)
	for _, in := range s.inputs {
		ch := in.BusChannels(processor.MainOutputBus)
		l := in.Ofloats(processor.MainOutputBus, 0)
		r := l
		if ch > 1 {
			r = in.Ofloats(processor.MainOutputBus, 1)
		}
		for f := 0; f < nFrames; f++ {
			left[f] += l[f]
			right[f] += r[f]
		}
	}
	s.buf[0], s.buf[1] = left, right
}

func (s *sumProc) ScheduleProcessor(sch processor.Scheduler) {
	for _, in := range s.inputs {
		in.ScheduleProcessor(sch)
	}
	sch.ScheduleAdd(s, len(s.inputs))
}

func TestRebuildOrdersDependenciesBeforeConsumers(t *testing.T) {
	leaf := newGen(2, 1.0)
	root := newSum(leaf)

	s := New()
	if !s.IsInvalid() {
		t.Fatal("fresh schedule should start invalid")
	}
	s.Rebuild([]processor.Processor{root}, 0)
	if s.IsInvalid() {
		t.Fatal("schedule should be valid immediately after Rebuild")
	}

	var seen []processor.Processor
	for _, lvl := range s.levels {
		seen = append(seen, lvl.procs...)
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 scheduled processors, got %d", len(seen))
	}
	if seen[0] != processor.Processor(leaf) {
		t.Fatal("leaf must be scheduled before its consumer")
	}
}

func TestRebuildDiamondSchedulesSharedLeafOnce(t *testing.T) {
	leaf := newGen(2, 1.0)
	a := newSum(leaf)
	b := newSum(leaf)
	root := newSum(a, b)

	s := New()
	s.Rebuild([]processor.Processor{root}, 0)

	count := 0
	for _, lvl := range s.levels {
		count += len(lvl.procs)
	}
	if count != 4 {
		t.Fatalf("expected leaf+a+b+root = 4 scheduled once each, got %d", count)
	}
}

func TestRenderMixesMultipleRoots(t *testing.T) {
	rootA := newGen(2, 0.25)
	rootB := newGen(2, 0.5)

	s := New()
	s.Rebuild([]processor.Processor{rootA, rootB}, 0)

	out := make([]float32, 16*2)
	Render(s, []processor.Processor{rootA, rootB}, 16, 1, out)

	for i, v := range out {
		if v != 0.75 {
			t.Fatalf("out[%d] = %v, want 0.75 (0.25+0.5)", i, v)
		}
	}
}

func TestRenderBroadcastsMonoToStereo(t *testing.T) {
	root := newGen(1, 0.4)

	s := New()
	s.Rebuild([]processor.Processor{root}, 0)

	out := make([]float32, 8*2)
	Render(s, []processor.Processor{root}, 8, 1, out)

	for f := 0; f < 8; f++ {
		if out[f*2] != 0.4 || out[f*2+1] != 0.4 {
			t.Fatalf("frame %d = (%v,%v), want (0.4,0.4)", f, out[f*2], out[f*2+1])
		}
	}
}

func TestRenderSilentWhenNoRoots(t *testing.T) {
	s := New()
	s.Rebuild(nil, 0)

	out := make([]float32, 8*2)
	for i := range out {
		out[i] = 99
	}
	Render(s, nil, 8, 1, out)
	for i, v := range out {
		if v != 0 {
			t.Fatalf("out[%d] = %v, want 0 with no roots", i, v)
		}
	}
}

func TestRenderPanicsOnNonMultipleOfEight(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for nFrames not a multiple of 8")
		}
	}()
	s := New()
	out := make([]float32, 10*2)
	Render(s, nil, 10, 1, out)
}

func TestRenderSkipsReRenderOfSameStamp(t *testing.T) {
	leaf := newGen(2, 1.0)
	root := newSum(leaf)

	s := New()
	s.Rebuild([]processor.Processor{root}, 0)

	out := make([]float32, 8*2)
	Render(s, []processor.Processor{root}, 8, 1, out)
	Render(s, []processor.Processor{root}, 8, 1, out)

	if leaf.rendered != 1 {
		t.Fatalf("leaf rendered %d times for the same stamp, want 1", leaf.rendered)
	}
}

// A processor re-added as a root after having rendered past the schedule's
// current render_stamp must be reset before it can render again (§4.3 step
// 2), so stale internal state left over from before it was dropped can't
// leak into the resumed render.
func TestScheduleAddResetsProcessorWithStaleRenderStamp(t *testing.T) {
	leaf := newGen(2, 1.0)
	leaf.Core().SetRenderStamp(5)

	s := New()
	s.Rebuild([]processor.Processor{leaf}, 1)

	if leaf.resets != 1 {
		t.Fatalf("resets = %d, want 1 for a stamp mismatch (5 != 1)", leaf.resets)
	}
	if leaf.Core().RenderStamp() != 1 {
		t.Fatalf("render stamp after reset = %d, want 1", leaf.Core().RenderStamp())
	}
}

func TestScheduleAddSkipsResetWhenStampAlreadyCurrent(t *testing.T) {
	leaf := newGen(2, 1.0)
	leaf.Core().SetRenderStamp(3)

	s := New()
	s.Rebuild([]processor.Processor{leaf}, 3)

	if leaf.resets != 0 {
		t.Fatalf("resets = %d, want 0 when the stamp already matches", leaf.resets)
	}
}

func TestInvalidateForcesRebuildOnNextCheck(t *testing.T) {
	s := New()
	s.Rebuild(nil, 0)
	if s.IsInvalid() {
		t.Fatal("should be valid after Rebuild")
	}
	s.Invalidate()
	if !s.IsInvalid() {
		t.Fatal("Invalidate should mark schedule stale")
	}
}
