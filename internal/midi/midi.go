// Package midi implements the single MIDI-input processor in the graph:
// it holds a fixed four-slot vector of open driver.MidiDriver instances
// and fetches events from each at the top of every render block. The slot
// vector is swapped in place via a synchronized job so replacement is
// atomic from the audio thread's perspective (§4.7 rules 3-4).
package midi

import (
	"github.com/ritschwumm/anklang/internal/driver"
	"github.com/ritschwumm/anklang/internal/processor"
)

const Slots = 4

// Slot is one of the four fixed MIDI input slots. A nil Driver means the
// slot is unused (preference value "null").
type Slot struct {
	Driver driver.MidiDriver
}

// Input is the engine's lone MIDI-input processor. It has no audio buses
// of its own (InputBuses/OutputBuses are both 0); the engine schedules it
// purely for its FetchEvents side effect at the top of each block.
type Input struct {
	processor.Node
	sampleRate uint32
	slots      [Slots]Slot
	events     []driver.MidiEvent
}

func New() *Input {
	return &Input{}
}

func (in *Input) Core() *processor.Node { return &in.Node }

func (in *Input) InputBuses() int                                     { return 0 }
func (in *Input) OutputBuses() int                                    { return 0 }
func (in *Input) BusChannels(bus processor.BusID) int                 { return 0 }
func (in *Input) Reset(targetStamp uint64)                            { in.SetRenderStamp(targetStamp) }
func (in *Input) Ofloats(bus processor.BusID, channel int) []float32  { return nil }

func (in *Input) Initialize(sampleRate uint32, a processor.Arrangement) error {
	in.sampleRate = sampleRate
	return nil
}

func (in *Input) ScheduleProcessor(s processor.Scheduler) {
	s.ScheduleAdd(in, 0)
}

// Render fetches pending events from every open slot; it produces no
// audio output.
func (in *Input) Render(nFrames int) {
	in.events = in.events[:0]
	for _, slot := range in.slots {
		if slot.Driver == nil {
			continue
		}
		in.events = slot.Driver.FetchEvents(in.events, in.sampleRate)
	}
}

// Events returns the events fetched by the most recent Render call.
func (in *Input) Events() []driver.MidiEvent { return in.events }

// SlotVector returns the current slot vector. Only safe to call from the audio
// thread (or before the engine has started).
func (in *Input) SlotVector() [Slots]Slot { return in.slots }

// SwapSlots replaces the entire slot vector in place. The caller is
// responsible for running this inside a synchronized job so the
// replacement happens atomically from the audio thread's point of view,
// and for closing the drivers in the returned old vector only after that
// synchronization point (§4.7 rule 4; the old vector becomes the trash
// payload, closed on the control thread once the job's cleanup runs).
func (in *Input) SwapSlots(next [Slots]Slot) (old [Slots]Slot) {
	old = in.slots
	in.slots = next
	return old
}
