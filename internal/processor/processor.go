// Package processor defines the contract the engine requires of every
// graph node: bus/channel reporting, the render/reset lifecycle, and the
// schedule_processor recursion that lets a node register its own upstream
// dependencies with the engine. The engine never inspects a processor's
// private state beyond this surface (§4.2).
package processor

// BusID identifies an input or output bus on a processor. Bus 1 is the
// conventional "main" bus the engine mixes into the master output.
type BusID int

const MainOutputBus BusID = 1

// Flag is an engine-owned bit on a processor's Node, mutated only from the
// engine thread during schedule rebuilds and root registration.
type Flag uint32

const (
	// FlagScheduled marks a processor as already present in the current
	// schedule, making repeated schedule_add calls idempotent.
	FlagScheduled Flag = 1 << iota
	// FlagEngineOutput marks a processor as a registered output root.
	FlagEngineOutput
)

// Node is embedded by every concrete processor type. It holds the fields
// the engine owns outright: the scheduled/output flags and the processor's
// own render stamp. The fields are unexported and changed only through the
// accessor methods below, from the engine thread: the schedule sets the
// flags and render stamp, and a processor's own Reset typically records its
// target stamp via SetRenderStamp.
type Node struct {
	flags       Flag
	renderStamp uint64
}

func (n *Node) HasFlag(f Flag) bool     { return n.flags&f != 0 }
func (n *Node) SetFlag(f Flag)          { n.flags |= f }
func (n *Node) ClearFlag(f Flag)        { n.flags &^= f }
func (n *Node) RenderStamp() uint64     { return n.renderStamp }
func (n *Node) SetRenderStamp(s uint64) { n.renderStamp = s }

// Scheduler is the subset of engine capability a processor needs during its
// own schedule_processor(): registering itself and its dependencies into
// the level-stratified schedule.
type Scheduler interface {
	// ScheduleAdd registers p at the given level if it is not already
	// scheduled. Leaves call this with level 0; a consumer calls it with
	// level = max(dependency levels) + 1, after recursing into its
	// dependencies' own ScheduleProcessor.
	ScheduleAdd(p Processor, level int)
}

// EngineAPI is the full capability surface the engine exposes to
// processors (§4.2, §6): schedule registration, transport readback, output
// root registration and the three job-submission disciplines.
type EngineAPI interface {
	Scheduler
	FrameCounter() uint64
	SampleRate() uint32
	EnableEngineOutput(p Processor, enabled bool)
	SubmitAsync(fn func())
	SubmitConst(fn func())
	SubmitSynchronized(fn func())
}

// Processor is the graph node contract. InputBuses/OutputBuses return the
// number of input and output buses and BusChannels the per-bus channel
// count; Initialize prepares a
// processor for a given speaker arrangement; Reset restores state for
// rendering from targetStamp; Render produces nFrames samples per output
// channel into buffers the processor owns, readable via Ofloats;
// ScheduleProcessor recursively registers dependencies then itself via the
// given Scheduler.
type Processor interface {
	Core() *Node

	InputBuses() int
	OutputBuses() int
	BusChannels(bus BusID) int

	Initialize(sampleRate uint32, arrangement Arrangement) error
	Reset(targetStamp uint64)
	Render(nFrames int)
	ScheduleProcessor(s Scheduler)

	// Ofloats exposes nFrames of rendered output for (bus, channel),
	// valid until the next Render call.
	Ofloats(bus BusID, channel int) []float32
}

// Arrangement mirrors transport.Arrangement without importing the
// transport package, keeping processor a leaf dependency.
type Arrangement int

const (
	Mono Arrangement = iota
	Stereo
)
