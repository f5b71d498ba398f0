package core

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// TimingEvent captures an edge-handler event for post-mortem analysis
type TimingEvent struct {
	EventType uint8  // Event type code
	Count     uint16 // Encoder count at the event
	Clock     uint32 // System clock at event
	Value1    int32  // Context-dependent value
	Value2    int32  // Context-dependent value
}

// Event type codes
const (
	EvtEdgeNext    = 1 // "next" boundary committed (v1=error, v2=next count)
	EvtEdgeReverse = 2 // direction reversal (v1=error, v2=new direction)
	EvtPulse       = 3 // pulse generator tick (v1=output position)
	EvtConfigure   = 4 // gear reseeded (v1=D, v2=N)
	EvtRPM         = 5 // speed window completed (v1=window sum, v2=window)
	EvtIdleEdge    = 6 // edge while idle, boundaries re-armed
)

const (
	TimingRingSize = 32 // Keep last 32 events for post-mortem
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {} // No-op by default

	// debugEnabled controls whether debug output is active
	debugEnabled bool = false

	// Timing capture ring buffer (non-blocking, for post-mortem)
	timingRing     [TimingRingSize]TimingEvent
	timingRingHead uint8 // Next write position
	timingEnabled  bool  = true
	timingTotal    uint32

	// Async debug output channel
	debugChan chan string
)

// SetDebugWriter sets the platform-specific debug output function
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// SetTimingEnabled turns timing capture on or off
func SetTimingEnabled(enabled bool) {
	timingEnabled = enabled
}

// InitAsyncDebug starts the async debug output goroutine
// Call this from main() after SetDebugWriter
func InitAsyncDebug() {
	debugChan = make(chan string, 16)
	go debugOutputWorker()
}

func debugOutputWorker() {
	for msg := range debugChan {
		if debugPrintln != nil {
			debugPrintln(msg)
		}
	}
}

// DebugPrintln writes a debug message using the platform-specific writer.
// Never call this from the edge handler; use RecordTiming there.
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// DebugAsync queues a debug message for async output (non-blocking)
// Returns immediately even if channel is full (drops message)
func DebugAsync(msg string) {
	if !debugEnabled || debugChan == nil {
		return
	}
	select {
	case debugChan <- msg:
	default:
	}
}

// RecordTiming captures an event in the ring buffer.
// Allocation free, safe to call from interrupt context.
func RecordTiming(eventType uint8, count Count, v1, v2 int32) {
	if !timingEnabled {
		return
	}
	idx := timingRingHead
	timingRing[idx] = TimingEvent{
		EventType: eventType,
		Count:     uint16(count),
		Clock:     GetTime(),
		Value1:    v1,
		Value2:    v2,
	}
	timingRingHead = (idx + 1) % TimingRingSize
	timingTotal++
}

// TimingEvents returns the recorded events from oldest to newest
func TimingEvents() []TimingEvent {
	events := make([]TimingEvent, 0, TimingRingSize)
	start := timingRingHead
	for i := uint8(0); i < TimingRingSize; i++ {
		evt := timingRing[(start+i)%TimingRingSize]
		if evt.EventType == 0 {
			continue
		}
		events = append(events, evt)
	}
	return events
}

func timingEventName(t uint8) string {
	switch t {
	case EvtEdgeNext:
		return "EDGE_NEXT"
	case EvtEdgeReverse:
		return "EDGE_REV"
	case EvtPulse:
		return "PULSE"
	case EvtConfigure:
		return "CONFIGURE"
	case EvtRPM:
		return "RPM"
	case EvtIdleEdge:
		return "IDLE_EDGE"
	default:
		return "UNKNOWN"
	}
}

// DumpTimingRing outputs the timing ring buffer.
// Call from the main loop only, never from the edge handler.
func DumpTimingRing() {
	if debugPrintln == nil {
		return
	}

	debugPrintln("[TIMING] === Timing Ring Dump ===")
	debugPrintln("[TIMING] Total events recorded: " + utoa(timingTotal))

	for _, evt := range TimingEvents() {
		debugPrintln("[TIMING] " + timingEventName(evt.EventType) +
			" count=" + utoa(uint32(evt.Count)) +
			" clock=" + utoa(evt.Clock) +
			" v1=" + itoa(int(evt.Value1)) +
			" v2=" + itoa(int(evt.Value2)))
	}
	debugPrintln("[TIMING] === End Dump ===")
}

// ClearTimingRing clears the timing buffer
func ClearTimingRing() {
	for i := range timingRing {
		timingRing[i] = TimingEvent{}
	}
	timingRingHead = 0
	timingTotal = 0
}
