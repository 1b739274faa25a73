package protocol

import "time"

// Signal is a named vibration signal from the fixed catalogue.
type Signal int

const (
	SignalContinuous Signal = iota
	SignalNavigation
	SignalApproachingDestination
	SignalTurnOngoing
	SignalDirectionNotification
	SignalNextWaypointLongDistance
	SignalNextWaypointMediumDistance
	SignalNextWaypointShortDistance
	SignalNextWaypointAreaReached
	SignalDestinationReachedRepeated
	SignalDestinationReachedSingle
	SignalOperationWarning
	SignalCriticalWarning
	SignalBatteryLevel
)

// SignalShape is how a Signal is rendered as a channel configuration.
type SignalShape struct {
	Name        string
	Directional bool
	Repeated    bool
	Pattern     Pattern
	Iterations  int // IterationsUnlimited for repeated signals
	Period      time.Duration
	// Positions is the motor mask used by non-directional signals.
	Positions uint16
}

var signalShapes = map[Signal]SignalShape{
	SignalContinuous:                 {Name: "Continuous", Directional: true, Repeated: true, Pattern: PatternContinuous, Iterations: IterationsUnlimited, Period: time.Second},
	SignalNavigation:                 {Name: "Navigation", Directional: true, Repeated: true, Pattern: PatternContinuous, Iterations: IterationsUnlimited, Period: time.Second},
	SignalApproachingDestination:     {Name: "ApproachingDestination", Directional: true, Repeated: true, Pattern: PatternSingleShort, Iterations: IterationsUnlimited, Period: 500 * time.Millisecond},
	SignalTurnOngoing:                {Name: "TurnOngoing", Directional: true, Repeated: true, Pattern: PatternSingleLong, Iterations: IterationsUnlimited, Period: 750 * time.Millisecond},
	SignalDirectionNotification:      {Name: "DirectionNotification", Directional: true, Pattern: PatternSingleLong, Iterations: 1, Period: time.Second},
	SignalNextWaypointLongDistance:   {Name: "NextWaypointLongDistance", Directional: true, Pattern: PatternSingleLong, Iterations: 1, Period: time.Second},
	SignalNextWaypointMediumDistance: {Name: "NextWaypointMediumDistance", Directional: true, Pattern: PatternDoubleLong, Iterations: 1, Period: time.Second},
	SignalNextWaypointShortDistance:  {Name: "NextWaypointShortDistance", Directional: true, Pattern: PatternDoubleShort, Iterations: 2, Period: 750 * time.Millisecond},
	SignalNextWaypointAreaReached:    {Name: "NextWaypointAreaReached", Directional: true, Pattern: PatternDoubleShort, Iterations: 3, Period: 500 * time.Millisecond},
	SignalDestinationReachedRepeated: {Name: "DestinationReachedRepeated", Repeated: true, Pattern: PatternGradual, Iterations: IterationsUnlimited, Period: 2 * time.Second, Positions: 0xFFFF},
	SignalDestinationReachedSingle:   {Name: "DestinationReachedSingle", Pattern: PatternGradual, Iterations: 1, Period: 2 * time.Second, Positions: 0xFFFF},
	SignalOperationWarning:           {Name: "OperationWarning", Pattern: PatternDoubleShort, Iterations: 1, Period: time.Second, Positions: 0x0101},
	SignalCriticalWarning:            {Name: "CriticalWarning", Pattern: PatternDoubleLong, Iterations: 3, Period: time.Second, Positions: 0xFFFF},
	SignalBatteryLevel:               {Name: "BatteryLevel", Pattern: PatternSingleShort, Iterations: 1, Period: time.Second, Positions: 0x0001},
}

// Shape returns the rendering parameters of s. ok is false for values outside
// the catalogue.
func (s Signal) Shape() (shape SignalShape, ok bool) {
	shape, ok = signalShapes[s]
	return shape, ok
}

// Valid reports whether s is in the catalogue.
func (s Signal) Valid() bool {
	_, ok := signalShapes[s]
	return ok
}

// Directional reports whether s is played at an orientation.
func (s Signal) Directional() bool { return signalShapes[s].Directional }

// Repeated reports whether s repeats until stopped.
func (s Signal) Repeated() bool { return signalShapes[s].Repeated }

func (s Signal) String() string {
	if shape, ok := signalShapes[s]; ok {
		return shape.Name
	}
	return "InvalidSignal"
}
