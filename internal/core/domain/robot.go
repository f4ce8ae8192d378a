package domain

// RobotState is the operating mode reported by the arm controller.
type RobotState string

const (
	StateOffline        RobotState = "OFFLINE"
	StateIdle           RobotState = "IDLE"
	StateObjectDetected RobotState = "OBJECT_DETECTED"
	StateMovingToObject RobotState = "MOVING_TO_OBJECT"
	StateGrabbing       RobotState = "GRABBING"
	StateReturning      RobotState = "RETURNING"
	StatePicked         RobotState = "PICKED"
)

var robotStates = []RobotState{
	StateOffline,
	StateIdle,
	StateObjectDetected,
	StateMovingToObject,
	StateGrabbing,
	StateReturning,
	StatePicked,
}

var robotStateLabels = map[RobotState]string{
	StateOffline:        "Offline",
	StateIdle:           "Detect Object",
	StateObjectDetected: "Object Detected",
	StateMovingToObject: "Moving to Object",
	StateGrabbing:       "Grabbing",
	StateReturning:      "Returning",
	StatePicked:         "Picked",
}

// RobotStates returns every known state in status panel order.
func RobotStates() []RobotState {
	out := make([]RobotState, len(robotStates))
	copy(out, robotStates)
	return out
}

// ParseRobotState reports whether s names a known state.
func ParseRobotState(s string) (RobotState, bool) {
	state := RobotState(s)
	_, ok := robotStateLabels[state]
	return state, ok
}

// Label is the human readable name shown in the status panel.
func (s RobotState) Label() string {
	if l, ok := robotStateLabels[s]; ok {
		return l
	}
	return string(s)
}

// Position is a detected object location in centimetres.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// RobotStatus is the latest known state of the arm.
type RobotStatus struct {
	Status         RobotState `json:"status"`
	Joint1         float64    `json:"sudut1"`
	Joint2         float64    `json:"sudut2"`
	Joint3         float64    `json:"sudut3"`
	EEAngle        float64    `json:"ee_angle"`
	DetectedObject *Position  `json:"detected_object_cm,omitempty"`
	Error          string     `json:"error,omitempty"`
	// Timestamp is the publisher's clock in epoch seconds. Nil until the first record.
	Timestamp *float64 `json:"timestamp,omitempty"`
}

// NewRobotStatus returns the status shown before any record has arrived.
func NewRobotStatus() RobotStatus {
	return RobotStatus{Status: StateOffline}
}

// StatusPatch carries the fields present in one robot_status record.
// Nil fields were absent and keep their previous value.
type StatusPatch struct {
	Status         *RobotState
	Joint1         *float64
	Joint2         *float64
	Joint3         *float64
	EEAngle        *float64
	DetectedObject *Position
	// ClearObject is set when the record carried an explicit null object.
	ClearObject bool
	// Error points at "" when the record carried an explicit null error.
	Error     *string
	Timestamp *float64
}

// Apply merges a patch into the status, last write wins per field.
func (s RobotStatus) Apply(p StatusPatch) RobotStatus {
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.Joint1 != nil {
		s.Joint1 = *p.Joint1
	}
	if p.Joint2 != nil {
		s.Joint2 = *p.Joint2
	}
	if p.Joint3 != nil {
		s.Joint3 = *p.Joint3
	}
	if p.EEAngle != nil {
		s.EEAngle = *p.EEAngle
	}
	switch {
	case p.DetectedObject != nil:
		obj := *p.DetectedObject
		s.DetectedObject = &obj
	case p.ClearObject:
		s.DetectedObject = nil
	}
	if p.Error != nil {
		s.Error = *p.Error
	}
	if p.Timestamp != nil {
		ts := *p.Timestamp
		s.Timestamp = &ts
	}
	return s
}
