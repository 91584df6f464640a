package coordinator

// ExecutionState is the run state of one window, or of the session as a
// whole for the global mirror.
type ExecutionState string

const (
	StateIdle    ExecutionState = "idle"
	StateRunning ExecutionState = "running"
	StateError   ExecutionState = "error"
)

// RunStatus is the terminal status of one RunPython call.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled"
	RunError     RunStatus = "error"
)

// RunResult is the resolved outcome of one run.
type RunResult struct {
	Status RunStatus
	// Name, Message, and Traceback carry the interpreter error when Status
	// is RunError.
	Name      string
	Message   string
	Traceback []string
}
