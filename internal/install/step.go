package install

// StepID identifies one kind of installation work.
type StepID string

const (
	StepOAuth     StepID = "oauth"
	StepDownload  StepID = "download"
	StepInstall   StepID = "install"
	StepConfigure StepID = "configure"
	StepConnect   StepID = "connect"
	StepValidate  StepID = "validate"
	StepTest      StepID = "test"
)

// StepStatus is the lifecycle of one step. Transitions are monotonic:
// pending -> loading -> success or error, nothing else.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepLoading StepStatus = "loading"
	StepSuccess StepStatus = "success"
	StepError   StepStatus = "error"
)

// Step is one unit of installation work with its current status. Message
// carries progress or failure detail for display.
type Step struct {
	ID      StepID     `json:"id"`
	Label   string     `json:"label"`
	Status  StepStatus `json:"status"`
	Message string     `json:"message,omitempty"`
}

// Terminal reports whether the status can never change again.
func (s StepStatus) Terminal() bool {
	return s == StepSuccess || s == StepError
}

// canTransition encodes the monotonic lifecycle.
func canTransition(from, to StepStatus) bool {
	switch from {
	case StepPending:
		return to == StepLoading
	case StepLoading:
		return to == StepSuccess || to == StepError
	default:
		return false
	}
}

func labelFor(id StepID) string {
	switch id {
	case StepOAuth:
		return "Authorize with provider"
	case StepDownload:
		return "Fetch server package"
	case StepInstall:
		return "Check local runtime"
	case StepConfigure:
		return "Register installation"
	case StepConnect:
		return "Connect to server"
	case StepValidate:
		return "Validate configuration"
	case StepTest:
		return "Test server"
	default:
		return string(id)
	}
}
