package install

import (
	"fmt"

	"pier/internal/marketplace"
)

// UnsupportedTransportError is returned when a plan is requested for a
// transport the planner does not know.
type UnsupportedTransportError struct {
	Transport marketplace.Transport
}

func (e *UnsupportedTransportError) Error() string {
	return fmt.Sprintf("unsupported transport %q", e.Transport)
}

// Plan returns the canonical ordered step sequence for a transport and auth
// combination. Pure: same inputs, same plan.
//
// stdio servers are fetched, checked and registered locally; remote (http,
// sse) servers are connected, validated and tested. When the package needs
// provider authorization the oauth step runs first.
func Plan(transport marketplace.Transport, auth marketplace.AuthType) ([]StepID, error) {
	var steps []StepID
	if auth == marketplace.AuthOAuth {
		steps = append(steps, StepOAuth)
	}
	switch transport {
	case marketplace.TransportStdio:
		steps = append(steps, StepDownload, StepInstall, StepConfigure, StepTest)
	case marketplace.TransportHTTP, marketplace.TransportSSE:
		steps = append(steps, StepConnect, StepValidate, StepTest)
	default:
		return nil, &UnsupportedTransportError{Transport: transport}
	}
	return steps, nil
}
