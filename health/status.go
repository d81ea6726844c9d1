package health

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/apache/karaf-sub011/component"
)

// Status levels.
const (
	LevelHealthy   = "healthy"
	LevelDegraded  = "degraded"
	LevelUnhealthy = "unhealthy"
)

// Pre-compiled regexes for error message sanitization
var (
	httpURLRegex    = regexp.MustCompile(`https?://[^\s]+`)
	natsURLRegex    = regexp.MustCompile(`nats://[^\s]+`)
	unixPathRegex   = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex       = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status represents the health state of a component or system
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"` // true if status is "healthy"
	Status      string    `json:"status"`  // "healthy", "unhealthy", "degraded"
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Details     *Details  `json:"details,omitempty"`
}

// Details carries the lifecycle facts a component status was derived from.
type Details struct {
	State       string   `json:"state"`
	References  int      `json:"references,omitempty"`
	Unsatisfied []string `json:"unsatisfied,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == LevelHealthy
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == LevelDegraded
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == LevelUnhealthy
}

// WithDetails returns a copy of the status with details attached
func (s Status) WithDetails(details *Details) Status {
	s.Details = details
	return s
}

// WithSubStatus adds a sub-status and returns a copy
func (s Status) WithSubStatus(subStatus Status) Status {
	// Create a new slice to avoid sharing the underlying array
	newSubStatuses := make([]Status, len(s.SubStatuses), len(s.SubStatuses)+1)
	copy(newSubStatuses, s.SubStatuses)
	s.SubStatuses = append(newSubStatuses, subStatus)
	return s
}

// sanitizeErrorMessage removes URLs, paths, addresses and credentials from
// error text before it is exposed on the health endpoint.
func sanitizeErrorMessage(err string) string {
	if err == "" {
		return ""
	}

	sanitized := err
	sanitized = httpURLRegex.ReplaceAllString(sanitized, "[URL]")
	sanitized = natsURLRegex.ReplaceAllString(sanitized, "[URL]")
	sanitized = unixPathRegex.ReplaceAllString(sanitized, "[PATH]")
	sanitized = ipAddrRegex.ReplaceAllString(sanitized, "[IP]")
	sanitized = portRegex.ReplaceAllString(sanitized, "[PORT]")

	lower := strings.ToLower(sanitized)
	if strings.Contains(lower, "password") || strings.Contains(lower, "token") ||
		strings.Contains(lower, "key") || strings.Contains(lower, "secret") ||
		strings.Contains(lower, "credential") {
		sanitized = credentialRegex.ReplaceAllString(sanitized, "[REDACTED]")
	}
	return sanitized
}

// Level maps a lifecycle state to a health level. Satisfied components are
// healthy, components on their way to or from satisfaction are degraded,
// disabled and destroyed components are unhealthy.
func Level(state component.State) string {
	switch state {
	case component.StateActive, component.StateRegistered, component.StateFactory:
		return LevelHealthy
	case component.StateEnabled, component.StateUnsatisfied, component.StateActivating, component.StateDeactivating:
		return LevelDegraded
	default:
		return LevelUnhealthy
	}
}

// FromComponentState builds the status of one component from its state and
// reference statistics. refs may be nil.
func FromComponentState(name string, state component.State, refs []component.ReferenceInfo) Status {
	details := &Details{State: state.String(), References: len(refs)}
	for _, r := range refs {
		if !r.Satisfied {
			details.Unsatisfied = append(details.Unsatisfied, r.Name)
		}
	}

	message := "Component " + state.String()
	if len(details.Unsatisfied) > 0 {
		message = fmt.Sprintf("Component %s, waiting for %s", state, strings.Join(details.Unsatisfied, ", "))
	}

	level := Level(state)
	return Status{
		Component: name,
		Healthy:   level == LevelHealthy,
		Status:    level,
		Message:   message,
		Timestamp: time.Now(),
		Details:   details,
	}
}

// FromError builds an unhealthy status with a sanitized error message, or
// a healthy one when err is nil.
func FromError(name string, err error, healthyMessage string) Status {
	if err == nil {
		return NewHealthy(name, healthyMessage)
	}
	return NewUnhealthy(name, sanitizeErrorMessage(err.Error()))
}
