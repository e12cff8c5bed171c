package crawler

import (
	"fmt"
	"strings"
	"sync"
)

// NetworkFailure is a response whose status was outside 200-399.
type NetworkFailure struct {
	Status int    `json:"status"`
	URL    string `json:"url"`
}

func (f NetworkFailure) String() string {
	return fmt.Sprintf("%d %s", f.Status, f.URL)
}

// ServerError reports whether the failure is in the 5xx class.
func (f NetworkFailure) ServerError() bool {
	return f.Status >= 500 && f.Status <= 599
}

// AnomalyLog accumulates console errors and failed responses for one session.
// It implements Observer and is safe for concurrent use, since drivers call
// observers from their own goroutines.
type AnomalyLog struct {
	mu              sync.Mutex
	consoleErrors   []string
	networkFailures []NetworkFailure
}

// ConsoleError records an error-level console message or uncaught exception.
func (l *AnomalyLog) ConsoleError(message string) {
	l.mu.Lock()
	l.consoleErrors = append(l.consoleErrors, message)
	l.mu.Unlock()
}

// Response records status when it is not a success or redirect.
func (l *AnomalyLog) Response(status int, url string) {
	if status >= 200 && status <= 399 {
		return
	}
	l.mu.Lock()
	l.networkFailures = append(l.networkFailures, NetworkFailure{Status: status, URL: url})
	l.mu.Unlock()
}

// ConsoleErrors returns a copy of the console errors seen so far.
func (l *AnomalyLog) ConsoleErrors() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string{}, l.consoleErrors...)
}

// NetworkFailures returns a copy of the failed responses seen so far.
func (l *AnomalyLog) NetworkFailures() []NetworkFailure {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]NetworkFailure{}, l.networkFailures...)
}

// Len returns the number of anomalies of both kinds.
func (l *AnomalyLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.consoleErrors) + len(l.networkFailures)
}

// Verdict is the pass/fail decision for a session.
type Verdict struct {
	Pass         bool             `json:"pass"`
	ServerErrors []NetworkFailure `json:"server_errors,omitempty"`
	Reason       string           `json:"reason,omitempty"`
}

// Verdict applies the failure policy: the session fails if and only if a 5xx
// response was observed. Client errors and console errors are reported but
// never fail it.
func (l *AnomalyLog) Verdict() Verdict {
	return Judge(l.NetworkFailures())
}

// Judge computes the verdict for a list of network failures.
func Judge(failures []NetworkFailure) Verdict {
	var server []NetworkFailure
	for _, f := range failures {
		if f.ServerError() {
			server = append(server, f)
		}
	}
	if len(server) == 0 {
		return Verdict{Pass: true}
	}
	parts := make([]string, len(server))
	for i, f := range server {
		parts[i] = f.String()
	}
	return Verdict{
		ServerErrors: server,
		Reason:       fmt.Sprintf("%d server error(s): %s", len(server), strings.Join(parts, ", ")),
	}
}
