// Package monitoring routes unexpected errors and panics to an error
// reporting backend. The backend is process wide and defaults to a no-op.
package monitoring

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Monitor reports errors and recovered panics.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
	// CapturePanic reports a value returned by recover(). It must not
	// re-panic.
	CapturePanic(r any, tags map[string]string)
	Flush(timeout time.Duration)
}

type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string) {}
func (NopMonitor) CapturePanic(any, map[string]string)       {}
func (NopMonitor) Flush(time.Duration)                       {}

type holder struct{ m Monitor }

var current atomic.Pointer[holder]

func init() { current.Store(&holder{m: NopMonitor{}}) }

// Init sets the global monitor implementation. A nil monitor is ignored.
func Init(m Monitor) {
	if m != nil {
		current.Store(&holder{m: m})
	}
}

// Current returns the installed monitor.
func Current() Monitor { return current.Load().m }

// CaptureException records the error with optional tags.
func CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	Current().CaptureException(err, tags)
}

// CaptureTank records err tagged with the tank and the component that hit
// it.
func CaptureTank(err error, tankID, component string) {
	CaptureException(err, map[string]string{"tank_id": tankID, "component": component})
}

// Recovered reports r, a value obtained from recover() in a deferred
// function, and converts it to an error. It returns nil when r is nil.
//
//	defer func() {
//		if err := monitoring.Recovered(recover(), "sweeper"); err != nil {
//			log.Errorf("%v", err)
//		}
//	}()
func Recovered(r any, component string) error {
	if r == nil {
		return nil
	}
	Current().CapturePanic(r, map[string]string{"component": component})
	if err, ok := r.(error); ok {
		return fmt.Errorf("%s panicked: %w", component, err)
	}
	return fmt.Errorf("%s panicked: %v", component, r)
}

// Flush flushes buffered events.
func Flush(d time.Duration) { Current().Flush(d) }
