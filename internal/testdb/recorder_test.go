package testdb_test

import (
	"fmt"
	"runtime"
	"slices"
	"sync"
	"testing"
)

// recordingT is a testing.TB that records failures instead of reporting
// them, so a case's own failures can be asserted on. Calls it does not
// implement panic through the nil embedded interface.
type recordingT struct {
	testing.TB

	name string

	mu       sync.Mutex
	failed   bool
	messages []string
	cleanups []func()
	onError  func()
}

func newRecordingT(name string) *recordingT {
	return &recordingT{name: name}
}

func (r *recordingT) Helper()             {}
func (r *recordingT) Name() string        { return r.name }
func (r *recordingT) Log(...any)          {}
func (r *recordingT) Logf(string, ...any) {}

func (r *recordingT) Cleanup(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanups = append(r.cleanups, fn)
}

func (r *recordingT) Errorf(format string, args ...any) { r.record(fmt.Sprintf(format, args...)) }
func (r *recordingT) Error(args ...any)                 { r.record(fmt.Sprint(args...)) }

func (r *recordingT) Fatalf(format string, args ...any) {
	r.record(fmt.Sprintf(format, args...))
	runtime.Goexit()
}

func (r *recordingT) Fatal(args ...any) {
	r.record(fmt.Sprint(args...))
	runtime.Goexit()
}

func (r *recordingT) Fail() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = true
}

func (r *recordingT) FailNow() {
	r.Fail()
	runtime.Goexit()
}

func (r *recordingT) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

func (r *recordingT) record(msg string) {
	r.mu.Lock()
	r.failed = true
	r.messages = append(r.messages, msg)
	onError := r.onError
	r.mu.Unlock()
	if onError != nil {
		onError()
	}
}

// setOnError installs fn to run after every recorded error.
func (r *recordingT) setOnError(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onError = fn
}

func (r *recordingT) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.messages)
}

// run calls fn on its own goroutine, like a test body, and waits for it to
// return or to stop through FailNow.
func (r *recordingT) run(fn func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	<-done
}

// finish runs the registered cleanups, last registered first.
func (r *recordingT) finish() {
	r.mu.Lock()
	cleanups := r.cleanups
	r.cleanups = nil
	r.mu.Unlock()
	r.run(func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	})
}
