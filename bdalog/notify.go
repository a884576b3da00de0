package bdalog

// Notifier is the host-injected progress facility of spec.md §6: the
// driver's contract with it is purely informational. A Notifier
// implementation might print a status line, update a GUI progress bar,
// or do nothing.
type Notifier interface {
	Begin(task string)
	Done(task string)
	Error(task string, err error)
}

// NopNotifier implements Notifier with no-ops, the default when the
// host supplies none.
type NopNotifier struct{}

func (NopNotifier) Begin(string)            {}
func (NopNotifier) Done(string)             {}
func (NopNotifier) Error(string, error)     {}

// LogNotifier relays Notifier events through a Logger, for CLI use
// without a TTY-aware spinner.
type LogNotifier struct {
	Log *Logger
}

func (n LogNotifier) Begin(task string) { n.Log.Infof("%s: starting", task) }
func (n LogNotifier) Done(task string)  { n.Log.Infof("%s: done", task) }
func (n LogNotifier) Error(task string, err error) {
	n.Log.Errorf("%s: %v", task, err)
}
