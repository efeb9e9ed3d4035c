package outbox

// Notifier carries post-commit wakeups from writers to the drain engine so
// fresh records are picked up without waiting for the next poll tick. It is
// best-effort only: a dropped wakeup just means the poller gets there first.
type Notifier struct {
	ch chan string
}

func NewNotifier(buffer int) *Notifier {
	return &Notifier{ch: make(chan string, buffer)}
}

// Notify hands the outbox ID to the engine without blocking. When the
// buffer is full the wakeup is dropped.
func (n *Notifier) Notify(id string) {
	select {
	case n.ch <- id:
	default:
	}
}

// C is the receive side consumed by the engine.
func (n *Notifier) C() <-chan string {
	return n.ch
}
