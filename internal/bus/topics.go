package bus

// Every event appended to a task's log is published under TopicTaskEvent.
// Admission and terminal transitions are also published under
// TopicTaskLifecycle so the stats reporter can subscribe without the log
// traffic.
const (
	TopicTaskEvent     = "task.event"
	TopicTaskLifecycle = "task.lifecycle."
	TopicTaskSubmitted = TopicTaskLifecycle + "submitted"
	TopicTaskCompleted = TopicTaskLifecycle + "completed"
	TopicTaskFailed    = TopicTaskLifecycle + "failed"
)

// TaskEvent is the payload for every task topic.
// Seq is the zero-based position of the event in the task's log, or -1 for
// notifications that do not correspond to a log entry.
type TaskEvent struct {
	TaskID  string
	Seq     int
	Type    string
	Message string
}

// Terminal reports whether the event ends the task's log.
func (e TaskEvent) Terminal() bool {
	return e.Type == "completed" || e.Type == "failed"
}
