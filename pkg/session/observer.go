package session

// NoticeKind classifies user facing notices.
type NoticeKind string

const (
	NoticeConnectionFailed     NoticeKind = "connection_failed"
	NoticeRevertedFromOperator NoticeKind = "reverted_from_operator"
	NoticeNetworkUnavailable   NoticeKind = "network_unavailable"
)

// Notice is a message meant for the user.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
}

// Observer receives session updates. Callbacks run on the controller's
// mailbox goroutine, so they must not block or call Controller.Status.
type Observer interface {
	OnStateChanged(state State)
	OnTelemetryUpdated(telemetry Telemetry)
	OnRoleChanged(isOperator bool)
	OnNotice(notice Notice)
}

// VideoSink receives raw video frames. It is called from the channel's read
// goroutine.
type VideoSink interface {
	OnVideoFrame(frame []byte)
}

// Observers fans callbacks out to several observers in order.
type Observers []Observer

func (o Observers) OnStateChanged(state State) {
	for _, observer := range o {
		observer.OnStateChanged(state)
	}
}

func (o Observers) OnTelemetryUpdated(telemetry Telemetry) {
	for _, observer := range o {
		observer.OnTelemetryUpdated(telemetry)
	}
}

func (o Observers) OnRoleChanged(isOperator bool) {
	for _, observer := range o {
		observer.OnRoleChanged(isOperator)
	}
}

func (o Observers) OnNotice(notice Notice) {
	for _, observer := range o {
		observer.OnNotice(notice)
	}
}

type nopObserver struct{}

func (nopObserver) OnStateChanged(State)         {}
func (nopObserver) OnTelemetryUpdated(Telemetry) {}
func (nopObserver) OnRoleChanged(bool)           {}
func (nopObserver) OnNotice(Notice)              {}
