// pkg/feed/types.go

// Package feed connects to a remote streaming source, decodes each frame into
// a numeric value and republishes the values to any number of subscribers.
package feed

import "time"

// DataPoint is one decoded value. Seq increases monotonically per Connector.
type DataPoint struct {
	Seq        uint64
	Value      float64
	ReceivedAt time.Time
}

// FrameKind tells text frames from binary ones.
type FrameKind uint8

const (
	FrameText FrameKind = iota + 1
	FrameBinary
)

func (k FrameKind) String() string {
	switch k {
	case FrameText:
		return "text"
	case FrameBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Frame is a raw message as read from the transport.
type Frame struct {
	Kind    FrameKind
	Payload []byte
}

// Observer receives a stream: any number of values followed by at most one
// terminal signal (OnComplete or OnError).
type Observer interface {
	OnValue(DataPoint)
	OnComplete()
	OnError(error)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are ignored.
type ObserverFuncs struct {
	Value    func(DataPoint)
	Complete func()
	Error    func(error)
}

func (o ObserverFuncs) OnValue(p DataPoint) {
	if o.Value != nil {
		o.Value(p)
	}
}

func (o ObserverFuncs) OnComplete() {
	if o.Complete != nil {
		o.Complete()
	}
}

func (o ObserverFuncs) OnError(err error) {
	if o.Error != nil {
		o.Error(err)
	}
}

// Publisher is anything observers can subscribe to.
type Publisher interface {
	Subscribe(Observer) *Subscription
}
