/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package quiz

// FeedbackKind classifies a guess feedback message.
type FeedbackKind string

const (
	FeedbackCorrect   FeedbackKind = "correct"
	FeedbackIncorrect FeedbackKind = "incorrect"
	FeedbackDuplicate FeedbackKind = "duplicate"
)

// Observer receives everything a Session wants shown to the player. Calls are
// made synchronously, from whichever goroutine is driving the Session.
type Observer interface {
	OnCorrect(e Entity)
	OnFeedback(message string, kind FeedbackKind)
	OnTick(sig TimeSignal)
	OnStateChange(st Status)
	OnReset()
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) OnCorrect(Entity) {}
func (NopObserver) OnFeedback(string, FeedbackKind) {}
func (NopObserver) OnTick(TimeSignal) {}
func (NopObserver) OnStateChange(Status) {}
func (NopObserver) OnReset() {}
