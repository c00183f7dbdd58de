package campaign

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"broadcaster/internal/model"
)

type progressOnly struct{ got []model.Progress }

func (p *progressOnly) OnProgress(pr model.Progress) { p.got = append(p.got, pr) }
func (p *progressOnly) OnLog(string) {}
func (p *progressOnly) OnCountdown(model.Countdown) {}

func TestNotifierFanOutInOrder(t *testing.T) {
	var order []string
	n := NewNotifier(
		Funcs{Log: func(s string) { order = append(order, "a:"+s) }},
		Funcs{Log: func(s string) { order = append(order, "b:"+s) }},
	)
	n.Log("x")
	assert.Equal(t, []string{"a:x", "b:x"}, order)
}

func TestNotifierUnregister(t *testing.T) {
	n := NewNotifier()
	first := &recorder{}
	second := &recorder{}
	unregister := n.Register(first)
	n.Register(second)

	n.Log("one")
	unregister()
	n.Log("two")
	unregister()

	assert.Equal(t, []string{"one"}, first.logLines())
	assert.Equal(t, []string{"one", "two"}, second.logLines())
}

func TestNotifierSendOnlyReachesSendObservers(t *testing.T) {
	plain := &progressOnly{}
	rec := &recorder{}
	n := NewNotifier(plain, rec)

	n.Send(model.SendResult{Target: "50255550000", Status: model.SendSent})
	n.Progress(model.Progress{ID: "c", Sent: 1})

	assert.Len(t, rec.sends, 1)
	assert.Len(t, plain.got, 1)
	assert.Len(t, rec.progress, 1)
}

func TestFuncsNilFieldsAreSkipped(t *testing.T) {
	n := NewNotifier(Funcs{}, nil)
	assert.NotPanics(t, func() {
		n.Progress(model.Progress{})
		n.Log("x")
		n.Countdown(model.Countdown{})
		n.Send(model.SendResult{})
	})
}
