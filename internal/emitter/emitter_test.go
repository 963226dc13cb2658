package emitter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmitter_SubscribeAndUnsubscribe(t *testing.T) {
	var e Emitter[int]

	var a, b []int
	offA := e.Subscribe(func(v int) { a = append(a, v) })
	offB := e.Subscribe(func(v int) { b = append(b, v) })

	e.Emit(1)
	offA()
	e.Emit(2)
	offA() // double unsubscribe is harmless
	offB()
	e.Emit(3)

	require.Equal(t, []int{1}, a)
	require.Equal(t, []int{1, 2}, b)
}
