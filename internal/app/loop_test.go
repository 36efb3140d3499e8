package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoopRunsInOrder(t *testing.T) {
	loop := NewLoop()
	go loop.Run(context.Background())
	defer loop.Stop()

	var got []int
	for i := 0; i < 10; i++ {
		loop.Do(func() { got = append(got, i) })
	}
	loop.Sync(func() {})

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestLoopDropsAfterStop(t *testing.T) {
	loop := NewLoop()
	loop.Stop()

	ran := false
	loop.Sync(func() { ran = true })
	assert.False(t, ran)
}
