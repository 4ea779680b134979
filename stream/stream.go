// Package stream holds small generic channel pipelines.
package stream

import (
	"context"
	"sync"
)

// Slice after https://betterprogramming.pub/writing-a-stream-api-in-go-afbc3c4350e2
func Slice[T any](ctx context.Context, in []T) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		for _, element := range in {
			select {
			case <-ctx.Done():
				return
			case out <- element:
			}
		}
	}()
	return out
}

// Workers applies transformer to in on n goroutines. Output order is not preserved.
// The output closes once in is drained or ctx is done.
func Workers[I any, O any](ctx context.Context, n int, transformer func(I) O, in <-chan I) <-chan O {
	if n < 1 {
		n = 1
	}
	out := make(chan O, n)
	wg := sync.WaitGroup{}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for element := range in {
				select {
				case <-ctx.Done():
					return
				case out <- transformer(element):
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
