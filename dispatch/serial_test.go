package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-git/go-git-bridge/errors"
)

func (s *DispatcherSuite) TestSerialOrder() {
	var (
		line  Serial
		mu    sync.Mutex
		order []int
	)

	gate := make(chan struct{})
	first := SubmitSerial(context.Background(), s.d, &line, "first", func(context.Context) (int, error) {
		<-gate
		mu.Lock()
		order = append(order, 0)
		mu.Unlock()
		return 0, nil
	}, nil)

	var futures []*Future[int]
	for i := 1; i <= 5; i++ {
		i := i
		futures = append(futures, SubmitSerial(context.Background(), s.d, &line, "next", func(context.Context) (int, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return i, nil
		}, nil))
	}

	s.Equal(5, line.Waiting())
	close(gate)

	_, err := first.Await(context.Background())
	s.NoError(err)
	for i, f := range futures {
		v, err := f.Await(context.Background())
		s.NoError(err)
		s.Equal(i+1, v)
	}

	s.Equal([]int{0, 1, 2, 3, 4, 5}, order)
	s.Equal(0, line.Waiting())
}

func (s *DispatcherSuite) TestSerialDoesNotHoldWorkers() {
	d, err := New(&Options{Workers: 2, QueueSize: 16})
	s.Require().NoError(err)
	defer d.Close(context.Background()) // nolint: errcheck

	var a, b Serial
	gate := make(chan struct{})
	started := make(chan struct{})
	blocked := SubmitSerial(context.Background(), d, &a, "a.hold", func(context.Context) (int, error) {
		close(started)
		<-gate
		return 1, nil
	}, nil)
	<-started

	waiting := SubmitSerial(context.Background(), d, &a, "a.wait", func(context.Context) (int, error) {
		return 2, nil
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	v, err := SubmitSerial(context.Background(), d, &b, "b", func(context.Context) (int, error) {
		return 3, nil
	}, nil).Await(ctx)
	s.NoError(err)
	s.Equal(3, v)
	s.Eventually(func() bool { return d.Stats().InFlight == 1 }, time.Second, time.Millisecond)

	close(gate)
	v, err = waiting.Await(context.Background())
	s.NoError(err)
	s.Equal(2, v)

	_, err = blocked.Await(context.Background())
	s.NoError(err)
}

func (s *DispatcherSuite) TestSerialCancelWhileWaiting() {
	var line Serial
	gate := make(chan struct{})
	head := SubmitSerial(context.Background(), s.d, &line, "head", func(context.Context) (int, error) {
		<-gate
		return 1, nil
	}, nil)

	var finallyCalls, ran atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	cancelled := SubmitSerial(ctx, s.d, &line, "cancelled", func(context.Context) (int, error) {
		ran.Add(1)
		return 2, nil
	}, func() { finallyCalls.Add(1) })

	tail := SubmitSerial(context.Background(), s.d, &line, "tail", func(context.Context) (int, error) {
		return 3, nil
	}, nil)

	cancel()
	_, err := cancelled.Await(context.Background())
	s.ErrorIs(err, context.Canceled)
	s.Eventually(func() bool { return finallyCalls.Load() == 1 }, time.Second, time.Millisecond)
	s.Equal(1, line.Waiting())

	close(gate)
	v, err := tail.Await(context.Background())
	s.NoError(err)
	s.Equal(3, v)

	_, err = head.Await(context.Background())
	s.NoError(err)
	s.Equal(int32(0), ran.Load())
	s.Equal(int32(1), finallyCalls.Load())
}

func (s *DispatcherSuite) TestSerialAfterClose() {
	s.NoError(s.d.Close(context.Background()))

	var line Serial
	finallyCalls := 0
	f := SubmitSerial(context.Background(), s.d, &line, "closed", func(context.Context) (int, error) {
		return 1, nil
	}, func() { finallyCalls++ })

	_, err := f.Await(context.Background())
	s.Equal(errors.KindScheduling, errors.KindOf(err))
	s.Equal(1, finallyCalls)
	s.Equal(0, line.Waiting())

	// the line is idle again
	s.False(line.busy)
}
