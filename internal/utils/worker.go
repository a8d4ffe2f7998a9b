package utils

import (
	"errors"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const (
	TASK_CHAN_SIZE = 100
)

var ErrPoolStopped = errors.New("worker pool stopped")

// WorkerFunction handles one task. Any error returned is fatal: the worker
// exits and the tomb is killed with it.
type WorkerFunction = func(t *tomb.Tomb, task any) error

// WorkerPool runs tasks on a fixed number of serial lanes. Tasks added with
// the same key always land on the same lane and run in the order they were
// added, so per-key work is single-writer while different keys proceed in
// parallel.
type WorkerPool struct {
	lanes []chan any     // one task queue per worker
	work  WorkerFunction // do work method
	t     *tomb.Tomb     // set by Setup
}

func NewWorkerPool(size uint, work WorkerFunction) *WorkerPool {
	if size == 0 {
		size = 1
	}
	lanes := make([]chan any, size)
	for i := range lanes {
		lanes[i] = make(chan any, TASK_CHAN_SIZE)
	}
	return &WorkerPool{
		lanes: lanes,
		work:  work,
	}
}

// Setup starts one worker per lane under t.
func (pool *WorkerPool) Setup(t *tomb.Tomb) {
	pool.t = t
	for id, lane := range pool.lanes {
		t.Go(func() error {
			return pool.worker(t, id, lane)
		})
	}
}

// AddTask queues task on the lane owning key, blocking while that lane is
// full. It fails once the pool's tomb is dying.
func (pool *WorkerPool) AddTask(key string, task any) error {
	if pool.t == nil {
		return ErrPoolStopped
	}
	lane := pool.lanes[pool.Lane(key)]
	select {
	case <-pool.t.Dying():
		return ErrPoolStopped
	case lane <- task:
		return nil
	}
}

// Lane returns the index of the lane serving key.
func (pool *WorkerPool) Lane(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(pool.lanes)))
}

func (pool *WorkerPool) Size() int {
	return len(pool.lanes)
}

// Workers wait on tasks in their lane and action them.
func (pool *WorkerPool) worker(t *tomb.Tomb, id int, lane chan any) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case task := <-lane:
			if err := pool.work(t, task); err != nil {
				log.Error().Err(err).Int("id", id).Msg("worker exiting")
				return err
			}
		}
	}
}
