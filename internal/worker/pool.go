package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/andresmejia3/facelens/internal/frame"
	"github.com/andresmejia3/facelens/internal/types"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrPoolClosed is returned by Analyze after Close.
var ErrPoolClosed = errors.New("worker pool is closed")

// engine is the part of PythonWorker the pool drives. Tests swap in fakes.
type engine interface {
	Analyze(req Request) ([]types.FaceAnalysis, error)
	Logs() string
	Close() error
}

type starter func(ctx context.Context, id int) (engine, error)

type task struct {
	req   Request
	reply chan taskResult
}

type taskResult struct {
	faces []types.FaceAnalysis
	err   error
}

// Pool runs a fixed number of Python engines. Each engine handles one request at a time;
// callers queue on a shared channel, the same way the scan engines pull frames.
type Pool struct {
	tasks  chan task
	start  starter
	logger *zap.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
	done      chan struct{}

	mu      sync.Mutex
	engines []engine
}

// NewPool spawns numEngines Python workers and waits until all of them are up.
func NewPool(ctx context.Context, numEngines int, cfg Config, logger *zap.Logger) (*Pool, error) {
	return newPool(ctx, numEngines, func(ctx context.Context, id int) (engine, error) {
		return NewPythonWorker(ctx, id, cfg)
	}, logger)
}

func newPool(ctx context.Context, numEngines int, start starter, logger *zap.Logger) (*Pool, error) {
	if numEngines < 1 {
		numEngines = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		tasks:   make(chan task, numEngines),
		start:   start,
		logger:  logger,
		done:    make(chan struct{}),
		engines: make([]engine, numEngines),
	}

	// Warm up every engine before accepting work so a broken Python install fails at startup.
	for i := 0; i < numEngines; i++ {
		e, err := start(ctx, i)
		if err != nil {
			p.closeEngines()
			return nil, fmt.Errorf("engine %d failed to start: %w", i, err)
		}
		p.engines[i] = e
	}

	for i := 0; i < numEngines; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.run(ctx, id)
		}(i)
	}
	return p, nil
}

// Analyze queues a frame for the next free engine and waits for its answer.
func (p *Pool) Analyze(ctx context.Context, f frame.BGR, actions []types.Action, enforceDetection bool) ([]types.FaceAnalysis, error) {
	t := task{
		req: Request{
			Pixels:           f.Pix,
			Width:            f.Width,
			Height:           f.Height,
			Actions:          actions,
			EnforceDetection: enforceDetection,
		},
		reply: make(chan taskResult, 1),
	}

	select {
	case <-p.done:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case p.tasks <- t:
	}

	select {
	case res := <-t.reply:
		return res.faces, res.err
	case <-p.done:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		// The engine still finishes the frame; the buffered reply channel lets it move on.
		return nil, ctx.Err()
	}
}

func (p *Pool) run(ctx context.Context, id int) {
	for {
		select {
		case <-p.done:
			return
		case t := <-p.tasks:
			t.reply <- p.handle(ctx, id, t.req)
		}
	}
}

func (p *Pool) handle(ctx context.Context, id int, req Request) taskResult {
	e, err := p.engine(ctx, id)
	if err != nil {
		return taskResult{err: err}
	}

	faces, err := e.Analyze(req)
	var te *TransportError
	if errors.As(err, &te) {
		// DRAIN: the process is gone, keep its last words and restart on the next task
		p.logger.Error("python worker crashed",
			zap.Int("worker", id),
			zap.Error(err),
			zap.String("stderr", e.Logs()),
		)
		e.Close()
		p.mu.Lock()
		p.engines[id] = nil
		p.mu.Unlock()
	}
	return taskResult{faces: faces, err: err}
}

// engine returns worker id's process, restarting it if a previous request killed it.
func (p *Pool) engine(ctx context.Context, id int) (engine, error) {
	p.mu.Lock()
	e := p.engines[id]
	p.mu.Unlock()
	if e != nil {
		return e, nil
	}

	p.logger.Info("restarting python worker", zap.Int("worker", id))
	e, err := p.start(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("restart worker %d: %w", id, err)
	}
	p.mu.Lock()
	p.engines[id] = e
	p.mu.Unlock()
	return e, nil
}

// Close stops accepting work, waits for in-flight frames and shuts every engine down.
func (p *Pool) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
		err = p.closeEngines()
	})
	return err
}

func (p *Pool) closeEngines() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	for i, e := range p.engines {
		if e != nil {
			err = multierr.Append(err, e.Close())
			p.engines[i] = nil
		}
	}
	return err
}
