package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/render-farm/internal/domain"
	"github.com/cuongbtq/render-farm/internal/objectstore"
	"github.com/cuongbtq/render-farm/internal/queue"
	"github.com/cuongbtq/render-farm/internal/render"
	"github.com/cuongbtq/render-farm/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sourceBucket = "render-sources"
	outputBucket = "render-results"
)

type fakeRenderer struct {
	mu          sync.Mutex
	invocations []render.Invocation
	inputs      []string
	err         error
}

func (r *fakeRenderer) Render(ctx context.Context, inv render.Invocation) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(inv.InputPath)
	if err != nil {
		return "", err
	}
	r.inputs = append(r.inputs, string(data))
	r.invocations = append(r.invocations, inv)
	if r.err != nil {
		return "", r.err
	}

	out := filepath.Join(inv.WorkDir, fmt.Sprintf("%s%04d.png", render.OutputPrefix, inv.Frame))
	if err := os.WriteFile(out, []byte("pixels"), 0o644); err != nil {
		return "", err
	}
	return out, nil
}

func (r *fakeRenderer) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.invocations)
}

type countingSelector struct {
	mu     sync.Mutex
	calls  int
	device domain.GPUDescriptor
	ok     bool
}

func (s *countingSelector) Select(ctx context.Context) (domain.GPUDescriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.device, s.ok
}

type testEnv struct {
	queue    *queue.Memory
	objects  *objectstore.LocalFS
	renderer *fakeRenderer
	selector *countingSelector
	workDir  string
	worker   *Worker
}

func newTestEnv(t *testing.T, policy domain.AckPolicy) *testEnv {
	t.Helper()

	env := &testEnv{
		queue:    queue.NewMemory(time.Minute),
		objects:  objectstore.NewLocalFS(t.TempDir()),
		renderer: &fakeRenderer{},
		selector: &countingSelector{
			device: domain.GPUDescriptor{Index: 1, Name: "NVIDIA GeForce RTX 3090", Tags: []string{domain.TagPreferredTier}},
			ok:     true,
		},
		workDir: t.TempDir(),
	}

	src := filepath.Join(t.TempDir(), "scene.blend")
	require.NoError(t, os.WriteFile(src, []byte("scene-data"), 0o644))
	require.NoError(t, env.objects.Upload(context.Background(), sourceBucket, "projects/scene.blend", src))

	env.worker = NewWorker(&Config{
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		WorkerID:     "worker-test",
		Queue:        env.queue,
		Objects:      env.objects,
		SourceBucket: sourceBucket,
		Renderer:     env.renderer,
		Selector:     env.selector,
		AckPolicy:    policy,
		MaxMessages:  10,
		PollWait:     10 * time.Millisecond,
		ErrorBackoff: 10 * time.Millisecond,
		WorkDir:      env.workDir,
	})
	return env
}

func (e *testEnv) enqueue(t *testing.T, frames int) {
	t.Helper()
	var entries []queue.SendEntry
	for i := 0; i < frames; i++ {
		entry, err := task.Encode(&domain.RenderTask{
			JobID:             "c98d55ff-2d1e-4b0c-9a3f-63c1bd2fd6b0",
			FrameIndex:        i,
			SourceFile:        "projects/scene.blend",
			DestinationBucket: outputBucket,
			DestinationKey:    fmt.Sprintf("render-output/scene/2023-08-20_00-07-46/c98d55ff/final_cut_%05d", i+1),
		})
		require.NoError(t, err)
		entries = append(entries, entry)
	}
	_, err := e.queue.SendBatch(context.Background(), entries)
	require.NoError(t, err)
}

func (e *testEnv) receiveOne(t *testing.T) queue.Message {
	t.Helper()
	msgs, err := e.queue.Receive(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	return msgs[0]
}

func (e *testEnv) assertWorkDirEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(e.workDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "task directories must be removed")
}

func (e *testEnv) assertUploaded(t *testing.T, key string) {
	t.Helper()
	rc, err := e.objects.Open(context.Background(), outputBucket, key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "pixels", string(data))
}

func TestWorker_ProcessMessage(t *testing.T) {
	tests := []struct {
		name        string
		policy      domain.AckPolicy
		renderErr   error
		wantErr     bool
		wantDeleted bool
	}{
		{name: "after success, success deletes", policy: domain.AckAfterSuccess, wantDeleted: true},
		{name: "after success, failure keeps message", policy: domain.AckAfterSuccess, renderErr: errors.New("engine crashed"), wantErr: true},
		{name: "after decode, success deletes", policy: domain.AckAfterDecode, wantDeleted: true},
		{name: "after decode, failure still deleted", policy: domain.AckAfterDecode, renderErr: errors.New("engine crashed"), wantErr: true, wantDeleted: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.policy)
			env.renderer.err = tt.renderErr
			env.enqueue(t, 1)

			err := env.worker.processMessage(context.Background(), env.receiveOne(t))

			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				env.assertUploaded(t, "render-output/scene/2023-08-20_00-07-46/c98d55ff/final_cut_00001.png")
			}
			if tt.wantDeleted {
				assert.Zero(t, env.queue.Len())
			} else {
				assert.Equal(t, 1, env.queue.Len())
			}
			env.assertWorkDirEmpty(t)
		})
	}
}

func TestWorker_ProcessMessageInvocation(t *testing.T) {
	env := newTestEnv(t, domain.AckAfterSuccess)
	env.enqueue(t, 3)
	env.worker.selectDevice(context.Background())

	msgs, err := env.queue.Receive(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	require.NoError(t, env.worker.processMessage(context.Background(), msgs[2]))

	require.Len(t, env.renderer.invocations, 1)
	inv := env.renderer.invocations[0]
	assert.Equal(t, 3, inv.Frame, "engine frames are 1-based")
	assert.Equal(t, inputFileName, filepath.Base(inv.InputPath))
	require.NotNil(t, inv.GPU)
	assert.Equal(t, "NVIDIA GeForce RTX 3090", inv.GPU.Name)
	assert.Equal(t, []string{"scene-data"}, env.renderer.inputs)
}

func TestWorker_DecodeFailureIsNotDeleted(t *testing.T) {
	for _, policy := range []domain.AckPolicy{domain.AckAfterSuccess, domain.AckAfterDecode} {
		t.Run(string(policy), func(t *testing.T) {
			env := newTestEnv(t, policy)
			_, err := env.queue.SendBatch(context.Background(), []queue.SendEntry{
				{ID: "bad", Body: []byte("not json")},
			})
			require.NoError(t, err)

			err = env.worker.processMessage(context.Background(), env.receiveOne(t))

			require.ErrorIs(t, err, domain.ErrInvalidTaskMessage)
			assert.Equal(t, 1, env.queue.Len())
			assert.Zero(t, env.renderer.calls())
		})
	}
}

func TestWorker_MissingSourceKeepsMessage(t *testing.T) {
	env := newTestEnv(t, domain.AckAfterSuccess)
	entry, err := task.Encode(&domain.RenderTask{
		JobID:             "job",
		SourceFile:        "projects/missing.blend",
		DestinationBucket: outputBucket,
		DestinationKey:    "render-output/missing/out_00001",
	})
	require.NoError(t, err)
	_, err = env.queue.SendBatch(context.Background(), []queue.SendEntry{entry})
	require.NoError(t, err)

	err = env.worker.processMessage(context.Background(), env.receiveOne(t))

	require.Error(t, err)
	assert.True(t, domain.IsDependency(err))
	assert.Equal(t, 1, env.queue.Len())
	assert.Zero(t, env.renderer.calls())
	env.assertWorkDirEmpty(t)
}

func TestWorker_ExpiredHandleAfterSuccess(t *testing.T) {
	env := newTestEnv(t, domain.AckAfterSuccess)
	env.enqueue(t, 1)
	msg := env.receiveOne(t)

	// the visibility timeout elapses while the frame renders
	env.queue.SetClock(func() time.Time { return time.Now().Add(2 * time.Minute) })

	err := env.worker.processMessage(context.Background(), msg)

	require.ErrorIs(t, err, domain.ErrHandleExpired)
	env.assertUploaded(t, "render-output/scene/2023-08-20_00-07-46/c98d55ff/final_cut_00001.png")
	assert.Equal(t, 1, env.queue.Len())
}

func TestWorker_StartProcessesQueueAndStops(t *testing.T) {
	env := newTestEnv(t, domain.AckAfterSuccess)
	env.enqueue(t, 4)

	errChan := make(chan error, 1)
	go func() {
		errChan <- env.worker.Start(context.Background())
	}()

	require.Eventually(t, func() bool {
		return env.queue.Len() == 0
	}, 5*time.Second, 10*time.Millisecond)

	env.worker.Stop()
	require.NoError(t, <-errChan)

	assert.Equal(t, 4, env.renderer.calls())
	assert.Equal(t, 1, env.selector.calls, "device is selected once per worker")
	require.NotNil(t, env.worker.Device())
	assert.Equal(t, 1, env.worker.Device().Index)
	for i := 1; i <= 4; i++ {
		env.assertUploaded(t, fmt.Sprintf("render-output/scene/2023-08-20_00-07-46/c98d55ff/final_cut_%05d.png", i))
	}
	env.assertWorkDirEmpty(t)
}

func TestWorker_StartWithoutGPU(t *testing.T) {
	env := newTestEnv(t, domain.AckAfterSuccess)
	env.selector.ok = false
	env.enqueue(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		errChan <- env.worker.Start(ctx)
	}()

	require.Eventually(t, func() bool {
		return env.queue.Len() == 0
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-errChan)

	assert.Nil(t, env.worker.Device())
	require.Equal(t, 1, env.renderer.calls())
	assert.Nil(t, env.renderer.invocations[0].GPU)
}

func TestWorker_StopBeforeStartWaitsForLoop(t *testing.T) {
	env := newTestEnv(t, domain.AckAfterSuccess)
	env.enqueue(t, 1)

	stopped := make(chan struct{})
	go func() {
		env.worker.Stop()
		close(stopped)
	}()

	select {
	case <-env.worker.stopChan:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not signal the worker")
	}
	select {
	case <-stopped:
		t.Fatal("Stop returned before Start ran")
	default:
	}

	require.NoError(t, env.worker.Start(context.Background()))

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after Start finished")
	}
	assert.Zero(t, env.renderer.calls(), "a stopped worker does not poll")
	assert.Equal(t, 1, env.queue.Len())
}
