package worker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
)

type sliceReader struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	errs   []error
	cancel context.CancelFunc
}

func (r *sliceReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return kafka.Message{}, err
	}
	if len(r.msgs) == 0 {
		r.cancel()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

type recordingPusher struct {
	lines []string
	fail  map[string]bool
}

func (p *recordingPusher) PushEventJSON(ctx context.Context, raw []byte) error {
	p.lines = append(p.lines, string(raw))
	if p.fail[string(raw)] {
		return errors.New("loki down")
	}
	return nil
}

func TestRun_PushesEveryMessageAndStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &sliceReader{
		msgs:   []kafka.Message{{Value: []byte("a")}, {Value: []byte("b")}, {Value: []byte("c")}},
		cancel: cancel,
	}
	p := &recordingPusher{fail: map[string]bool{"b": true}}

	if err := Run(ctx, r, p, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(p.lines) != 3 || p.lines[0] != "a" || p.lines[2] != "c" {
		t.Fatalf("pushed = %v, want a b c", p.lines)
	}
}

func TestRun_ReadErrorIsRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &sliceReader{
		errs:   []error{errors.New("rebalance")},
		msgs:   []kafka.Message{{Value: []byte("a")}},
		cancel: cancel,
	}
	p := &recordingPusher{}

	if err := Run(ctx, r, p, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(p.lines) != 1 {
		t.Fatalf("pushed = %v, want [a]", p.lines)
	}
}
