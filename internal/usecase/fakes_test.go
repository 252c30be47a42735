package usecase

import (
	"context"
	"sync"

	"copilot-connector/internal/domain"
)

// fakeWire is a scripted WireClient. Each GetActivities call consumes the
// next batch; once exhausted the last batch repeats.
type fakeWire struct {
	mu sync.Mutex

	conversationID string
	startErr       error
	postErr        error
	batches        []domain.ActivitySet
	getErr         error

	startCalls int
	posted     []domain.OutboundActivity
	postedTo   []string
	watermarks []string
}

func (f *fakeWire) StartConversation(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	return f.conversationID, f.startErr
}

func (f *fakeWire) PostActivity(_ context.Context, conversationID string, activity domain.OutboundActivity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.postedTo = append(f.postedTo, conversationID)
	f.posted = append(f.posted, activity)
	return f.postErr
}

func (f *fakeWire) GetActivities(_ context.Context, _ string, watermark string) (domain.ActivitySet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watermarks = append(f.watermarks, watermark)
	if f.getErr != nil {
		return domain.ActivitySet{}, f.getErr
	}
	if len(f.batches) == 0 {
		return domain.ActivitySet{Activities: []domain.Activity{}}, nil
	}
	idx := len(f.watermarks) - 1
	if idx >= len(f.batches) {
		idx = len(f.batches) - 1
	}
	return f.batches[idx], nil
}

func (f *fakeWire) getCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.watermarks)
}
