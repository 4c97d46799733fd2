package watchtower

import (
	"sync"

	"github.com/TEENet-io/watchtower-go/agreement"
)

// ClaimJob is a bundle waiting to be submitted, ID is the escrow hash or vault key.
type ClaimJob struct {
	ID     string
	Bundle agreement.ClaimBundle
}

// PublisherService fans claim jobs out to registered observers.
// Register observers before the watchtower starts.
type PublisherService struct {
	ClaimObservers []chan ClaimJob
	mu             sync.Mutex
}

func NewPublisherService() *PublisherService {
	return &PublisherService{
		ClaimObservers: make([]chan ClaimJob, 0),
	}
}

func (m *PublisherService) RegisterClaimObserver(observer chan ClaimJob) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ClaimObservers = append(m.ClaimObservers, observer)
}

// NotifyClaim reports whether at least one observer took job. Observers
// with a full queue are skipped, the job is rebuilt on a later sync.
func (m *PublisherService) NotifyClaim(job ClaimJob) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	delivered := false
	for _, observer := range m.ClaimObservers {
		select {
		case observer <- job:
			delivered = true
		default:
		}
	}
	return delivered
}

// publish hands bundles to the observers. Bundles no observer took have
// their claim locks released so a later sync can rebuild them.
func (w *Watchtower) publish(bundles map[string]agreement.ClaimBundle) {
	for id, b := range bundles {
		if !w.publisher.NotifyClaim(ClaimJob{ID: id, Bundle: b}) {
			b.Release()
		}
	}
}
