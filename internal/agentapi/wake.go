package agentapi

import "sync"

// WakeHub carries best-effort "new work queued" hints from the router to
// long-polling claim requests. A missed hint only delays pickup until the
// next poll; nothing depends on delivery.
type WakeHub struct {
	mu    sync.Mutex
	chans map[string]chan struct{}
}

// NewWakeHub creates an empty hub.
func NewWakeHub() *WakeHub {
	return &WakeHub{chans: make(map[string]chan struct{})}
}

// Wake hints the cluster's pending poll. Never blocks.
func (h *WakeHub) Wake(clusterID string) {
	select {
	case h.channel(clusterID) <- struct{}{}:
	default:
	}
}

// WaitChan returns the cluster's hint channel.
func (h *WakeHub) WaitChan(clusterID string) <-chan struct{} {
	return h.channel(clusterID)
}

func (h *WakeHub) channel(clusterID string) chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.chans[clusterID]
	if !ok {
		ch = make(chan struct{}, 1)
		h.chans[clusterID] = ch
	}
	return ch
}
