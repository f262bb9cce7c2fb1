package realtime

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const defaultSendTimeout = 5 * time.Second

// Channel is a live push-delivery connection. Send must respect the context
// deadline; a send that fails for any reason causes the hub to drop and close
// the channel.
type Channel interface {
	Send(ctx context.Context, payload []byte) error
	Close()
}

// Hub groups live channels by owner and fans events out to exactly the
// owner's channels. A channel belongs to at most one owner at a time.
type Hub struct {
	logger      *log.Logger
	sendTimeout time.Duration

	mu        sync.Mutex
	owners    map[string]map[Channel]struct{}
	byChannel map[Channel]string
}

// NewHub creates an empty Hub.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Hub{
		logger:      logger,
		sendTimeout: defaultSendTimeout,
		owners:      make(map[string]map[Channel]struct{}),
		byChannel:   make(map[Channel]string),
	}
}

// Join registers ch under owner. If ch is already registered it is first
// removed from its previous owner.
func (h *Hub) Join(owner string, ch Channel) {
	h.mu.Lock()
	if prev, ok := h.byChannel[ch]; ok {
		h.removeLocked(prev, ch)
	}
	set, ok := h.owners[owner]
	if !ok {
		set = make(map[Channel]struct{})
		h.owners[owner] = set
	}
	set[ch] = struct{}{}
	h.byChannel[ch] = owner
	total := len(set)
	h.mu.Unlock()

	h.logger.WithFields(log.Fields{"owner": owner, "channels": total}).Debug("channel joined")
}

// Leave removes ch from whatever owner set contains it. It is a no-op for an
// unregistered channel.
func (h *Hub) Leave(ch Channel) {
	h.mu.Lock()
	owner, ok := h.byChannel[ch]
	if ok {
		h.removeLocked(owner, ch)
	}
	h.mu.Unlock()
}

func (h *Hub) removeLocked(owner string, ch Channel) {
	if set, ok := h.owners[owner]; ok {
		delete(set, ch)
		if len(set) == 0 {
			delete(h.owners, owner)
		}
	}
	delete(h.byChannel, ch)
}

// FanOut delivers payload to every channel registered under owner. A channel
// that fails to accept the payload within the send timeout is dropped and
// closed; delivery to the remaining channels is unaffected.
func (h *Hub) FanOut(owner string, payload []byte) {
	h.mu.Lock()
	channels := make([]Channel, 0, len(h.owners[owner]))
	for ch := range h.owners[owner] {
		channels = append(channels, ch)
	}
	h.mu.Unlock()

	for _, ch := range channels {
		ctx, cancel := context.WithTimeout(context.Background(), h.sendTimeout)
		err := ch.Send(ctx, payload)
		cancel()
		if err != nil {
			h.logger.WithFields(log.Fields{"owner": owner, "error": err}).Debug("dropping dead channel")
			h.Leave(ch)
			ch.Close()
		}
	}
}

// ChannelCount reports how many channels are registered under owner.
func (h *Hub) ChannelCount(owner string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.owners[owner])
}
