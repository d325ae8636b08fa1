package util

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrHasherStopped   = errors.New("IP hasher stopped")
	ErrInvalidInterval = errors.New("rotation interval must be >= 15 minutes")
)

// IPHasher turns client addresses into HMACs keyed per rotation epoch, so
// stored hashes can be correlated within an epoch but not reversed.
type IPHasher struct {
	interval time.Duration
	now      func() time.Time
	mu       sync.Mutex
	pepper   []byte
	epoch    int64
	key      []byte
	stopped  bool
}

// NewIPHasher builds a hasher from pepper. An empty pepper is replaced by a
// random one, which makes hashes unlinkable across restarts.
func NewIPHasher(pepper []byte, interval time.Duration) (*IPHasher, error) {
	if interval < 15*time.Minute {
		return nil, ErrInvalidInterval
	}
	h := &IPHasher{interval: interval, now: time.Now}
	if len(pepper) == 0 {
		h.pepper = make([]byte, 32)
		if _, err := rand.Read(h.pepper); err != nil {
			return nil, errors.Wrap(err, "pepper rand")
		}
	} else {
		if len(pepper) < 32 {
			return nil, errors.New("pepper must be at least 32 bytes")
		}
		h.pepper = make([]byte, len(pepper))
		copy(h.pepper, pepper)
	}
	h.epoch = -1
	return h, nil
}
func (h *IPHasher) HashIP(ip string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return "", ErrHasherStopped
	}
	epoch := h.now().Unix() / int64(h.interval.Seconds())
	if epoch != h.epoch {
		if h.key != nil {
			Wipe(h.key)
		}
		h.key = h.deriveKey(epoch)
		h.epoch = epoch
		Debug().Int64("epoch", epoch).Msg("rotated IP hasher key")
	}
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(ip))
	return fmt.Sprintf("hmac-sha256:%d:%s", epoch, hex.EncodeToString(mac.Sum(nil))), nil
}
func (h *IPHasher) deriveKey(epoch int64) []byte {
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(fmt.Sprintf("ctrlv-ip-hasher-v1:%d", epoch)))
	return mac.Sum(nil)
}
func (h *IPHasher) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	if h.key != nil {
		Wipe(h.key)
		h.key = nil
	}
	Wipe(h.pepper)
	h.pepper = nil
}
