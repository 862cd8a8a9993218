package session

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/cortex-mind/cortex/internal/domain"
)

// Reaper periodically transitions sessions past their TTL to Failed,
// following the same ticker+stopCh background-loop shape as the lock
// manager's reaper.
type Reaper struct {
	svc      *Service
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewReaper returns a Reaper that checks svc every interval.
func NewReaper(svc *Service, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = time.Second
	}
	return &Reaper{svc: svc, interval: interval, stopCh: make(chan struct{})}
}

// Start launches the background TTL-sweep loop.
func (r *Reaper) Start() {
	r.wg.Add(1)
	go r.loop()
}

// Stop halts the loop and waits for it to exit.
func (r *Reaper) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Reaper) loop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep transitions every Active/Paused session whose
// created_at + ttl_seconds has passed to Failed with reason ttl_expired.
func (r *Reaper) sweep() {
	ctx := context.Background()
	now := time.Now().UnixMilli()

	for _, status := range []domain.SessionStatus{domain.SessionActive, domain.SessionPaused} {
		sessions, err := r.svc.List(ctx, domain.SessionFilters{Status: status})
		if err != nil {
			log.Printf("[SESSION] TTL sweep: failed to list %s sessions: %v", status, err)
			continue
		}
		for _, sess := range sessions {
			ttlSec, err := strconv.Atoi(sess.Metadata[domain.MetaTTLSeconds])
			if err != nil || ttlSec <= 0 {
				continue
			}
			if sess.CreatedAt+int64(ttlSec)*1000 >= now {
				continue
			}
			if _, err := r.svc.Abandon(ctx, sess.ID, "ttl_expired"); err != nil {
				log.Printf("[SESSION] TTL sweep: failed to abandon session %s: %v", sess.ID, err)
			}
		}
	}
}
