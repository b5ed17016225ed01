package chat

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StartEvictionLoop 定期把空闲超时的会话移出内存，快照仍保留在存储中。
// 阻塞直到 ctx 结束；IdleTimeout 为 0 时不做驱逐。
func (s *Service) StartEvictionLoop(ctx context.Context) error {
	s.mu.Lock()
	if s.evictRunning || s.cfg.IdleTimeout <= 0 {
		s.mu.Unlock()
		<-ctx.Done()
		return nil
	}
	s.evictRunning = true
	interval := s.cfg.EvictInterval
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.evictRunning = false
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if n := s.evictIdleOnce(now); n > 0 {
				s.logger.Info("evicted idle sessions", zap.Int("count", n))
			}
		}
	}
}

func (s *Service) evictIdleOnce(now time.Time) int {
	idle := s.cfg.IdleTimeout
	if idle <= 0 {
		return 0
	}

	s.mu.RLock()
	convs := make([]*Conversation, 0, len(s.sessions))
	for _, conv := range s.sessions {
		convs = append(convs, conv)
	}
	s.mu.RUnlock()

	evicted := 0
	for _, conv := range convs {
		if s.evict(now, idle, conv) {
			evicted++
		}
	}
	return evicted
}

// evict 持有会话的发送锁完成检查与删除，避免与并发的发送交错。
func (s *Service) evict(now time.Time, idle time.Duration, conv *Conversation) bool {
	if !conv.sendMu.TryLock() {
		return false
	}
	defer conv.sendMu.Unlock()
	if !shouldEvict(now, idle, conv) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.sessions[conv.ID()]
	if !ok || current != conv {
		return false
	}
	delete(s.sessions, conv.ID())
	return true
}

func shouldEvict(now time.Time, idle time.Duration, conv *Conversation) bool {
	if conv.Busy() {
		return false
	}
	last := conv.LastActivity()
	if last.IsZero() {
		return false
	}
	return now.Sub(last) >= idle
}
