package service

import (
	"context"
	"encoding/json"

	"github.com/erp-sync/internal/retry"
)

// cancelFlag is the durable cancellation slot's stored shape
type cancelFlag struct {
	Requested   bool   `json:"requested"`
	RequestedAt string `json:"requestedAt"`
}

// RequestCancellation raises the cancellation signal in both slots: the
// durable option (survives a Redis restart) and the fast transient slot
// (sub-millisecond reads for per-batch polling). Setting both means a
// request is never silently lost even if one store is briefly unavailable;
// the cost is that callers must clear both on completion or a leftover flag
// from an old run can cancel a future one.
func (s *StatusService) RequestCancellation(ctx context.Context) bool {
	payload, _ := json.Marshal(cancelFlag{
		Requested:   true,
		RequestedAt: s.now().Format("2006-01-02T15:04:05.000Z07:00"),
	})

	durableOK := retry.Do(ctx, retry.StoreWriteConfig(), func(ctx context.Context, _ int) error {
		return s.options.Set(ctx, cancelOptionKey, payload, false)
	}).Success
	if !durableOK {
		s.logger.Error("Failed to persist durable cancellation flag")
	}

	fastOK := true
	if err := s.transient.Set(ctx, cancelFastKey, "1", s.cancelFlagTTL); err != nil {
		fastOK = false
		s.logger.WithError(err).Warn("Failed to set fast cancellation flag")
	}

	if durableOK || fastOK {
		s.logger.Info("Cancellation requested")
		return true
	}
	return false
}

// ClearCancellation lowers the signal in both slots. Both must clear for the
// call to report success, otherwise a stale flag could cancel the next run.
func (s *StatusService) ClearCancellation(ctx context.Context) bool {
	durableOK := true
	if err := s.options.Delete(ctx, cancelOptionKey); err != nil {
		durableOK = false
		s.logger.WithError(err).Error("Failed to clear durable cancellation flag")
	}

	fastOK := true
	if err := s.transient.Del(ctx, cancelFastKey); err != nil {
		fastOK = false
		s.logger.WithError(err).Error("Failed to clear fast cancellation flag")
	}

	return durableOK && fastOK
}

// IsCancellationRequested reports whether either slot holds a raised flag.
// The fast slot is checked first; the durable slot covers flags set before a
// Redis restart or TTL expiry during a long write outage.
func (s *StatusService) IsCancellationRequested(ctx context.Context) bool {
	if value, found, err := s.transient.Get(ctx, cancelFastKey); err == nil && found && value != "" {
		return true
	} else if err != nil {
		s.logger.WithError(err).Warn("Fast cancellation flag unreadable")
	}

	raw, found, err := s.options.Get(ctx, cancelOptionKey)
	if err != nil {
		s.logger.WithError(err).Warn("Durable cancellation flag unreadable")
		return false
	}
	if !found {
		return false
	}

	var flag cancelFlag
	if err := json.Unmarshal(raw, &flag); err != nil {
		s.logger.WithError(err).Warn("Durable cancellation flag undecodable")
		return false
	}

	return flag.Requested
}
