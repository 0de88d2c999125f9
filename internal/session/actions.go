package session

import (
	"context"
	"slices"
	"time"

	"github.com/DukeRupert/tandem/internal/catalog"
	"github.com/DukeRupert/tandem/internal/domain"
)

// CompleteMission marks a catalog mission as completed and persists.
func (s *Session) CompleteMission(ctx context.Context, missionID int) (domain.Record, error) {
	if !s.cfg.Catalog.Contains(missionID) {
		return s.Current(), domain.Invalid("session.complete", "Unknown mission.")
	}
	now := s.now()
	return s.update(ctx, func(r domain.Record) (domain.Record, error) {
		return r.CompleteMission(missionID, now)
	})
}

// SetReflection saves or, for blank text, removes the note on a mission.
func (s *Session) SetReflection(ctx context.Context, missionID int, text string) (domain.Record, error) {
	if !s.cfg.Catalog.Contains(missionID) {
		return s.Current(), domain.Invalid("session.reflect", "Unknown mission.")
	}
	return s.update(ctx, func(r domain.Record) (domain.Record, error) {
		return r.SetReflection(missionID, text)
	})
}

// SetLanguage changes the display language.
func (s *Session) SetLanguage(ctx context.Context, tag string) (domain.Record, error) {
	return s.update(ctx, func(r domain.Record) (domain.Record, error) {
		return r.SetLanguage(tag)
	})
}

// UpdateProfile validates and saves profile edits. Invalid input is rejected
// before any I/O.
func (s *Session) UpdateProfile(ctx context.Context, p domain.ProfileUpdateParams) (domain.Record, error) {
	if err := p.Validate(); err != nil {
		return s.Current(), err
	}
	return s.update(ctx, func(r domain.Record) (domain.Record, error) {
		return r.UpdateProfile(p)
	})
}

// SwitchMode changes the relationship mode optimistically.
//
// The new mode is applied and saved locally first, then committed to the
// remote profile. If the remote commit fails the previous mode is restored
// and a retryable error is returned. A local-only session commits locally.
func (s *Session) SwitchMode(ctx context.Context, mode domain.Mode) (domain.Record, error) {
	const op = "session.mode"

	s.mu.Lock()
	previous := s.record.Mode
	next, err := s.record.SetMode(mode)
	if err != nil {
		current := s.record.Clone()
		s.mu.Unlock()
		return current, err
	}
	s.record = next
	uid := s.uid
	snapshot := next.Clone()
	s.mu.Unlock()

	s.local.Write(ctx, snapshot)

	if err := s.pushRemote(ctx, uid, map[string]any{domain.FieldMode: string(mode)}); err != nil {
		s.logger.Warn("mode switch rejected by remote profile, rolling back",
			"user_id", uid,
			"mode", mode,
			"error", err,
		)
		r, _ := s.update(ctx, func(r domain.Record) (domain.Record, error) {
			// Leave a newer switch from another caller alone.
			if r.Mode == mode {
				r.Mode = previous
			}
			return r, nil
		})
		return r, domain.Unavailable(err, op, "We couldn't save your mode. Please try again.")
	}

	s.logger.Debug("mode switched", "mode", mode)
	return s.Current(), nil
}

// Reset clears the journey and starts a new one today. Identity, mode,
// partner name, language and billing are kept.
func (s *Session) Reset(ctx context.Context) domain.Record {
	now := s.now()
	r, _ := s.update(ctx, func(r domain.Record) (domain.Record, error) {
		return r.Reset(now), nil
	})
	s.logger.Info("progress reset")
	return r
}

// SignOut forgets the identity and wipes the local snapshot. The remote
// profile is never deleted.
func (s *Session) SignOut(ctx context.Context) (domain.Record, error) {
	if err := s.identity.SignOut(ctx); err != nil {
		return s.Current(), domain.Internal(err, "session.signout", "We couldn't sign you out. Please try again.")
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	fresh := s.local.Clear(ctx)

	s.mu.Lock()
	s.record = fresh.Clone()
	s.loaded = false
	s.uid, s.identityEmail = "", ""
	s.legacyAttempted = false
	s.lastCheckedID, s.lastCheckedAt = "", time.Time{}
	s.mu.Unlock()

	s.logger.Info("signed out")
	return fresh, nil
}

// TodayMission returns the mission assigned to the current journey day. The
// mission order is computed and saved on first use.
func (s *Session) TodayMission(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	computed := false
	if len(s.record.MissionOrder) == 0 {
		s.record.MissionOrder = s.cfg.Catalog.Order(s.record.StartDate)
		computed = true
	}
	order := slices.Clone(s.record.MissionOrder)
	start := s.record.StartDate
	s.mu.Unlock()

	if computed {
		s.persist(ctx)
	}
	return catalog.MissionForDay(order, start, now)
}
