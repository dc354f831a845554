package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"notify-service/internal/domain/entity"
	"notify-service/internal/domain/repository"
	"notify-service/internal/domain/service"
	"notify-service/pkg/validation"

	"github.com/rs/zerolog"
)

type tokenService struct {
	repo      repository.PushTargetRepository
	validator service.TokenValidator
	directory service.UserDirectory
	log       zerolog.Logger
}

// NewTokenService creates a new push target service. validator and directory may be nil.
func NewTokenService(
	repo repository.PushTargetRepository,
	validator service.TokenValidator,
	directory service.UserDirectory,
	log zerolog.Logger,
) service.TokenService {
	return &tokenService{
		repo:      repo,
		validator: validator,
		directory: directory,
		log:       log,
	}
}

func (s *tokenService) AddTarget(ctx context.Context, userID, token string) error {
	userID, token = strings.TrimSpace(userID), strings.TrimSpace(token)
	if userID == "" {
		return entity.NewValidationError("user_id", "user id is required")
	}
	if err := validation.ValidatePushToken(token); err != nil {
		return entity.NewValidationError("token", err.Error())
	}

	if s.validator != nil {
		kind, err := s.validator.ValidateToken(ctx, token)
		switch {
		case kind == entity.ErrorKindPermanentInvalidTarget:
			return entity.NewValidationError("token", "push token is not registered")
		case err != nil:
			// Registration is not blocked by a provider outage
			s.log.Warn().Err(err).Str("user_id", userID).Str("error_kind", string(kind)).
				Msg("push token validation inconclusive")
		}
	}

	if err := s.repo.Add(ctx, userID, token); err != nil {
		return fmt.Errorf("failed to add push target: %w: %w", entity.ErrStoreUnavailable, err)
	}

	s.markTokenValidity(ctx, userID, true)
	return nil
}

func (s *tokenService) RemoveTarget(ctx context.Context, userID, token string) error {
	userID, token = strings.TrimSpace(userID), strings.TrimSpace(token)
	if userID == "" {
		return entity.NewValidationError("user_id", "user id is required")
	}
	if token == "" {
		return entity.NewValidationError("token", "push token is required")
	}

	if err := s.repo.Remove(ctx, userID, token); err != nil {
		return fmt.Errorf("failed to remove push target: %w: %w", entity.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *tokenService) PruneInvalid(ctx context.Context, userID string, invalidTokens []string) error {
	if userID == "" || len(invalidTokens) == 0 {
		return nil
	}

	if err := s.repo.Remove(ctx, userID, invalidTokens...); err != nil {
		return fmt.Errorf("failed to prune push targets: %w: %w", entity.ErrStoreUnavailable, err)
	}

	s.log.Info().Str("user_id", userID).Int("pruned", len(invalidTokens)).Msg("pruned invalid push targets")

	if s.directory != nil {
		remaining, err := s.repo.List(ctx, userID)
		if err == nil && len(remaining) == 0 {
			s.markTokenValidity(ctx, userID, false)
		}
	}
	return nil
}

func (s *tokenService) TargetsFor(ctx context.Context, userID string) ([]string, error) {
	tokens, err := s.repo.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list push targets: %w: %w", entity.ErrStoreUnavailable, err)
	}
	return tokens, nil
}

// markTokenValidity records the push reachability flag in the user directory.
// Failures are logged and never block the caller.
func (s *tokenService) markTokenValidity(ctx context.Context, userID string, valid bool) {
	if s.directory == nil {
		return
	}

	fields := map[string]any{
		"pushTokenValid":     valid,
		"pushTokenUpdatedAt": time.Now().UTC(),
	}
	if err := s.directory.UpdateUser(ctx, userID, fields); err != nil {
		evt := s.log.Warn()
		if errors.Is(err, entity.ErrNotFound) {
			evt = s.log.Debug()
		}
		evt.Err(err).Str("user_id", userID).Msg("failed to update push token validity")
	}
}
