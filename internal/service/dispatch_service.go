package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"notify-service/internal/domain/entity"
	"notify-service/internal/domain/repository"
	"notify-service/internal/domain/service"
	"notify-service/pkg/validation"

	"github.com/rs/zerolog"
)

const defaultEmailSubject = "Notification"

// DispatchConfig holds the engine defaults
type DispatchConfig struct {
	// DefaultCountryCode replaces a leading national '0' when the request carries none
	DefaultCountryCode string
}

// DispatchDeps are the collaborators of the dispatch engine.
// Directory, Renderer and Publisher are optional.
type DispatchDeps struct {
	Repo      repository.NotificationRepository
	Adapters  []service.ChannelAdapter
	Tokens    service.TokenService
	Directory service.UserDirectory
	Renderer  service.TemplateRenderer
	Publisher service.EventPublisher
}

type dispatchService struct {
	repo      repository.NotificationRepository
	adapters  map[entity.Channel]service.ChannelAdapter
	tokens    service.TokenService
	directory service.UserDirectory
	renderer  service.TemplateRenderer
	status    *statusRecorder
	cfg       DispatchConfig
	log       zerolog.Logger
}

// NewDispatchService creates a new dispatch engine. Channels without an adapter reject sends.
func NewDispatchService(deps DispatchDeps, cfg DispatchConfig, log zerolog.Logger) service.DispatchService {
	adapters := make(map[entity.Channel]service.ChannelAdapter, len(deps.Adapters))
	for _, a := range deps.Adapters {
		if a != nil {
			adapters[a.Channel()] = a
		}
	}

	return &dispatchService{
		repo:      deps.Repo,
		adapters:  adapters,
		tokens:    deps.Tokens,
		directory: deps.Directory,
		renderer:  deps.Renderer,
		status:    newStatusRecorder(deps.Repo, deps.Publisher, log),
		cfg:       cfg,
		log:       log,
	}
}

func (s *dispatchService) SendEmail(ctx context.Context, req entity.SendRequest) (*entity.DispatchResult, error) {
	req.Channel = entity.ChannelEmail
	return s.Dispatch(ctx, req)
}

func (s *dispatchService) SendSMS(ctx context.Context, req entity.SendRequest) (*entity.DispatchResult, error) {
	req.Channel = entity.ChannelSMS
	return s.Dispatch(ctx, req)
}

func (s *dispatchService) SendPush(ctx context.Context, req entity.SendRequest) (*entity.DispatchResult, error) {
	req.Channel = entity.ChannelPush
	return s.Dispatch(ctx, req)
}

// outbound is a validated request ready to be recorded and sent
type outbound struct {
	dest     entity.Destination
	title    string
	body     string
	metadata map[string]any
}

func (s *dispatchService) Dispatch(ctx context.Context, req entity.SendRequest) (*entity.DispatchResult, error) {
	if !req.Channel.Valid() {
		return nil, entity.NewValidationError("channel", fmt.Sprintf("unsupported channel %q", req.Channel))
	}

	adapter, ok := s.adapters[req.Channel]
	if !ok {
		return nil, fmt.Errorf("%s: %w", req.Channel, entity.ErrChannelUnavailable)
	}

	req.OwnerID = strings.TrimSpace(req.OwnerID)

	var (
		out *outbound
		err error
	)
	switch req.Channel {
	case entity.ChannelEmail:
		out, err = s.prepareEmail(ctx, req)
	case entity.ChannelSMS:
		out, err = s.prepareSMS(ctx, req)
	case entity.ChannelPush:
		out, err = s.preparePush(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if out == nil {
		return &entity.DispatchResult{
			Success:     false,
			ErrorKind:   entity.ErrorKindNotFound,
			ErrorDetail: "no push targets registered for user",
		}, nil
	}

	notification := &entity.Notification{
		OwnerID:  req.OwnerID,
		Channel:  req.Channel,
		Title:    out.title,
		Body:     out.body,
		Status:   entity.NotificationStatusPending,
		Metadata: out.metadata,
	}
	if err := s.repo.Create(ctx, notification); err != nil {
		return nil, fmt.Errorf("failed to create notification record: %w: %w", entity.ErrStoreUnavailable, err)
	}

	log := s.log.With().
		Str("notification_id", notification.ID).
		Str("channel", string(req.Channel)).
		Logger()

	extra := map[string]any{"notificationId": notification.ID}
	if tmpl, ok := out.metadata[entity.MetadataTemplate].(string); ok && tmpl != "" {
		extra[entity.MetadataTemplate] = tmpl
	}
	if len(req.Data) > 0 {
		extra["data"] = req.Data
	}

	result := adapter.Send(ctx, out.dest, out.title, out.body, extra)

	if result.Success {
		s.recordSuccess(ctx, log, notification, result)
	} else {
		s.recordFailure(ctx, log, notification, result)
	}

	if req.Channel == entity.ChannelPush && req.OwnerID != "" && len(result.InvalidTargets) > 0 {
		if err := s.tokens.PruneInvalid(ctx, req.OwnerID, result.InvalidTargets); err != nil {
			log.Warn().Err(err).Str("user_id", req.OwnerID).Msg("failed to prune invalid push targets")
		}
	}

	return &entity.DispatchResult{
		Success:           result.Success,
		NotificationID:    notification.ID,
		ProviderMessageID: result.ProviderMessageID,
		ErrorKind:         result.ErrorKind,
		ErrorDetail:       result.ErrorDetail,
	}, nil
}

// recordSuccess moves the record to sent, and on to delivered when the
// provider confirmed delivery synchronously. Store errors leave the record
// pending for the sweeper and do not change the caller's result.
func (s *dispatchService) recordSuccess(ctx context.Context, log zerolog.Logger, n *entity.Notification, result entity.SendResult) {
	metadata := resultMetadata(result)
	if result.ProviderMessageID != "" {
		metadata[entity.MetadataMessageID] = result.ProviderMessageID
	}

	sent, err := s.status.apply(ctx, n, entity.StatusUpdate{
		Status:   entity.NotificationStatusSent,
		Metadata: metadata,
	})
	if errors.Is(err, entity.ErrDuplicateMessageID) {
		log.Error().Err(err).Str("message_id", result.ProviderMessageID).Msg("provider reused a message id")
		delete(metadata, entity.MetadataMessageID)
		sent, err = s.status.apply(ctx, n, entity.StatusUpdate{
			Status:   entity.NotificationStatusSent,
			Metadata: metadata,
		})
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to record sent status")
		return
	}

	log.Info().
		Str("message_id", result.ProviderMessageID).
		Str("provider_status", result.ProviderStatus).
		Msg("notification sent")

	if !result.Delivered {
		return
	}
	if _, err := s.status.apply(ctx, sent, entity.StatusUpdate{Status: entity.NotificationStatusDelivered}); err != nil {
		log.Error().Err(err).Msg("failed to record delivered status")
	}
}

func (s *dispatchService) recordFailure(ctx context.Context, log zerolog.Logger, n *entity.Notification, result entity.SendResult) {
	kind := result.ErrorKind
	if kind == entity.ErrorKindNone {
		kind = entity.ErrorKindUnknown
	}
	reason := result.ErrorDetail
	if reason == "" {
		reason = string(kind)
	}

	metadata := resultMetadata(result)
	metadata[entity.MetadataErrorKind] = string(kind)
	if result.ProviderMessageID != "" {
		metadata[entity.MetadataMessageID] = result.ProviderMessageID
	}

	update := entity.StatusUpdate{
		Status:        entity.NotificationStatusFailed,
		FailureReason: reason,
		Metadata:      metadata,
	}
	_, err := s.status.apply(ctx, n, update)
	if errors.Is(err, entity.ErrDuplicateMessageID) {
		delete(update.Metadata, entity.MetadataMessageID)
		_, err = s.status.apply(ctx, n, update)
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to record failed status")
	}

	log.Warn().
		Str("error_kind", string(kind)).
		Str("reason", reason).
		Msg("notification failed")
}

func resultMetadata(result entity.SendResult) map[string]any {
	metadata := make(map[string]any, len(result.Metadata)+4)
	for k, v := range result.Metadata {
		metadata[k] = v
	}
	if result.ProviderStatus != "" {
		metadata[entity.MetadataProviderStatus] = result.ProviderStatus
	}
	if len(result.Targets) > 0 {
		var ok, failed int
		ids := make([]string, 0, len(result.Targets))
		for _, t := range result.Targets {
			if t.Success {
				ok++
				if t.MessageID != "" {
					ids = append(ids, t.MessageID)
				}
			} else {
				failed++
			}
		}
		metadata[entity.MetadataSuccessCount] = ok
		metadata[entity.MetadataFailureCount] = failed
		if len(ids) > 0 {
			metadata[entity.MetadataMessageIDs] = ids
		}
	}
	if len(result.InvalidTargets) > 0 {
		metadata[entity.MetadataInvalidTokens] = append([]string(nil), result.InvalidTargets...)
	}
	return metadata
}

func (s *dispatchService) prepareEmail(ctx context.Context, req entity.SendRequest) (*outbound, error) {
	recipient := strings.TrimSpace(req.Recipient)
	needsDirectory := recipient == ""

	user, err := s.lookupUser(ctx, req.OwnerID, needsDirectory)
	if err != nil {
		return nil, err
	}
	if err := checkPreferences(user, entity.ChannelEmail); err != nil {
		return nil, err
	}
	if recipient == "" && user != nil {
		recipient = user.Email
	}
	if err := validation.ValidateEmail(recipient); err != nil {
		return nil, entity.NewValidationError("recipient", err.Error())
	}

	title, body := strings.TrimSpace(req.Title), req.Body
	metadata := map[string]any{entity.MetadataRecipient: recipient}

	if req.Template != "" {
		if s.renderer == nil {
			return nil, entity.NewValidationError("template", "email templates are not configured")
		}
		subject, html, err := s.renderer.Render(req.Template, req.Variables)
		if err != nil {
			return nil, entity.NewValidationError("template", err.Error())
		}
		if title == "" {
			title = subject
		}
		body = html
		metadata[entity.MetadataTemplate] = req.Template
	}

	if strings.TrimSpace(body) == "" {
		return nil, entity.NewValidationError("body", "body or template is required")
	}
	if title == "" {
		title = defaultEmailSubject
	}

	return &outbound{
		dest:     entity.Destination{Address: recipient},
		title:    title,
		body:     body,
		metadata: metadata,
	}, nil
}

func (s *dispatchService) prepareSMS(ctx context.Context, req entity.SendRequest) (*outbound, error) {
	raw := strings.TrimSpace(req.Recipient)
	needsDirectory := raw == ""

	user, err := s.lookupUser(ctx, req.OwnerID, needsDirectory)
	if err != nil {
		return nil, err
	}
	if err := checkPreferences(user, entity.ChannelSMS); err != nil {
		return nil, err
	}
	if raw == "" && user != nil {
		raw = user.Phone
	}

	countryCode := req.CountryCode
	if countryCode == "" {
		countryCode = s.cfg.DefaultCountryCode
	}
	phone, err := validation.NormalizePhone(raw, countryCode)
	if err != nil {
		return nil, entity.NewValidationError("recipient", err.Error())
	}
	if strings.TrimSpace(req.Body) == "" {
		return nil, entity.NewValidationError("body", "message is required")
	}

	return &outbound{
		dest:     entity.Destination{Address: phone, CountryCode: countryCode},
		title:    strings.TrimSpace(req.Title),
		body:     req.Body,
		metadata: map[string]any{entity.MetadataRecipient: phone},
	}, nil
}

// preparePush returns a nil outbound when the owner has no push targets
func (s *dispatchService) preparePush(ctx context.Context, req entity.SendRequest) (*outbound, error) {
	title := strings.TrimSpace(req.Title)
	if err := validation.ValidateTitle(title); err != nil {
		return nil, entity.NewValidationError("title", err.Error())
	}
	if strings.TrimSpace(req.Body) == "" {
		return nil, entity.NewValidationError("body", "body is required")
	}

	token, topic := strings.TrimSpace(req.Token), strings.TrimSpace(req.Topic)
	if token == "" && topic == "" && req.OwnerID == "" {
		return nil, entity.NewValidationError("target", "one of token, user id or topic is required")
	}

	user, err := s.lookupUser(ctx, req.OwnerID, false)
	if err != nil {
		return nil, err
	}
	if err := checkPreferences(user, entity.ChannelPush); err != nil {
		return nil, err
	}

	out := &outbound{
		title:    title,
		body:     req.Body,
		metadata: map[string]any{},
	}

	switch {
	case token != "":
		if err := validation.ValidatePushToken(token); err != nil {
			return nil, entity.NewValidationError("token", err.Error())
		}
		out.dest.Tokens = []string{token}
	case topic != "":
		if err := validation.ValidateTopic(topic); err != nil {
			return nil, entity.NewValidationError("topic", err.Error())
		}
		out.dest.Topic = strings.TrimPrefix(topic, "/topics/")
		out.metadata[entity.MetadataTopic] = out.dest.Topic
		return out, nil
	default:
		tokens, err := s.targetsFor(ctx, req.OwnerID, user)
		if err != nil {
			return nil, err
		}
		if len(tokens) == 0 {
			return nil, nil
		}
		out.dest.Tokens = tokens
	}

	out.metadata[entity.MetadataTokens] = append([]string(nil), out.dest.Tokens...)
	return out, nil
}

// targetsFor returns the owner's registered tokens. Tokens only known to the
// user directory are imported into the target store first so they can be pruned.
func (s *dispatchService) targetsFor(ctx context.Context, ownerID string, user *entity.User) ([]string, error) {
	tokens, err := s.tokens.TargetsFor(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if len(tokens) > 0 || user == nil || len(user.PushTargets) == 0 {
		return tokens, nil
	}

	for _, t := range user.PushTargets {
		if validation.ValidatePushToken(t) != nil {
			continue
		}
		if err := s.tokens.AddTarget(ctx, ownerID, t); err != nil {
			s.log.Warn().Err(err).Str("user_id", ownerID).Msg("failed to import push target from user directory")
		}
	}
	return s.tokens.TargetsFor(ctx, ownerID)
}

// lookupUser resolves the owner in the user directory. Lookup failures only
// matter when the request relies on the directory for its recipient.
func (s *dispatchService) lookupUser(ctx context.Context, ownerID string, required bool) (*entity.User, error) {
	if ownerID == "" || s.directory == nil {
		if required {
			return nil, entity.NewValidationError("recipient", "recipient is required")
		}
		return nil, nil
	}

	user, err := s.directory.GetUser(ctx, ownerID)
	if err != nil {
		if required {
			return nil, fmt.Errorf("failed to resolve recipient for user %s: %w", ownerID, err)
		}
		s.log.Warn().Err(err).Str("user_id", ownerID).Msg("user directory lookup failed")
		return nil, nil
	}
	return user, nil
}

func checkPreferences(user *entity.User, channel entity.Channel) error {
	if user == nil || user.Preferences.Allows(channel) {
		return nil
	}
	return entity.NewValidationError("channel", fmt.Sprintf("user has disabled %s notifications", channel))
}
