package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/echowrite-ai/echowrite-backend/internal/usage"
	"github.com/echowrite-ai/echowrite-backend/pkg/enums"
	pkgerrors "github.com/echowrite-ai/echowrite-backend/pkg/errors"
	"github.com/echowrite-ai/echowrite-backend/pkg/llm"
	"github.com/echowrite-ai/echowrite-backend/pkg/logger"
	"github.com/echowrite-ai/echowrite-backend/pkg/metrics"
	"github.com/google/uuid"
)

const (
	maxInputLength = 2000

	replySystemPrompt = "You write short, natural replies to social media posts. Match the tone of the post, stay under 280 characters, and never use hashtags unless the post does."
	tweetSystemPrompt = "You write engaging standalone social media posts. Stay under 280 characters and write in a conversational voice."
)

// Result is one generated text plus its quota accounting.
type Result struct {
	Text     string         `json:"text"`
	Tokens   int64          `json:"tokens"`
	Decision usage.Decision `json:"quota"`
}

type quotaEngine interface {
	Consume(ctx context.Context, userID uuid.UUID, quotaType enums.QuotaType, units int, tz string) (usage.Decision, error)
	Record(ctx context.Context, userID uuid.UUID, quotaType enums.QuotaType, tokens int64) error
	Release(ctx context.Context, userID uuid.UUID, quotaType enums.QuotaType, units int, tz string) error
}

type completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Service is the metered generation proxy: quota check, model call, usage
// record.
type Service interface {
	Reply(ctx context.Context, userID uuid.UUID, post string, tz string) (Result, error)
	Tweet(ctx context.Context, userID uuid.UUID, topic string, tz string) (Result, error)
}

// ServiceParams groups dependencies for the generation proxy.
type ServiceParams struct {
	Quota   quotaEngine
	LLM     completer
	Metrics *metrics.BillingMetrics
	Logger  *logger.Logger
	Now     func() time.Time
}

type service struct {
	quota   quotaEngine
	llm     completer
	metrics *metrics.BillingMetrics
	logg    *logger.Logger
	now     func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Quota == nil {
		return nil, fmt.Errorf("quota engine required")
	}
	if params.LLM == nil {
		return nil, fmt.Errorf("llm client required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		quota:   params.Quota,
		llm:     params.LLM,
		metrics: params.Metrics,
		logg:    params.Logger,
		now:     now,
	}, nil
}

// Reply generates a reply to the given post.
func (s *service) Reply(ctx context.Context, userID uuid.UUID, post string, tz string) (Result, error) {
	return s.generate(ctx, userID, enums.QuotaTypeReply, replySystemPrompt, post, tz)
}

// Tweet generates a standalone post for the given topic.
func (s *service) Tweet(ctx context.Context, userID uuid.UUID, topic string, tz string) (Result, error) {
	return s.generate(ctx, userID, enums.QuotaTypeTweet, tweetSystemPrompt, topic, tz)
}

func (s *service) generate(ctx context.Context, userID uuid.UUID, quotaType enums.QuotaType, system, input, tz string) (Result, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "input text is required")
	}
	if len(input) > maxInputLength {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("input exceeds %d characters", maxInputLength))
	}

	decision, err := s.quota.Consume(ctx, userID, quotaType, 1, tz)
	if err != nil {
		return Result{Decision: decision}, err
	}

	started := s.now()
	completion, err := s.llm.Complete(ctx, llm.Request{
		System:      system,
		Prompt:      input,
		MaxTokens:   300,
		Temperature: 0.8,
	})
	if err != nil {
		// The model call failed after the quota check; hand the unit back
		// so the failed attempt does not count against the day.
		s.release(ctx, userID, quotaType, tz)
		return Result{Decision: decision}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "generate text")
	}
	s.metrics.ObserveGeneration(quotaType.String(), s.now().Sub(started))

	// A failed write here must not cost the user their generated text;
	// release the reservation so the counter matches what the store saw.
	if err := s.quota.Record(ctx, userID, quotaType, completion.TotalTokens); err != nil {
		if s.logg != nil {
			s.logg.Warn(s.logg.WithQuotaType(s.logg.WithUserID(ctx, userID.String()), quotaType.String()), "recording usage event failed")
		}
		s.release(ctx, userID, quotaType, tz)
	}

	return Result{
		Text:     completion.Text,
		Tokens:   completion.TotalTokens,
		Decision: decision,
	}, nil
}

func (s *service) release(ctx context.Context, userID uuid.UUID, quotaType enums.QuotaType, tz string) {
	if err := s.quota.Release(ctx, userID, quotaType, 1, tz); err != nil && s.logg != nil {
		s.logg.Warn(s.logg.WithQuotaType(s.logg.WithUserID(ctx, userID.String()), quotaType.String()), "releasing quota reservation failed")
	}
}
