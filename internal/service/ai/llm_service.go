package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	"github.com/healthassistant/backend/internal/model/chat"
)

// Options tunes the call policy at the model boundary.
type Options struct {
	// MaxRetries is the number of extra attempts after a failed call.
	MaxRetries int
	// RetryBackoff is the wait before the first retry; later waits double.
	RetryBackoff time.Duration
	// Timeout bounds a single attempt. Zero means no timeout.
	Timeout time.Duration
}

// Service sends a system instruction, prior turns and the new user text to a
// chat model through an eino chain.
type Service struct {
	chain compose.Runnable[map[string]any, *schema.Message]
	opts  Options
}

// NewService compiles the prompt chain around chatModel.
func NewService(ctx context.Context, chatModel model.ChatModel, opts Options) (*Service, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chain: runnable,
		opts:  opts,
	}, nil
}

// Complete runs the chain once, retrying failed attempts per Options.
func (s *Service) Complete(ctx context.Context, system string, history []chat.Turn, userText string) (string, error) {
	input := buildChainInput(system, history, userText)

	var response *schema.Message
	err := s.retry(ctx, "retrying chat model call", func() error {
		var err error
		response, err = s.invoke(ctx, input)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}
	log.Debug().Int("history", len(history)).Int("length", len(response.Content)).Msg("generated response")
	return response.Content, nil
}

// Stream runs the chain in streaming mode and calls onDelta for every
// non-empty chunk. Only opening the stream is retried; once a chunk has been
// delivered a failure is returned as is.
func (s *Service) Stream(ctx context.Context, system string, history []chat.Turn, userText string, onDelta func(string) error) (string, error) {
	input := buildChainInput(system, history, userText)

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	var stream *schema.StreamReader[*schema.Message]
	err := s.retry(ctx, "retrying chat model stream", func() error {
		var err error
		stream, err = s.chain.Stream(ctx, input)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to stream AI chain output: %w", err)
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 8)
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return "", fmt.Errorf("failed to read AI stream: %w", recvErr)
		}
		if chunk == nil {
			continue
		}

		chunks = append(chunks, chunk)
		if chunk.Content != "" && onDelta != nil {
			if err := onDelta(chunk.Content); err != nil {
				return "", err
			}
		}
	}

	if len(chunks) == 0 {
		return "", nil
	}
	response, err := schema.ConcatMessages(chunks)
	if err != nil {
		return "", fmt.Errorf("failed to concat AI stream: %w", err)
	}
	return response.Content, nil
}

func (s *Service) invoke(ctx context.Context, input map[string]any) (*schema.Message, error) {
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}
	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return nil, err
	}
	if response == nil {
		return &schema.Message{Role: schema.Assistant}, nil
	}
	return response, nil
}

// retry runs op until it succeeds, MaxRetries extra attempts fail or ctx ends.
// Waits start at RetryBackoff and double.
func (s *Service) retry(ctx context.Context, msg string, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.opts.RetryBackoff
	policy.RandomizationFactor = 0
	policy.Multiplier = 2
	policy.MaxElapsedTime = 0

	attempt := 1
	return backoff.RetryNotify(op,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.opts.MaxRetries)), ctx),
		func(err error, wait time.Duration) {
			attempt++
			log.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg(msg)
		})
}

func buildChainInput(system string, history []chat.Turn, userText string) map[string]any {
	return map[string]any{
		"system":  system,
		"history": buildHistoryMessages(history),
		"query":   userText,
	}
}

func buildHistoryMessages(turns []chat.Turn) []*schema.Message {
	history := make([]*schema.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(turn.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(turn.Content, nil))
		default:
			log.Warn().Str("role", strings.TrimSpace(string(turn.Role))).Msg("skipping turn with unknown role")
		}
	}
	return history
}
