package raidbot

import (
	"context"
	"log/slog"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOpenAIConfig() *OpenAIConfig {
	logLevel := &slog.LevelVar{}
	logLevel.Set(slog.LevelError)
	return &OpenAIConfig{
		Token:                "test-token",
		Model:                DefaultOpenAIModel,
		MaxTokens:            DefaultOpenAIMaxTokens,
		MaxRequestsPerSecond: 100,
		MaxIntentsPerCommand: DefaultMaxIntentsPerCommand,
		LogLevel:             logLevel,
	}
}

// mockOpenAIClient records chat completion requests and replies with canned
// content.
type mockOpenAIClient struct {
	content  string
	err      error
	calls    int
	requests []openai.ChatCompletionRequest
}

func (m *mockOpenAIClient) CreateChatCompletion(
	_ context.Context,
	request openai.ChatCompletionRequest,
) (openai.ChatCompletionResponse, error) {
	m.calls++
	m.requests = append(m.requests, request)
	if m.err != nil {
		return openai.ChatCompletionResponse{}, m.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: m.content}},
		},
	}, nil
}

func newTestExtractor(t *testing.T, mock *mockOpenAIClient) *IntentExtractor {
	t.Helper()
	e := NewIntentExtractor(newTestOpenAIConfig(), nil, nil, nil)
	e.client = mock
	return e
}

// TestCountPatternIntents verifies count-prefixed role tokens are summed,
// with longer suffixes consumed first so "2딜러" isn't counted twice.
func TestCountPatternIntents(t *testing.T) {
	assert.Equal(t, 0, countPatternIntents("딜"))
	assert.Equal(t, 0, countPatternIntents("추가"))
	assert.Equal(t, 2, countPatternIntents("2딜"))
	assert.Equal(t, 2, countPatternIntents("2딜러"))
	assert.Equal(t, 3, countPatternIntents("2딜 1폿"))
	assert.Equal(t, 11, countPatternIntents("10딜 1서포터"))
	assert.Equal(t, 4, countPatternIntents("1차 2딜 2서포터"))
}

// TestExtractIntents verifies the happy path: the command is wrapped into
// the extraction prompt, the JSON envelope is decoded, and the result is
// cached so an identical command skips the second API call.
func TestExtractIntents(t *testing.T) {
	mock := &mockOpenAIClient{
		content: `{"commands": [{"user":"u1", "command":"add", "role":"dps", "round":null, "round_edit":null}]}`,
	}
	e := newTestExtractor(t, mock)

	intents, err := e.ExtractIntents(
		context.Background(), "thread1", "u1", CommandAdd, "1딜",
	)
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, IntentAddParticipant, intents[0].Kind)
	assert.Equal(t, RoleDealer, intents[0].Role)
	assert.Equal(t, 0, intents[0].Round)
	assert.Equal(t, "u1", intents[0].User.ID)
	assert.Equal(t, "<@u1>", intents[0].User.DisplayName)

	require.Len(t, mock.requests, 1)
	request := mock.requests[0]
	require.Len(t, request.Messages, 2)
	assert.Equal(t, extractionSystemPrompt, request.Messages[0].Content)
	assert.Contains(t, request.Messages[1].Content, "사용자 ID: u1")
	assert.Contains(t, request.Messages[1].Content, "추가 1딜")

	// Second identical command: served from cache.
	intents, err = e.ExtractIntents(
		context.Background(), "thread1", "u1", CommandAdd, "1딜",
	)
	require.NoError(t, err)
	assert.Len(t, intents, 1)
	assert.Equal(t, 1, mock.calls)
}

// TestExtractIntentsCapRejection verifies that a command whose
// count-prefixed tokens exceed the cap is rejected before any API call.
func TestExtractIntentsCapRejection(t *testing.T) {
	mock := &mockOpenAIClient{}
	e := newTestExtractor(t, mock)

	_, err := e.ExtractIntents(
		context.Background(), "thread1", "u1", CommandAdd, "11딜",
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "11개")
	assert.Zero(t, mock.calls)
}

// TestExtractIntentsUnknownCommandType verifies unknown command types fail
// before any API call.
func TestExtractIntentsUnknownCommandType(t *testing.T) {
	mock := &mockOpenAIClient{}
	e := newTestExtractor(t, mock)

	_, err := e.ExtractIntents(
		context.Background(), "thread1", "u1", CommandType("dance"), "x",
	)
	require.Error(t, err)
	assert.Zero(t, mock.calls)
}

// TestExtractIntentsUnparseableResponse verifies a non-JSON completion is a
// hard error, not an empty batch.
func TestExtractIntentsUnparseableResponse(t *testing.T) {
	mock := &mockOpenAIClient{content: "죄송합니다, JSON이 아닙니다."}
	e := newTestExtractor(t, mock)

	_, err := e.ExtractIntents(
		context.Background(), "thread1", "u1", CommandAdd, "1딜",
	)
	require.Error(t, err)
}

// TestParseResponsePadding verifies short batches are padded to the count
// the role tokens promised, and oversized batches are capped.
func TestParseResponsePadding(t *testing.T) {
	e := newTestExtractor(t, &mockOpenAIClient{})

	intents, err := e.parseResponse(
		"u1", CommandAdd, "3딜",
		`{"commands": [{"user":"u1", "command":"add", "role":"dps", "round":null, "round_edit":null}]}`,
	)
	require.NoError(t, err)
	assert.Len(t, intents, 3)
	for _, intent := range intents {
		assert.Equal(t, RoleDealer, intent.Role)
	}
}

// TestParseResponseCap verifies the intent cap applies to whatever the model
// returns, regardless of the command text.
func TestParseResponseCap(t *testing.T) {
	e := newTestExtractor(t, &mockOpenAIClient{})
	e.config.MaxIntentsPerCommand = 2

	intents, err := e.parseResponse(
		"u1", CommandAdd, "추가",
		`{"commands": [
			{"user":"u1", "command":"add", "role":"dps", "round":null, "round_edit":null},
			{"user":"u1", "command":"add", "role":"dps", "round":null, "round_edit":null},
			{"user":"u1", "command":"add", "role":"dps", "round":null, "round_edit":null}
		]}`,
	)
	require.NoError(t, err)
	assert.Len(t, intents, 2)
}

// TestParseResponseBareObject verifies the fallback for responses that skip
// the documented envelope and return a single command object.
func TestParseResponseBareObject(t *testing.T) {
	e := newTestExtractor(t, &mockOpenAIClient{})

	intents, err := e.parseResponse(
		"u1", CommandAdd, "2차 1폿",
		`{"user":"u1", "command":"add", "role":"sup", "round":2, "round_edit":null}`,
	)
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, IntentAddParticipant, intents[0].Kind)
	assert.Equal(t, RoleSupport, intents[0].Role)
	assert.Equal(t, 2, intents[0].Round)
}

// TestParseResponseEdit verifies edit commands map to schedule updates via
// round_edit, and edit commands without one are dropped.
func TestParseResponseEdit(t *testing.T) {
	e := newTestExtractor(t, &mockOpenAIClient{})

	intents, err := e.parseResponse(
		"u1", CommandEdit, "1차 목 9시",
		`{"commands": [{"user":"u1", "command":"edit", "role":null, "round":null, "round_edit":{"round_index":1, "start_time":"목 9시"}}]}`,
	)
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, IntentUpdateSchedule, intents[0].Kind)
	assert.Equal(t, 1, intents[0].Round)
	assert.Equal(t, "목 9시", intents[0].When)

	intents, err = e.parseResponse(
		"u1", CommandEdit, "1차",
		`{"commands": [{"user":"u1", "command":"edit", "role":null, "round":null, "round_edit":null}]}`,
	)
	require.NoError(t, err)
	assert.Empty(t, intents)
}

// TestParseResponseRemove verifies remove commands keep their round and role
// scoping.
func TestParseResponseRemove(t *testing.T) {
	e := newTestExtractor(t, &mockOpenAIClient{})

	intents, err := e.parseResponse(
		"u1", CommandRemove, "1차",
		`{"commands": [{"user":"u1", "command":"remove", "role":null, "round":1, "round_edit":null}]}`,
	)
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, IntentRemoveParticipant, intents[0].Kind)
	assert.Empty(t, intents[0].Role)
	assert.Equal(t, 1, intents[0].Round)
}
