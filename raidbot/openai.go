package raidbot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// CommandType is the top-level thread command a message was routed from.
type CommandType string

const (
	CommandAdd    CommandType = "add"
	CommandRemove CommandType = "remove"
	CommandEdit   CommandType = "edit"
)

// commandTypeKorean maps a command type to the Korean verb the extraction
// prompt was trained on.
var commandTypeKorean = map[CommandType]string{
	CommandAdd:    "추가",
	CommandRemove: "제거",
	CommandEdit:   "수정",
}

// numRolePatterns match count-prefixed role tokens like "2딜" or "3폿". The
// longer suffixes come first so "2딜러" isn't consumed by the "딜" pattern
// and then re-counted.
var numRolePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\d+)딜러`),
	regexp.MustCompile(`(\d+)딜`),
	regexp.MustCompile(`(\d+)서포터`),
	regexp.MustCompile(`(\d+)폿`),
}

// extractionSystemPrompt instructs the model to expand a raid command into a
// JSON command batch. Count-prefixed role tokens must fan out into that many
// single-slot commands.
const extractionSystemPrompt = `당신은 게임 스케줄을 관리하는 어시스턴트입니다. 사용자의 명령어를 JSON 형식으로 변환하는 것이 당신의 역할입니다.

명령어는 다음과 같은 형식의 JSON으로 변환해야 합니다:
{
  "commands": [
    {
      "user": "사용자 ID",
      "command": "add" 또는 "remove" 또는 "edit" 중 하나,
      "role": "sup" 또는 "dps" 또는 null,
      "round": 정수 또는 null,
      "round_edit": {"round_index": 정수, "start_time": "요일 시간"} 또는 null
    }
  ]
}

중요한 규칙:
1. 숫자+역할 패턴은 해당 개수만큼의 명령어를 생성해야 합니다.
   예: "2딜"은 딜러 역할 명령어 2개를 생성해야 함
   예: "3폿"은 서포터 역할 명령어 3개를 생성해야 함
2. 각 명령어는 하나의 사용자에 대한 하나의 역할을 나타냅니다.
   절대 하나의 명령어에 여러 개수를 넣지 마세요.

다음은 명령어 예시입니다:

user:
사용자 ID: random_id_123
명령어: 추가 1딜 1폿

output: {"commands": [{"user":"random_id_123", "command":"add", "role":"dps", "round":null, "round_edit":null}, {"user":"random_id_123", "command":"add", "role":"sup", "round":null, "round_edit":null}]}

user:
사용자 ID: random_id_789
명령어: 추가 1차 1딜

output: {"commands": [{"user":"random_id_789", "command":"add", "role":"dps", "round":1, "round_edit":null}]}

user:
사용자 ID: random_id_101
명령어: 제거 1딜

output: {"commands": [{"user":"random_id_101", "command":"remove", "role":"dps", "round":null, "round_edit":null}]}

user:
사용자 ID: random_id_202
명령어: 제거 1차

output: {"commands": [{"user":"random_id_202", "command":"remove", "role":null, "round":1, "round_edit":null}]}

user:
사용자 ID: random_id_404
명령어: 수정 1차 목 9시

output: {"commands": [{"user":"random_id_404", "command":"edit", "role":null, "round":null, "round_edit":{"round_index":1, "start_time":"목 9시"}}]}

특별한 주의사항:
- "2딜"이나 "3폿"과 같은 패턴이 있으면, 해당 숫자만큼 동일한 역할의 명령어를 생성해야 합니다.
- 반드시 올바른 개수의 명령어를 생성하세요.

반드시 유효한 JSON 객체 형식으로 응답하세요. 다른 설명이나 추가 텍스트는 포함하지 마세요.`

// OpenAIClient is the subset of the OpenAI API the extractor uses.
// Implementations of this interface allow for mock clients in testing.
type OpenAIClient interface {
	CreateChatCompletion(
		ctx context.Context,
		request openai.ChatCompletionRequest,
	) (openai.ChatCompletionResponse, error)
}

// wireCommand is the model's per-command wire format.
type wireCommand struct {
	User      string         `json:"user"`
	Command   string         `json:"command"`
	Role      *string        `json:"role"`
	Round     *int           `json:"round"`
	RoundEdit *wireRoundEdit `json:"round_edit"`
}

type wireRoundEdit struct {
	RoundIndex int    `json:"round_index"`
	StartTime  string `json:"start_time"`
}

type wireResponse struct {
	Commands []wireCommand `json:"commands"`
}

// IntentExtractor turns free-form raid commands into Intent batches via the
// OpenAI chat completion API, fronted by a content-hash cache and a rate
// limiter. Every call is audited to IntentLog when a database is attached.
type IntentExtractor struct {
	client         OpenAIClient
	config         *OpenAIConfig
	logger         *slog.Logger
	requestLimiter *rate.Limiter
	cache          *ExtractionCache
	db             *gorm.DB

	mu sync.RWMutex // protects requestLimiter
}

// NewIntentExtractor returns an IntentExtractor over the configured OpenAI
// client. A nil cache gets an in-memory one; db may be nil to disable the
// audit log.
func NewIntentExtractor(
	config *OpenAIConfig,
	cache *ExtractionCache,
	db *gorm.DB,
	httpClient *http.Client,
) *IntentExtractor {
	e := &IntentExtractor{
		config: config,
		cache:  cache,
		db:     db,
	}
	e.logger = slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "openai")

	if e.cache == nil {
		e.cache = NewExtractionCache(nil, nil, e.logger)
	}

	rps := config.MaxRequestsPerSecond
	if rps <= 0 {
		rps = DefaultOpenAIMaxRequestsPerSecond
	}
	e.requestLimiter = rate.NewLimiter(rate.Limit(rps), rps)

	clientCfg := openai.DefaultConfig(config.Token)
	if httpClient != nil {
		clientCfg.HTTPClient = httpClient
	}
	e.client = openai.NewClientWithConfig(clientCfg)

	return e
}

// countPatternIntents returns the number of intents count-prefixed role
// tokens in text will expand into.
func countPatternIntents(text string) int {
	total := 0
	remaining := text
	for _, re := range numRolePatterns {
		for _, m := range re.FindAllStringSubmatch(remaining, -1) {
			if n, err := strconv.Atoi(m[1]); err == nil {
				total += n
			}
		}
		remaining = re.ReplaceAllString(remaining, "")
	}
	return total
}

// maxIntents returns the per-command intent cap.
func (e *IntentExtractor) maxIntents() int {
	if e.config.MaxIntentsPerCommand > 0 {
		return e.config.MaxIntentsPerCommand
	}
	return DefaultMaxIntentsPerCommand
}

// ExtractIntents expands one thread command into a structured intent batch.
//
// Commands whose count-prefixed role tokens would expand past the configured
// cap are rejected before any API call. Identical (type, text, user) inputs
// hit the cache. A response that isn't valid JSON returns an empty batch and
// an error.
func (e *IntentExtractor) ExtractIntents(
	ctx context.Context,
	threadID string,
	userID string,
	commandType CommandType,
	commandText string,
) ([]Intent, error) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = e.logger
	}

	verb, ok := commandTypeKorean[commandType]
	if !ok {
		return nil, fmt.Errorf("unknown command type: %q", commandType)
	}

	commandText = strings.TrimSpace(
		strings.ReplaceAll(commandText, "\n", " "),
	)

	if patternCount := countPatternIntents(commandText); patternCount > e.maxIntents() {
		return nil, fmt.Errorf(
			"한 번에 최대 %d개까지의 명령어만 처리할 수 있습니다. (감지된 명령어 수: %d개)",
			e.maxIntents(), patternCount,
		)
	}

	userPrompt := fmt.Sprintf(
		"사용자 ID: %s\n명령어: %s %s",
		userID, verb, commandText,
	)

	cacheKey := e.cache.CacheKey(userPrompt, string(commandType))
	if intents, hit := e.cache.Get(ctx, cacheKey); hit {
		logger.DebugContext(
			ctx,
			"extraction cache hit",
			"user_id", userID,
			"intents", len(intents),
		)
		e.audit(ctx, threadID, userID, commandText, "", len(intents), nil, true, nil)
		return intents, nil
	}

	e.mu.RLock()
	limiter := e.requestLimiter
	e.mu.RUnlock()
	if err := limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := e.client.CreateChatCompletion(
		ctx, openai.ChatCompletionRequest{
			Model:       e.config.Model,
			Temperature: e.config.Temperature,
			MaxTokens:   e.config.MaxTokens,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: extractionSystemPrompt,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: userPrompt,
				},
			},
		},
	)
	if err != nil {
		logger.ErrorContext(ctx, "chat completion failed", tint.Err(err))
		e.audit(ctx, threadID, userID, commandText, "", 0, nil, false, err)
		return nil, err
	}

	var content string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	intents, parseErr := e.parseResponse(userID, commandType, commandText, content)
	e.audit(ctx, threadID, userID, commandText, content, len(intents), &resp.Usage, false, parseErr)
	if parseErr != nil {
		logger.ErrorContext(
			ctx,
			"unparseable extraction response",
			"content", content,
			tint.Err(parseErr),
		)
		return nil, parseErr
	}

	e.cache.Put(ctx, cacheKey, intents)
	return intents, nil
}

// parseResponse decodes the model's JSON into intents, padding short batches
// when count-prefixed tokens promised more commands than came back.
func (e *IntentExtractor) parseResponse(
	userID string,
	commandType CommandType,
	commandText string,
	content string,
) ([]Intent, error) {
	var wire wireResponse
	if err := json.Unmarshal([]byte(content), &wire); err != nil {
		// Sometimes the model returns a bare command object rather than
		// the documented envelope.
		var single wireCommand
		if err2 := json.Unmarshal([]byte(content), &single); err2 != nil || single.Command == "" {
			return nil, fmt.Errorf("decoding extraction response: %w", err)
		}
		wire.Commands = []wireCommand{single}
	}

	commands := wire.Commands
	if patternCount := countPatternIntents(commandText); patternCount > 0 &&
		len(commands) > 0 && len(commands) < patternCount {
		first := commands[0]
		for len(commands) < patternCount {
			commands = append(commands, first)
		}
	}
	if len(commands) > e.maxIntents() {
		commands = commands[:e.maxIntents()]
	}

	intents := make([]Intent, 0, len(commands))
	for _, cmd := range commands {
		intent, ok := cmd.toIntent(userID, commandType)
		if !ok {
			continue
		}
		intents = append(intents, intent)
	}
	return intents, nil
}

// toIntent maps one wire command to an Intent. The requested command type
// wins over whatever type the model echoed back.
func (w wireCommand) toIntent(userID string, commandType CommandType) (Intent, bool) {
	user := UserRef{DisplayName: fmt.Sprintf("<@%s>", userID), ID: userID}

	var role Role
	if w.Role != nil {
		if normalized, ok := NormalizeRole(*w.Role); ok {
			role = normalized
		}
	}

	round := 0
	if w.Round != nil {
		round = *w.Round
	}

	if commandType == CommandEdit || w.RoundEdit != nil {
		if w.RoundEdit == nil {
			return Intent{}, false
		}
		return Intent{
			Kind:  IntentUpdateSchedule,
			User:  user,
			Round: w.RoundEdit.RoundIndex,
			When:  w.RoundEdit.StartTime,
		}, true
	}

	switch commandType {
	case CommandAdd:
		return Intent{
			Kind:  IntentAddParticipant,
			User:  user,
			Role:  role,
			Round: round,
		}, true
	case CommandRemove:
		return Intent{
			Kind:  IntentRemoveParticipant,
			User:  user,
			Role:  role,
			Round: round,
		}, true
	}
	return Intent{}, false
}

// audit writes one IntentLog row. Failures are logged and swallowed - the
// audit trail never blocks command handling.
func (e *IntentExtractor) audit(
	ctx context.Context,
	threadID string,
	userID string,
	command string,
	response string,
	intentCount int,
	usage *openai.Usage,
	cacheHit bool,
	callErr error,
) {
	if e.db == nil {
		return
	}
	row := IntentLog{
		ThreadID:    threadID,
		UserID:      userID,
		Command:     command,
		Response:    response,
		IntentCount: intentCount,
		CacheHit:    cacheHit,
	}
	if usage != nil {
		row.PromptTokens = usage.PromptTokens
		row.CompletionTokens = usage.CompletionTokens
	}
	if callErr != nil {
		row.Error = callErr.Error()
	}
	if err := e.db.WithContext(ctx).Create(&row).Error; err != nil {
		e.logger.WarnContext(ctx, "intent audit write failed", tint.Err(err))
	}
}
