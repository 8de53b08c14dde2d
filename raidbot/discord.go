package raidbot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	commandPrefix = "!"

	// Thread schedule commands, routed through intent extraction and the
	// reconciliation engine.
	threadCommandAdd    = "추가"
	threadCommandRemove = "제거"
	threadCommandEdit   = "수정"

	// Queue commands, routed through the per-thread raid queue.
	queueCommandJoin   = "대기"
	queueCommandLeave  = "대기취소"
	queueCommandAssign = "모집"
)

var roundTokenRe = regexp.MustCompile(`^(\d+)차$`)

// DiscordSessionHandler is an interface for Discord session methods the bot
// uses. Implementations of this interface allow mock sessions in testing.
type DiscordSessionHandler interface {
	Open() error
	Close() error

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()

	Channel(
		channelID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	ChannelMessage(
		channelID string,
		messageID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	ChannelMessageSend(
		channelID string,
		content string,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	ChannelMessageEdit(
		channelID string,
		messageID string,
		content string,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// MessageThreadStartComplex creates a thread from an existing message
	MessageThreadStartComplex(
		channelID string,
		messageID string,
		data *discordgo.ThreadStart,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	// SetHTTPClient sets the HTTP client for the session
	SetHTTPClient(client *http.Client)

	// SetLogLevel modifies the session's log level
	SetLogLevel(lvl slog.Level) error
}

// DiscordSession implements DiscordSessionHandler, wrapping a
// [discordgo.Session](https://pkg.go.dev/github.com/bwmarrin/discordgo#Session)
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) Channel(
	channelID string,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return d.session.Channel(channelID, options...)
}

func (d DiscordSession) ChannelMessage(
	channelID string,
	messageID string,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessage(channelID, messageID, options...)
}

func (d DiscordSession) ChannelMessageSend(
	channelID string,
	content string,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSend(channelID, content, options...)
	if err != nil {
		d.logger.Error(
			"error sending message",
			tint.Err(err),
			"channel_id", channelID,
		)
	}
	return msg, err
}

func (d DiscordSession) ChannelMessageEdit(
	channelID string,
	messageID string,
	content string,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageEdit(channelID, messageID, content, options...)
}

func (d DiscordSession) MessageThreadStartComplex(
	channelID string,
	messageID string,
	data *discordgo.ThreadStart,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return d.session.MessageThreadStartComplex(channelID, messageID, data, options...)
}

func (d DiscordSession) SetHTTPClient(client *http.Client) {
	d.session.Client = client
}

func (d DiscordSession) SetLogLevel(lvl slog.Level) error {
	switch lvl.Level() {
	case slog.LevelInfo:
		d.session.LogLevel = discordgo.LogInformational
	case slog.LevelWarn:
		d.session.LogLevel = discordgo.LogWarning
	case slog.LevelDebug:
		d.session.LogLevel = discordgo.LogDebug
	case slog.LevelError:
		d.session.LogLevel = discordgo.LogError
	default:
		return fmt.Errorf("invalid log level: %s", lvl)
	}
	return nil
}

// Discord manages the gateway connection and routes thread messages into
// the schedule engines.
type Discord struct {
	session           DiscordSessionHandler
	config            *DiscordConfig
	logger            *slog.Logger
	extractor         *IntentExtractor
	reconciler        *Reconciler
	queues            *RaidQueueManager
	botUserID         string
	metricConnects    atomic.Int64
	metricDisconnects atomic.Int64
	connected         atomic.Bool

	discordgoRemoveHandlerFuncs []func()
}

// newDiscord initializes a new Discord instance with the provided configuration
func newDiscord(
	config *DiscordConfig,
	extractor *IntentExtractor,
	queues *RaidQueueManager,
) (*Discord, error) {
	if config.Token == "" {
		return nil, fmt.Errorf("discord token not set")
	}
	d := &Discord{
		config:                      config,
		extractor:                   extractor,
		queues:                      queues,
		discordgoRemoveHandlerFuncs: []func(){},
	}
	d.logger = slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "discord")
	d.reconciler = NewReconciler(d.logger)
	return d, nil
}

// newSession initializes a new Discord session for the Discord struct.
func (d *Discord) newSession() (DiscordSessionHandler, error) {
	session := DiscordSession{
		logger: d.logger.With(loggerNameKey, "discord_session_handler"),
	}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.SyncEvents = true
	disc.StateEnabled = false
	disc.Identify.Intents = d.config.GatewayIntents
	session.session = disc
	if d.config.httpClient != nil {
		disc.Client = d.config.httpClient
	}

	if err = session.SetLogLevel(d.config.DiscordGoLogLevel.Level()); err != nil {
		return session, err
	}
	disc.Debug = false

	return session, nil
}

// Connected reports whether the gateway connection is up.
func (d *Discord) Connected() bool {
	return d.connected.Load()
}

// InitSession prepares the session without opening the gateway. REST-only
// callers (one-shot thread creation) use this instead of Start.
func (d *Discord) InitSession() error {
	if d.session != nil {
		return nil
	}
	session, err := d.newSession()
	if err != nil {
		return err
	}
	d.session = session
	return nil
}

// Start opens the gateway connection and registers handlers.
func (d *Discord) Start(ctx context.Context) error {
	if err := d.InitSession(); err != nil {
		return err
	}
	d.discordgoRemoveHandlerFuncs = append(
		d.discordgoRemoveHandlerFuncs,
		d.session.AddHandler(d.handlerReady()),
		d.session.AddHandler(d.handlerConnect()),
		d.session.AddHandler(d.handlerDisconnect()),
		d.session.AddHandler(d.handlerMessageCreate(ctx)),
	)
	return d.session.Open()
}

// Stop removes handlers and closes the gateway connection.
func (d *Discord) Stop() error {
	for _, removeFunc := range d.discordgoRemoveHandlerFuncs {
		removeFunc()
	}
	d.discordgoRemoveHandlerFuncs = []func(){}
	return d.session.Close()
}

func (d *Discord) handlerReady() func(
	s *discordgo.Session,
	r *discordgo.Ready,
) {
	return func(s *discordgo.Session, r *discordgo.Ready) {
		if r.User != nil {
			d.botUserID = r.User.ID
		}
		d.logger.Info(
			"ready",
			"session_id", r.SessionID,
			"user_id", d.botUserID,
		)
	}
}

func (d *Discord) handlerConnect() func(
	s *discordgo.Session,
	r *discordgo.Connect,
) {
	return func(s *discordgo.Session, r *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)
		d.logger.Info("connected")
		if d.config.StartupMessage != "" && d.config.ScheduleChannelID != "" {
			if _, err := d.session.ChannelMessageSend(
				d.config.ScheduleChannelID,
				d.config.StartupMessage,
				discordgo.WithRetryOnRatelimit(false),
				discordgo.WithRestRetries(1),
			); err != nil {
				d.logger.Error("unable to send startup message", tint.Err(err))
			}
		}
	}
}

func (d *Discord) handlerDisconnect() func(
	s *discordgo.Session,
	r *discordgo.Disconnect,
) {
	return func(s *discordgo.Session, r *discordgo.Disconnect) {
		d.connected.Store(false)
		d.metricDisconnects.Add(1)
		d.logger.Info("disconnected")
	}
}

// handlerMessageCreate routes prefixed thread messages to their command
// handlers. Bot messages and non-commands are ignored.
func (d *Discord) handlerMessageCreate(ctx context.Context) func(
	s *discordgo.Session,
	m *discordgo.MessageCreate,
) {
	return func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot || m.Author.ID == d.botUserID {
			return
		}
		content := strings.TrimSpace(m.Content)
		if !strings.HasPrefix(content, commandPrefix) {
			return
		}
		name, rest, _ := strings.Cut(
			strings.TrimPrefix(content, commandPrefix), " ",
		)
		rest = strings.TrimSpace(rest)

		ctx = WithLogger(
			ctx, d.logger.With(
				"channel_id", m.ChannelID,
				"user_id", m.Author.ID,
			),
		)

		switch name {
		case threadCommandAdd:
			d.handleScheduleCommand(ctx, m, CommandAdd, rest)
		case threadCommandRemove:
			d.handleScheduleCommand(ctx, m, CommandRemove, rest)
		case threadCommandEdit:
			d.handleScheduleCommand(ctx, m, CommandEdit, rest)
		case queueCommandJoin:
			d.handleQueueJoin(m, rest)
		case queueCommandLeave:
			d.handleQueueLeave(m, rest)
		case queueCommandAssign:
			d.handleQueueAssign(m)
		}
	}
}

// threadStarter resolves the thread a command came from and its starter
// message. A thread created from a message shares that message's ID.
func (d *Discord) threadStarter(
	channelID string,
) (*discordgo.Channel, *discordgo.Message, error) {
	channel, err := d.session.Channel(channelID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving channel: %w", err)
	}
	if !channel.IsThread() {
		return channel, nil, nil
	}
	starter, err := d.session.ChannelMessage(channel.ParentID, channel.ID)
	if err != nil {
		return channel, nil, fmt.Errorf("fetching starter message: %w", err)
	}
	return channel, starter, nil
}

// handleScheduleCommand runs the reconciliation path for one thread command:
// extract intents, re-parse the starter message, apply, re-render, update.
func (d *Discord) handleScheduleCommand(
	ctx context.Context,
	m *discordgo.MessageCreate,
	commandType CommandType,
	commandText string,
) {
	verb := commandTypeKorean[commandType]

	channel, starter, err := d.threadStarter(m.ChannelID)
	if err != nil {
		d.logger.Error("starter lookup failed", tint.Err(err))
		d.reply(m.ChannelID, "스레드 원본 메시지를 찾을 수 없습니다.")
		return
	}
	if starter == nil {
		d.reply(m.ChannelID, "이 명령어는 스레드에서만 사용할 수 있습니다.")
		return
	}

	processing, err := d.session.ChannelMessageSend(
		m.ChannelID,
		fmt.Sprintf("일정 %s 요청을 처리 중입니다...", verb),
	)
	if err != nil {
		return
	}
	finish := func(text string) {
		if _, editErr := d.session.ChannelMessageEdit(
			m.ChannelID, processing.ID, text,
		); editErr != nil {
			d.logger.Error("processing message edit failed", tint.Err(editErr))
		}
	}

	intents, err := d.extractor.ExtractIntents(
		ctx, channel.ID, m.Author.ID, commandType, commandText,
	)
	if err != nil {
		d.logger.Error("intent extraction failed", tint.Err(err))
		finish(fmt.Sprintf("오류가 발생했습니다: %s", err.Error()))
		return
	}
	if len(intents) == 0 {
		finish("처리할 수 있는 명령어를 찾지 못했습니다.")
		return
	}

	data := ParseSchedule(starter.Content)
	changed, changes, err := d.reconciler.Apply(data, intents)
	if err != nil {
		d.logger.Error("reconciliation failed", tint.Err(err))
		finish(d.config.ErrorMessage)
		return
	}
	if !changed {
		finish("변경된 내용이 없습니다.")
		return
	}

	if err = d.updateMessageSafely(
		channel.ParentID, channel.ID, starter.Content, RenderSchedule(data),
	); err != nil {
		d.logger.Error("starter update failed", tint.Err(err))
		finish("메시지 업데이트 중 오류가 발생했습니다.")
		return
	}

	summary := fmt.Sprintf("일정이 %s되었습니다!", verb)
	if len(changes) > 0 {
		summary += "\n" + strings.Join(changes, "\n")
	}
	finish(truncate(summary, maxScheduleLength))
}

// updateMessageSafely edits a message, skipping no-op edits and truncating
// content past the discord limit. When the edit is rejected, the content is
// posted as a new message in the thread instead so the result isn't lost.
func (d *Discord) updateMessageSafely(
	channelID string,
	messageID string,
	oldContent string,
	newContent string,
) error {
	if oldContent == newContent {
		return nil
	}
	if len([]rune(newContent)) > maxScheduleLength {
		d.logger.Warn(
			"truncating oversized message",
			"message_id", messageID,
			"length", len([]rune(newContent)),
		)
		newContent = truncate(
			newContent,
			maxScheduleLength-len([]rune(scheduleTruncationMarker)),
		) + scheduleTruncationMarker
	}
	if _, err := d.session.ChannelMessageEdit(
		channelID, messageID, newContent,
	); err != nil {
		if _, sendErr := d.session.ChannelMessageSend(
			messageID, newContent,
		); sendErr != nil {
			return err
		}
	}
	return nil
}

func (d *Discord) reply(channelID string, text string) {
	_, _ = d.session.ChannelMessageSend(channelID, text)
}

// parseQueueTokens splits queue command arguments into an optional round
// ("2차") and the remaining tokens.
func parseQueueTokens(args string) (round int, rest []string) {
	for _, token := range strings.Fields(args) {
		if m := roundTokenRe.FindStringSubmatch(token); m != nil && round == 0 {
			if n, err := strconv.Atoi(m[1]); err == nil {
				round = n
				continue
			}
		}
		rest = append(rest, token)
	}
	return round, rest
}

// handleQueueJoin enqueues the author, optionally into an explicit round.
// Usage: !대기 [N차] 역할
func (d *Discord) handleQueueJoin(m *discordgo.MessageCreate, args string) {
	round, rest := parseQueueTokens(args)
	if len(rest) == 0 {
		d.reply(m.ChannelID, "역할을 지정해주세요. 예: !대기 2차 딜러")
		return
	}
	userName := m.Author.Username
	if m.Member != nil && m.Member.Nick != "" {
		userName = m.Member.Nick
	}
	entry, ok := d.queues.ProcessAdd(
		m.ChannelID, m.Author.ID, userName, rest[0], round,
	)
	if !ok {
		d.reply(m.ChannelID, fmt.Sprintf("알 수 없는 역할입니다: %s", rest[0]))
		return
	}
	roleName := "딜러"
	if entry.Role == RoleSupport {
		roleName = "서포터"
	}
	if entry.Round > 0 {
		d.reply(
			m.ChannelID,
			fmt.Sprintf(
				"%s님이 %d차 %s 대기열에 등록되었습니다.",
				userName, entry.Round, roleName,
			),
		)
		return
	}
	d.reply(
		m.ChannelID,
		fmt.Sprintf("%s님이 %s 대기열에 등록되었습니다.", userName, roleName),
	)
}

// handleQueueLeave removes one of the author's queue entries.
// Usage: !대기취소 [역할] [N차]
func (d *Discord) handleQueueLeave(m *discordgo.MessageCreate, args string) {
	round, rest := parseQueueTokens(args)
	roleToken := ""
	if len(rest) > 0 {
		roleToken = rest[0]
	}
	entry := d.queues.ProcessRemove(m.ChannelID, m.Author.ID, roleToken, round)
	if entry == nil {
		d.reply(m.ChannelID, "대기열에서 일치하는 항목을 찾지 못했습니다.")
		return
	}
	d.reply(
		m.ChannelID,
		fmt.Sprintf("%s님의 대기열 등록이 취소되었습니다.", entry.UserName),
	)
}

// handleQueueAssign renders the thread queue into a schedule and posts it.
func (d *Discord) handleQueueAssign(m *discordgo.MessageCreate) {
	q := d.queues.Queue(m.ChannelID)
	if q.Len() == 0 {
		d.reply(m.ChannelID, "대기열이 비어 있습니다.")
		return
	}
	rendered, _ := q.GenerateSchedule(DefaultSupportMax, DefaultDealerMax)
	for _, chunk := range chunkLines(rendered, maxScheduleLength) {
		d.reply(m.ChannelID, chunk)
	}
}

// CreateRaidThreads posts one starter message per raid to the schedule
// channel, creates a thread from each, and fills the thread with the
// eligible-member listing.
func (d *Discord) CreateRaidThreads(
	ctx context.Context,
	roster *Roster,
	activeOnly bool,
) error {
	if d.config.ScheduleChannelID == "" {
		return fmt.Errorf("schedule channel not configured")
	}
	raids, err := roster.Raids()
	if err != nil {
		return err
	}
	if len(raids) == 0 {
		return fmt.Errorf("no raids configured")
	}
	store, err := roster.MemberCharacters(activeOnly)
	if err != nil {
		return err
	}

	for _, raid := range raids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		starter, sendErr := d.session.ChannelMessageSend(
			d.config.ScheduleChannelID, raid.StarterMessage(),
		)
		if sendErr != nil {
			d.logger.Error(
				"starter message failed",
				"raid", raid.Name,
				tint.Err(sendErr),
			)
			continue
		}
		thread, threadErr := d.session.MessageThreadStartComplex(
			d.config.ScheduleChannelID,
			starter.ID,
			&discordgo.ThreadStart{
				Name:                raid.ThreadName(),
				AutoArchiveDuration: DefaultThreadAutoArchiveDuration,
			},
		)
		if threadErr != nil {
			d.logger.Error(
				"thread creation failed",
				"raid", raid.Name,
				tint.Err(threadErr),
			)
			continue
		}

		eligible := EligibleMembers(store, raid)
		if len(eligible) == 0 {
			d.reply(
				thread.ID,
				fmt.Sprintf(
					"현재 %s 레이드에 참가 가능한 멤버가 없습니다.", raid.Name,
				),
			)
			continue
		}
		d.reply(thread.ID, fmt.Sprintf("# %s 참가 가능 멤버\n", raid.Name))
		for _, member := range eligible {
			for _, chunk := range chunkLines(
				RenderEligibleMember(member), maxScheduleLength,
			) {
				d.reply(thread.ID, chunk)
			}
		}
		d.reply(thread.ID, RenderEligibleStats(eligible))
		d.logger.Info(
			"raid thread created",
			"raid", raid.Name,
			"thread_id", thread.ID,
			"eligible_members", len(eligible),
		)
	}
	return nil
}
