package raidbot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
)

// supportClasses are the Lost Ark classes that fill support slots. Every
// other class is a dealer.
var supportClasses = map[string]bool{
	"바드":    true,
	"홀리나이트": true,
	"도화가":   true,
}

// LostarkCharacter is one character as returned by the siblings endpoint.
// ItemMaxLevel comes back as a formatted string ("1,620.00").
type LostarkCharacter struct {
	ServerName     string `json:"ServerName"`
	CharacterName  string `json:"CharacterName"`
	CharacterLevel int    `json:"CharacterLevel"`
	CharacterClass string `json:"CharacterClassName"`
	ItemAvgLevel   string `json:"ItemAvgLevel"`
	ItemMaxLevel   string `json:"ItemMaxLevel"`
}

// ItemLevel parses ItemMaxLevel into a float. The second return is false
// when the string doesn't parse.
func (c LostarkCharacter) ItemLevel() (float64, bool) {
	s := strings.ReplaceAll(strings.TrimSpace(c.ItemMaxLevel), ",", "")
	if s == "" {
		return 0, false
	}
	level, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return level, true
}

// IsSupport reports whether the character's class fills a support slot.
func (c LostarkCharacter) IsSupport() bool {
	return supportClasses[c.CharacterClass]
}

// LostarkClient calls the Lost Ark open API. Requests are rate limited; the
// developer tier allows very few requests per second.
type LostarkClient struct {
	config         *LostarkConfig
	httpClient     *http.Client
	logger         *slog.Logger
	requestLimiter *rate.Limiter
}

// NewLostarkClient returns a LostarkClient for the given config.
func NewLostarkClient(
	config *LostarkConfig,
	httpClient *http.Client,
) *LostarkClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	rps := config.MaxRequestsPerSecond
	if rps <= 0 {
		rps = DefaultLostarkMaxRequestsPerSecond
	}
	c := &LostarkClient{
		config:         config,
		httpClient:     httpClient,
		requestLimiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
	c.logger = slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "lostark")
	return c
}

func (c *LostarkClient) baseURL() string {
	if c.config.BaseURL != "" {
		return strings.TrimRight(c.config.BaseURL, "/")
	}
	return DefaultLostarkBaseURL
}

// Siblings returns every character on the account that owns the named
// character.
func (c *LostarkClient) Siblings(
	ctx context.Context,
	characterName string,
) ([]LostarkCharacter, error) {
	if err := c.requestLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf(
		"%s/characters/%s/siblings",
		c.baseURL(),
		url.PathEscape(characterName),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("authorization", "bearer "+c.config.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.ErrorContext(
			ctx,
			"siblings request failed",
			"character", characterName,
			tint.Err(err),
		)
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.ErrorContext(
			ctx,
			"siblings request rejected",
			"character", characterName,
			"status", resp.StatusCode,
			"body", truncate(string(body), 500),
		)
		return nil, fmt.Errorf(
			"lostark api: status %d for character %q",
			resp.StatusCode, characterName,
		)
	}

	var characters []LostarkCharacter
	if err = json.Unmarshal(body, &characters); err != nil {
		return nil, fmt.Errorf("decoding siblings response: %w", err)
	}
	return characters, nil
}

// FilterByLevel keeps characters at or above minLevel. Characters whose
// item level doesn't parse are dropped with a warning.
func (c *LostarkClient) FilterByLevel(
	characters []LostarkCharacter,
	minLevel float64,
) []LostarkCharacter {
	var filtered []LostarkCharacter
	for _, character := range characters {
		level, ok := character.ItemLevel()
		if !ok {
			c.logger.Warn(
				"unparseable item level",
				"character", character.CharacterName,
				"item_max_level", character.ItemMaxLevel,
			)
			continue
		}
		if level >= minLevel {
			filtered = append(filtered, character)
		}
	}
	return filtered
}

// CollectMemberCharacters fetches and filters every member's characters,
// keyed by discord ID. A character name appearing under multiple members is
// only fetched once; duplicate characters within a member are dropped.
func (c *LostarkClient) CollectMemberCharacters(
	ctx context.Context,
	members []Member,
) (map[string][]LostarkCharacter, error) {
	minLevel := c.config.MinItemLevel
	if minLevel <= 0 {
		minLevel = DefaultLostarkMinItemLevel
	}

	result := map[string][]LostarkCharacter{}
	fetched := map[string]bool{}

	for _, member := range members {
		if !member.Active || len(member.MainCharacters) == 0 {
			continue
		}

		seen := map[string]bool{}
		var memberCharacters []LostarkCharacter
		for _, characterName := range member.MainCharacters {
			if fetched[characterName] {
				continue
			}
			fetched[characterName] = true

			characters, err := c.Siblings(ctx, characterName)
			if err != nil {
				if ctx.Err() != nil {
					return result, ctx.Err()
				}
				// One bad character shouldn't sink the whole collection run.
				continue
			}
			for _, character := range c.FilterByLevel(characters, minLevel) {
				if seen[character.CharacterName] {
					continue
				}
				seen[character.CharacterName] = true
				memberCharacters = append(memberCharacters, character)
			}
		}

		if len(memberCharacters) > 0 {
			result[member.DiscordID] = memberCharacters
		}
	}
	return result, nil
}
