package raidbot

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLostarkClient(t *testing.T, handler http.HandlerFunc) *LostarkClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logLevel := &slog.LevelVar{}
	logLevel.Set(slog.LevelError)
	return NewLostarkClient(
		&LostarkConfig{
			Token:                "test-token",
			BaseURL:              server.URL,
			MinItemLevel:         1600,
			MaxRequestsPerSecond: 100,
			LogLevel:             logLevel,
		},
		server.Client(),
	)
}

// TestLostarkCharacterItemLevel verifies the comma-formatted item level
// strings from the API parse into floats, and garbage reports as
// unparseable.
func TestLostarkCharacterItemLevel(t *testing.T) {
	level, ok := LostarkCharacter{ItemMaxLevel: "1,620.00"}.ItemLevel()
	require.True(t, ok)
	assert.Equal(t, 1620.0, level)

	level, ok = LostarkCharacter{ItemMaxLevel: " 1640.5 "}.ItemLevel()
	require.True(t, ok)
	assert.Equal(t, 1640.5, level)

	_, ok = LostarkCharacter{ItemMaxLevel: ""}.ItemLevel()
	assert.False(t, ok)

	_, ok = LostarkCharacter{ItemMaxLevel: "N/A"}.ItemLevel()
	assert.False(t, ok)
}

// TestLostarkCharacterIsSupport verifies support classification by class
// name.
func TestLostarkCharacterIsSupport(t *testing.T) {
	assert.True(t, LostarkCharacter{CharacterClass: "바드"}.IsSupport())
	assert.True(t, LostarkCharacter{CharacterClass: "홀리나이트"}.IsSupport())
	assert.True(t, LostarkCharacter{CharacterClass: "도화가"}.IsSupport())
	assert.False(t, LostarkCharacter{CharacterClass: "버서커"}.IsSupport())
	assert.False(t, LostarkCharacter{CharacterClass: ""}.IsSupport())
}

// TestSiblings verifies the request shape (path, accept and bearer auth
// headers) and response decoding.
func TestSiblings(t *testing.T) {
	var gotPath, gotAuth, gotAccept string
	client := newTestLostarkClient(
		t, func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotAuth = r.Header.Get("authorization")
			gotAccept = r.Header.Get("accept")
			_ = json.NewEncoder(w).Encode(
				[]LostarkCharacter{
					{
						CharacterName:  "테스트딜러",
						CharacterClass: "버서커",
						ItemMaxLevel:   "1,620.00",
					},
				},
			)
		},
	)

	characters, err := client.Siblings(context.Background(), "테스트딜러")
	require.NoError(t, err)
	require.Len(t, characters, 1)
	assert.Equal(t, "테스트딜러", characters[0].CharacterName)

	assert.Equal(t, "/characters/테스트딜러/siblings", gotPath)
	assert.Equal(t, "bearer test-token", gotAuth)
	assert.Equal(t, "application/json", gotAccept)
}

// TestSiblingsErrorStatus verifies non-200 responses surface as errors.
func TestSiblingsErrorStatus(t *testing.T) {
	client := newTestLostarkClient(
		t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"Message":"invalid token"}`, http.StatusUnauthorized)
		},
	)

	_, err := client.Siblings(context.Background(), "whoever")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

// TestFilterByLevel verifies the level cutoff is inclusive and characters
// with unparseable levels are dropped.
func TestFilterByLevel(t *testing.T) {
	client := newTestLostarkClient(t, func(http.ResponseWriter, *http.Request) {})

	characters := []LostarkCharacter{
		{CharacterName: "high", ItemMaxLevel: "1,640.00"},
		{CharacterName: "exact", ItemMaxLevel: "1,600.00"},
		{CharacterName: "low", ItemMaxLevel: "1,580.00"},
		{CharacterName: "broken", ItemMaxLevel: "???"},
	}

	filtered := client.FilterByLevel(characters, 1600)
	require.Len(t, filtered, 2)
	assert.Equal(t, "high", filtered[0].CharacterName)
	assert.Equal(t, "exact", filtered[1].CharacterName)
}

// TestCollectMemberCharacters verifies the collection run: inactive members
// are skipped, a character name shared between members is fetched once, and
// duplicates within one member are dropped.
func TestCollectMemberCharacters(t *testing.T) {
	requestCounts := map[string]int{}
	client := newTestLostarkClient(
		t, func(w http.ResponseWriter, r *http.Request) {
			requestCounts[r.URL.Path]++
			_ = json.NewEncoder(w).Encode(
				[]LostarkCharacter{
					{
						CharacterName:  "mainchar",
						CharacterClass: "바드",
						ItemMaxLevel:   "1,640.00",
					},
					{
						CharacterName:  "altchar",
						CharacterClass: "버서커",
						ItemMaxLevel:   "1,500.00",
					},
				},
			)
		},
	)

	members := []Member{
		{
			ID:             "alice",
			DiscordID:      "100000000000000001",
			Active:         true,
			MainCharacters: []string{"mainchar", "mainchar"},
		},
		{
			ID:             "bob",
			DiscordID:      "100000000000000002",
			Active:         false,
			MainCharacters: []string{"bobchar"},
		},
		{
			ID:        "carol",
			DiscordID: "100000000000000003",
			Active:    true,
		},
	}

	result, err := client.CollectMemberCharacters(context.Background(), members)
	require.NoError(t, err)

	require.Contains(t, result, "100000000000000001")
	characters := result["100000000000000001"]
	require.Len(t, characters, 1, "below-level and duplicate characters dropped")
	assert.Equal(t, "mainchar", characters[0].CharacterName)

	assert.NotContains(t, result, "100000000000000002", "inactive member skipped")
	assert.NotContains(t, result, "100000000000000003", "member without mains skipped")

	assert.Equal(t, 1, requestCounts["/characters/mainchar/siblings"])
	assert.Zero(t, requestCounts["/characters/bobchar/siblings"])
}

// TestCollectMemberCharactersSurvivesFailure verifies one failing lookup
// doesn't sink the rest of the run.
func TestCollectMemberCharactersSurvivesFailure(t *testing.T) {
	client := newTestLostarkClient(
		t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/characters/badchar/siblings" {
				http.Error(w, "nope", http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(
				[]LostarkCharacter{
					{
						CharacterName:  "goodchar",
						CharacterClass: "버서커",
						ItemMaxLevel:   "1,700.00",
					},
				},
			)
		},
	)

	members := []Member{
		{
			ID:             "alice",
			DiscordID:      "100000000000000001",
			Active:         true,
			MainCharacters: []string{"badchar", "goodchar"},
		},
	}

	result, err := client.CollectMemberCharacters(context.Background(), members)
	require.NoError(t, err)
	require.Len(t, result["100000000000000001"], 1)
	assert.Equal(t, "goodchar", result["100000000000000001"][0].CharacterName)
}
