package cmd

import (
	"log"

	"github.com/LeeHyeonKyu/dwarf-discord-bot/raidbot"
	"github.com/spf13/cobra"
)

var collectCharactersCmd = &cobra.Command{
	Use:   "collect-characters",
	Short: "Fetches every active member's characters from the Lost Ark API and saves them",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		bot, err := raidbot.New(cfg)
		if err != nil {
			log.Fatalf("error creating raidbot: %s", err.Error())
		}

		members, err := bot.Roster().Members(true)
		if err != nil {
			log.Fatalf("error loading members: %s", err.Error())
		}
		if len(members) == 0 {
			log.Fatal("no active members configured")
		}

		collected, err := bot.Lostark().CollectMemberCharacters(ctx, members)
		if err != nil {
			log.Fatalf("error collecting characters: %s", err.Error())
		}

		store := map[string]raidbot.MemberCharacters{}
		for _, member := range members {
			characters, ok := collected[member.DiscordID]
			if !ok {
				continue
			}
			store[member.DiscordID] = raidbot.MemberCharacters{
				ID:          member.ID,
				DiscordName: member.DiscordName,
				Characters:  characters,
			}
		}

		if err = bot.Roster().SaveMemberCharacters(store); err != nil {
			log.Fatalf("error saving characters: %s", err.Error())
		}
		log.Printf("saved character data for %d members", len(store))
	},
}

func init() {
	rootCmd.AddCommand(collectCharactersCmd)
}
