package cmd

import (
	"log"

	"github.com/LeeHyeonKyu/dwarf-discord-bot/raidbot"
	"github.com/spf13/cobra"
)

var createThreadsAllMembers bool

var createThreadsCmd = &cobra.Command{
	Use:   "create-threads",
	Short: "Posts one starter message per raid and creates its thread",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		bot, err := raidbot.New(cfg)
		if err != nil {
			log.Fatalf("error creating raidbot: %s", err.Error())
		}

		disc, err := bot.Discord()
		if err != nil {
			log.Fatalf("error creating discord transport: %s", err.Error())
		}
		if err = disc.InitSession(); err != nil {
			log.Fatalf("error creating discord session: %s", err.Error())
		}

		if err = disc.CreateRaidThreads(
			ctx, bot.Roster(), !createThreadsAllMembers,
		); err != nil {
			log.Fatalf("error creating raid threads: %s", err.Error())
		}
		log.Println("raid threads created")
	},
}

func init() {
	createThreadsCmd.Flags().BoolVar(
		&createThreadsAllMembers,
		"all-members",
		false,
		"Include inactive members in the eligible-member listings",
	)
	rootCmd.AddCommand(createThreadsCmd)
}
