package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var sessionsJSON bool

var sessionsCmd = &cobra.Command{
	Use:   "sessions <document-id>",
	Short: "List the conversations about a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(GetConfig(), log)
		if err != nil {
			return err
		}
		defer a.Close()

		sessions, err := a.service.ListSessions(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if sessionsJSON {
			output, _ := json.MarshalIndent(sessions, "", "  ")
			fmt.Println(string(output))
			return nil
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions.")
			return nil
		}
		for _, s := range sessions {
			fmt.Printf("%s  started %s  last active %s\n", s.ID,
				s.CreatedAt.Local().Format("2006-01-02 15:04"), s.LastActive.Local().Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <session-id>",
	Short: "Show every turn of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(GetConfig(), log)
		if err != nil {
			return err
		}
		defer a.Close()

		turns, err := a.service.History(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if sessionsJSON {
			output, _ := json.MarshalIndent(turns, "", "  ")
			fmt.Println(string(output))
			return nil
		}
		for _, t := range turns {
			fmt.Printf("[%d] Q: %s\n    A: %s\n", t.Index+1, t.Question, t.Answer)
		}
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear <session-id>",
	Short: "Forget the turns of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(GetConfig(), log)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.service.ClearSession(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Cleared %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd, historyCmd, clearCmd)
	sessionsCmd.Flags().BoolVar(&sessionsJSON, "json", false, "output as JSON")
	historyCmd.Flags().BoolVar(&sessionsJSON, "json", false, "output as JSON")
}
