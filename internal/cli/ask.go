package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"docqa/internal/usecase"
)

var (
	askDoc     string
	askSession string
	askQuery   string
	askTopK    int
	askJSON    bool
)

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Ask a question about a document",
	Long: `Answer a question from the passages of one document. Pass the session id
printed by a previous answer to ask a follow-up.

Examples:
  docqa ask -d 3f2a... -q "What does the warranty cover?"
  docqa ask -d 3f2a... -s 9c1e... -q "For how long?" --json`,
	Args: cobra.NoArgs,
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVarP(&askDoc, "doc", "d", "", "document id (required)")
	askCmd.Flags().StringVarP(&askSession, "session", "s", "", "session id to continue")
	askCmd.Flags().StringVarP(&askQuery, "query", "q", "", "question (required)")
	askCmd.Flags().IntVarP(&askTopK, "top-k", "k", 0, "number of passages (default from config)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output as JSON")
	askCmd.MarkFlagRequired("doc")
	askCmd.MarkFlagRequired("query")
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := buildApp(GetConfig(), log)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := recoverIndex(cmd.Context(), a); err != nil {
		return err
	}

	res, err := a.service.Query(cmd.Context(), usecase.QueryRequest{
		DocumentID: askDoc,
		SessionID:  askSession,
		Question:   askQuery,
		TopK:       askTopK,
	})
	if err != nil {
		return err
	}

	if askJSON {
		output, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Println(res.Answer)
	fmt.Printf("\nSession: %s\n", res.SessionID)
	if len(res.Sources) > 0 {
		fmt.Println("Sources:")
		for i, s := range res.Sources {
			text := []rune(s.Chunk.Text)
			if len(text) > 150 {
				text = append(text[:150], []rune("...")...)
			}
			fmt.Printf("  [%d] chunk %d (score: %.2f) %s\n", i+1, s.Chunk.Ordinal, s.Score, string(text))
		}
	}
	return nil
}
