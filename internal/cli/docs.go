package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var docsJSON bool

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "List or delete documents",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingested documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(GetConfig(), log)
		if err != nil {
			return err
		}
		defer a.Close()

		docs, err := a.service.ListDocuments(cmd.Context())
		if err != nil {
			return err
		}
		if docsJSON {
			output, _ := json.MarshalIndent(docs, "", "  ")
			fmt.Println(string(output))
			return nil
		}
		if len(docs) == 0 {
			fmt.Println("No documents.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tFILENAME\tTYPE\tCHUNKS\tCREATED")
		for _, d := range docs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", d.ID, d.Filename, d.ContentType, d.ChunkCount, d.CreatedAt.Local().Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete documents with their sessions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(GetConfig(), log)
		if err != nil {
			return err
		}
		defer a.Close()

		for _, id := range args {
			if err := a.service.DeleteDocument(cmd.Context(), id); err != nil {
				return fmt.Errorf("failed to delete %s: %w", id, err)
			}
			fmt.Printf("Deleted %s\n", id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(docsCmd)
	docsCmd.AddCommand(docsListCmd, docsDeleteCmd)
	docsListCmd.Flags().BoolVar(&docsJSON, "json", false, "output as JSON")
}
