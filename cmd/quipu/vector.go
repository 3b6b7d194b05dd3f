package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/quipu"
)

var (
	vectorModel string
	vectorTopK  int
)

var vectorCmd = &cobra.Command{
	Use:     "vector",
	Aliases: []string{"vec"},
	Short:   "Store texts and run similarity queries",
}

// withVectors opens the node and runs fn against its vector index.
func withVectors(fn func(ctx context.Context, node *quipu.Node)) {
	ctx := context.Background()
	node, err := openNode(ctx)
	if err != nil {
		fatal("Error opening node", err)
	}
	defer node.Close()

	if node.Vectors == nil {
		fatal("Vector index unavailable", errors.New("vectors are disabled in the configuration"))
	}
	fn(ctx, node)
}

var vectorUpsertCmd = &cobra.Command{
	Use:   "upsert <namespace> <text>...",
	Short: "Embed and store texts",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		withVectors(func(ctx context.Context, node *quipu.Node) {
			res, err := node.Vectors.Upsert(ctx, args[0], args[1:], vectorModel)
			if err != nil {
				fatal("Error upserting", err)
			}
			printJSON(res)
		})
	},
}

var vectorQueryCmd = &cobra.Command{
	Use:   "query <namespace> <text>",
	Short: "Find the stored texts closest to a text",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		withVectors(func(ctx context.Context, node *quipu.Node) {
			res, err := node.Vectors.Query(ctx, args[0], args[1], vectorTopK, vectorModel)
			if err != nil {
				fatal("Error querying", err)
			}
			for i, m := range res.Matches {
				fmt.Printf("%d. %.4f %s %q\n", i+1, m.Score, m.ID, m.Content)
			}
		})
	},
}

var vectorDeleteCmd = &cobra.Command{
	Use:   "delete <namespace> <id>...",
	Short: "Delete stored embeddings",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		withVectors(func(ctx context.Context, node *quipu.Node) {
			res, err := node.Vectors.Delete(ctx, args[0], args[1:])
			if err != nil {
				fatal("Error deleting", err)
			}
			printJSON(res)
		})
	},
}

var vectorGetCmd = &cobra.Command{
	Use:   "get <namespace> <id>",
	Short: "Print one stored embedding",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		withVectors(func(ctx context.Context, node *quipu.Node) {
			e, err := node.Vectors.Get(ctx, args[0], args[1])
			if err != nil {
				fatal("Error reading embedding", err)
			}
			printJSON(e)
		})
	},
}

var vectorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List namespaces",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		withVectors(func(ctx context.Context, node *quipu.Node) {
			for _, ns := range node.Vectors.Namespaces() {
				fmt.Printf("%s\t%d\t%d\n", ns.Name, ns.Count, ns.Dimension)
			}
		})
	},
}

var vectorModelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List embedding models",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		withVectors(func(ctx context.Context, node *quipu.Node) {
			for _, m := range node.Models.Models() {
				marker := " "
				if m.Default {
					marker = "*"
				}
				fmt.Printf("%s %s\t%s\t%d\n", marker, m.Name, m.Provider, m.Dimensions)
			}
		})
	},
}

var embedCmd = &cobra.Command{
	Use:   "embed <text>...",
	Short: "Print the embeddings of texts without storing them",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withVectors(func(ctx context.Context, node *quipu.Node) {
			res, err := node.Vectors.Embed(ctx, args, vectorModel)
			if err != nil {
				fatal("Error embedding", err)
			}
			printJSON(res)
		})
	},
}

func init() {
	rootCmd.AddCommand(vectorCmd)
	vectorCmd.AddCommand(vectorUpsertCmd, vectorQueryCmd, vectorDeleteCmd, vectorGetCmd, vectorListCmd, vectorModelsCmd, embedCmd)

	vectorCmd.PersistentFlags().StringVarP(&vectorModel, "model", "m", "", "Embedding model (default model when empty)")
	vectorQueryCmd.Flags().IntVarP(&vectorTopK, "top-k", "k", 5, "Number of matches")
}
