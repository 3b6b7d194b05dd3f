package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/quipu/pkg/core"
)

var (
	docID     string
	docData   string
	docLimit  int
	docOffset int
)

var docCmd = &cobra.Command{
	Use:   "doc <collection> <create|read|update|delete|query>",
	Short: "Run a document protocol request",
	Long: `Doc sends one request of the document protocol to a collection and prints
the result. --data takes a JSON object: the document for create, the partial
fields for update, the predicate for query.`,
	Example: `  quipu doc users create --data '{"name":"Ada"}'
  quipu doc users update --id ada --data '{"age":36}'
  quipu doc users query --data '{"role":"admin"}' --limit 10`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		req := core.Request{
			Event:  core.EventType(args[1]),
			ID:     docID,
			Limit:  docLimit,
			Offset: docOffset,
		}
		if docData != "" {
			dec := json.NewDecoder(bytes.NewReader([]byte(docData)))
			dec.UseNumber()
			if err := dec.Decode(&req.Data); err != nil {
				fatal("Invalid --data", err)
			}
		}
		if req.Event == core.EventStop {
			fatal("Invalid event", fmt.Errorf("stop only applies to a running server"))
		}

		ctx := context.Background()
		node, err := openNode(ctx)
		if err != nil {
			fatal("Error opening node", err)
		}
		defer node.Close()

		res, err := node.Engine.Handle(ctx, args[0], req)
		if err != nil {
			fatal(fmt.Sprintf("Error (%s)", core.KindOf(err)), err)
		}
		printJSON(res)
	},
}

func init() {
	rootCmd.AddCommand(docCmd)
	docCmd.Flags().StringVar(&docID, "id", "", "Document id")
	docCmd.Flags().StringVar(&docData, "data", "", "JSON object payload")
	docCmd.Flags().IntVar(&docLimit, "limit", 0, "Maximum number of query results")
	docCmd.Flags().IntVar(&docOffset, "offset", 0, "Number of query results to skip")
}
