package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/quipu/pkg/adapters/fs"
)

var (
	collectionID    string
	collectionFile  string
	listLimit       int
	listOffset      int
	listJSON        bool
	exportDir       string
	exportSystemDir string
)

var collectionCmd = &cobra.Command{
	Use:     "collection",
	Aliases: []string{"col"},
	Short:   "Manage collections",
}

var collectionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a collection from a JSON Schema",
	Long: `Create registers a collection. The schema is read from --file, or from
stdin when no file is given. Without --id the id is derived from the schema.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		var raw []byte
		var err error
		if collectionFile == "" || collectionFile == "-" {
			raw, err = io.ReadAll(os.Stdin)
		} else {
			raw, err = os.ReadFile(collectionFile)
		}
		if err != nil {
			fatal("Error reading schema", err)
		}

		ctx := context.Background()
		node, err := openNode(ctx)
		if err != nil {
			fatal("Error opening node", err)
		}
		defer node.Close()

		c, err := node.Engine.CreateCollection(ctx, collectionID, raw)
		if err != nil {
			fatal("Error creating collection", err)
		}
		fmt.Printf("Collection %s created\n", c.ID)
	},
}

var collectionGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Print a collection and its schema",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		node, err := openNode(ctx)
		if err != nil {
			fatal("Error opening node", err)
		}
		defer node.Close()

		c, err := node.Engine.GetCollection(ctx, args[0])
		if err != nil {
			fatal("Error reading collection", err)
		}
		printJSON(c)
	},
}

var collectionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List collections in creation order",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		node, err := openNode(ctx)
		if err != nil {
			fatal("Error opening node", err)
		}
		defer node.Close()

		list, err := node.Engine.ListCollections(ctx, listLimit, listOffset)
		if err != nil {
			fatal("Error listing collections", err)
		}

		if listJSON {
			printJSON(list)
			return
		}
		for _, c := range list {
			title := ""
			if c.Title != "" {
				title = fmt.Sprintf("- %s", c.Title)
			}
			fmt.Printf("%s %s\n", c.ID, title)
		}
	},
}

var collectionDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a collection and every document in it",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		node, err := openNode(ctx)
		if err != nil {
			fatal("Error opening node", err)
		}
		defer node.Close()

		res, err := node.Engine.DeleteCollection(ctx, args[0])
		if err != nil {
			fatal("Error deleting collection", err)
		}
		fmt.Printf("Collection %s deleted (%d documents)\n", args[0], res.DeletedCount)
	},
}

var collectionExportCmd = &cobra.Command{
	Use:   "export [id...]",
	Short: "Write collection schemas to a directory",
	Long: `Export writes the schema of each named collection, or of every
collection when none is named, to <dir>/<id>.json. The directory can later be
loaded with "serve --schemas".`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		node, err := openNode(ctx)
		if err != nil {
			fatal("Error opening node", err)
		}
		defer node.Close()

		ids := args
		if len(ids) == 0 {
			list, err := node.Engine.ListCollections(ctx, 0, 0)
			if err != nil {
				fatal("Error listing collections", err)
			}
			for _, c := range list {
				ids = append(ids, c.ID)
			}
		}

		dir := fs.New(fs.Config{Path: exportDir, SystemDir: exportSystemDir})
		if err := dir.Initialize(ctx); err != nil {
			fatal("Error preparing directory", err)
		}

		var failed []string
		for _, id := range ids {
			c, err := node.Engine.GetCollection(ctx, id)
			if err == nil {
				var path string
				if path, err = dir.Export(ctx, c); err == nil {
					fmt.Printf("%s -> %s\n", id, path)
					continue
				}
			}
			fmt.Fprintf(os.Stderr, "%s: %v\n", id, err)
			failed = append(failed, id)
		}
		if len(failed) > 0 {
			fatal("Export failed", fmt.Errorf("%s", strings.Join(failed, ", ")))
		}
	},
}

func init() {
	rootCmd.AddCommand(collectionCmd)
	collectionCmd.AddCommand(collectionCreateCmd, collectionGetCmd, collectionListCmd, collectionDeleteCmd, collectionExportCmd)

	collectionCreateCmd.Flags().StringVar(&collectionID, "id", "", "Collection id (derived from the schema when empty)")
	collectionCreateCmd.Flags().StringVarP(&collectionFile, "file", "f", "", "Schema file (stdin when empty)")

	collectionListCmd.Flags().IntVar(&listLimit, "limit", 0, "Maximum number of collections")
	collectionListCmd.Flags().IntVar(&listOffset, "offset", 0, "Number of collections to skip")
	collectionListCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")

	collectionExportCmd.Flags().StringVarP(&exportDir, "dir", "o", "./schemas", "Target directory")
	collectionExportCmd.Flags().StringVar(&exportSystemDir, "system-dir", ".quipu", "Hidden state directory inside the target")
}
