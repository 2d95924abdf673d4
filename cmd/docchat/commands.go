package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// --- documents ---

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Manage uploaded documents",
}

var documentsAddCmd = &cobra.Command{
	Use:   "add <file>",
	Short: "Upload a document and index it for retrieval",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		name, _ := cmd.Flags().GetString("name")
		docType, _ := cmd.Flags().GetString("type")
		skipProcess, _ := cmd.Flags().GetBool("no-process")

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}
		if name == "" {
			name = filepath.Base(path)
		}
		if docType == "" {
			docType = detectType(path)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/documents", map[string]any{
			"name":    name,
			"type":    docType,
			"content": data,
		})
		if err != nil {
			return err
		}

		var doc struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}
		printSuccess("Uploaded %s as %s", name, doc.ID)

		if skipProcess {
			return nil
		}

		procResp, err := client.post(cmd.Context(), "/v1/documents/"+doc.ID+"/process", nil)
		if err != nil {
			return err
		}
		var processed struct {
			Passages int `json:"passages"`
		}
		if err := decodeJSON(procResp, &processed); err != nil {
			return err
		}
		printSuccess("Indexed %d passages", processed.Passages)
		return nil
	},
}

func detectType(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		// Strip charset parameters, the server keys off the bare type.
		if mt, _, err := mime.ParseMediaType(t); err == nil {
			return mt
		}
	}
	return "text/plain"
}

var documentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List uploaded documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/documents")
		if err != nil {
			return err
		}

		var listing struct {
			Documents []struct {
				ID        string `json:"id"`
				Name      string `json:"name"`
				Type      string `json:"type"`
				CreatedAt string `json:"created_at"`
			} `json:"documents"`
		}
		if err := decodeJSON(resp, &listing); err != nil {
			return err
		}

		if len(listing.Documents) == 0 {
			fmt.Println("No documents found.")
			return nil
		}
		for _, d := range listing.Documents {
			fmt.Printf("%s  %-30s  %s\n", colorize(colorCyan, d.ID[:8]), d.Name, d.Type)
		}
		return nil
	},
}

var documentsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a document and its indexed passages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/v1/documents/"+args[0])
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}

		printSuccess("Deleted %s", args[0])
		return nil
	},
}

var documentsProcessCmd = &cobra.Command{
	Use:   "process <id>",
	Short: "Re-run extraction and indexing for a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/documents/"+args[0]+"/process", nil)
		if err != nil {
			return err
		}
		var processed struct {
			Passages int `json:"passages"`
		}
		if err := decodeJSON(resp, &processed); err != nil {
			return err
		}

		printSuccess("Indexed %d passages", processed.Passages)
		return nil
	},
}

func init() {
	documentsAddCmd.Flags().String("name", "", "display name (default: file name)")
	documentsAddCmd.Flags().String("type", "", "MIME type (default: detected from extension)")
	documentsAddCmd.Flags().Bool("no-process", false, "upload without indexing")
	documentsCmd.AddCommand(documentsAddCmd)
	documentsCmd.AddCommand(documentsListCmd)
	documentsCmd.AddCommand(documentsDeleteCmd)
	documentsCmd.AddCommand(documentsProcessCmd)
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over indexed documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")
		threshold, _ := cmd.Flags().GetFloat32("threshold")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{"query": query, "max_results": limit}
		if threshold > 0 {
			body["threshold"] = threshold
		}
		resp, err := client.post(cmd.Context(), "/v1/retrieval/search", body)
		if err != nil {
			return err
		}

		var search struct {
			Results []struct {
				Content    string  `json:"content"`
				FileName   string  `json:"file_name"`
				Similarity float32 `json:"similarity"`
			} `json:"results"`
		}
		if err := decodeJSON(resp, &search); err != nil {
			return err
		}

		if len(search.Results) == 0 {
			fmt.Println("No results found.")
			return nil
		}
		for i, r := range search.Results {
			fmt.Printf("\n%s [%.3f] %s\n", colorize(colorBold, fmt.Sprintf("Result %d", i+1)), r.Similarity, r.FileName)
			text := r.Content
			if len(text) > 500 {
				text = text[:500] + "..."
			}
			fmt.Printf("  %s\n", text)
		}
		return nil
	},
}

var contextCmd = &cobra.Command{
	Use:   "context <query>",
	Short: "Print the prompt context block for a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		maxLength, _ := cmd.Flags().GetInt("max-length")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{"query": strings.Join(args, " ")}
		if maxLength > 0 {
			body["max_length"] = maxLength
		}
		resp, err := client.post(cmd.Context(), "/v1/retrieval/context", body)
		if err != nil {
			return err
		}

		var out struct {
			Context string `json:"context"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		fmt.Println(out.Context)
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("limit", 5, "maximum number of results")
	searchCmd.Flags().Float32("threshold", 0, "minimum similarity (default: server setting)")
	contextCmd.Flags().Int("max-length", 0, "maximum context length (default: server setting)")
}

// --- models ---

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models usable with the configured credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/models")
		if err != nil {
			return err
		}

		var out struct {
			Models []struct {
				ID       string `json:"id"`
				Name     string `json:"name"`
				Provider string `json:"provider"`
			} `json:"models"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}

		if len(out.Models) == 0 {
			printWarning("No models available. Configure a provider API key.")
			return nil
		}
		for _, m := range out.Models {
			fmt.Printf("%-28s  %-20s  %s\n", colorize(colorBold, m.ID), m.Name, m.Provider)
		}
		return nil
	},
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Ask a question, grounded in your documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		model, _ := cmd.Flags().GetString("model")
		chatID, _ := cmd.Flags().GetString("chat-id")
		docs, _ := cmd.Flags().GetStringSlice("documents")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{
			"messages": []map[string]string{
				{"role": "user", "content": strings.Join(args, " ")},
			},
			"model": model,
		}
		if chatID != "" {
			body["chat_id"] = chatID
		}
		if len(docs) > 0 {
			body["document_ids"] = docs
		}

		resp, err := client.post(cmd.Context(), "/v1/chat", body)
		if err != nil {
			return err
		}

		var out struct {
			Content string `json:"content"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		fmt.Println(out.Content)
		return nil
	},
}

func init() {
	chatCmd.Flags().String("model", "gpt-4o", "model identifier")
	chatCmd.Flags().String("chat-id", "", "persist the exchange into this chat")
	chatCmd.Flags().StringSlice("documents", nil, "restrict retrieval to these document IDs")
}
