package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mbetel/invochat/internal/invoice"
)

// --- session ---

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage invoice sessions",
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a session from a JSON file of extracted invoices",
	Long: `Create a session from a JSON file of extracted invoices.

The file holds a JSON array of invoice records. Examples:
  invochat session create --file ./invoices.json
  invochat session create --file ./invoices.json --owner accounting`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		owner, _ := cmd.Flags().GetString("owner")

		if file == "" {
			return fmt.Errorf("--file is required")
		}

		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}
		var records []invoice.Record
		if err := json.Unmarshal(data, &records); err != nil {
			return fmt.Errorf("parsing %s: %w", file, err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"owner_id": owner,
			"invoices": records,
		}
		resp, err := client.post(cmd.Context(), "/sessions", req)
		if err != nil {
			return err
		}

		var result struct {
			SessionID string   `json:"session_id"`
			Invoices  int      `json:"invoices"`
			Facts     int      `json:"facts"`
			Warnings  []string `json:"warnings"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		for _, w := range result.Warnings {
			printWarning("%s", w)
		}
		printSuccess("Session %s created (%d invoices, %d facts)", result.SessionID, result.Invoices, result.Facts)
		fmt.Println(result.SessionID)
		return nil
	},
}

var sessionStatusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show whether a session is active and when it expires",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/sessions/%s?owner_id=%s", args[0], owner))
		if err != nil {
			return err
		}

		var result struct {
			Active    bool `json:"active"`
			Invoices  int  `json:"invoices"`
			ExpiresIn int  `json:"expires_in_seconds"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printStatus("Active", "%v", result.Active)
		printStatus("Invoices", "%d", result.Invoices)
		printStatus("Expires in", "%ds", result.ExpiresIn)
		return nil
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session and its index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), fmt.Sprintf("/sessions/%s?owner_id=%s", args[0], owner))
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Session %s deleted", args[0])
		return nil
	},
}

func init() {
	sessionCreateCmd.Flags().String("file", "", "JSON file with extracted invoice records")
	sessionCreateCmd.Flags().String("owner", "cli", "owner id for the session")
	sessionStatusCmd.Flags().String("owner", "cli", "owner id that created the session")
	sessionDeleteCmd.Flags().String("owner", "cli", "owner id that created the session")

	sessionCmd.AddCommand(sessionCreateCmd)
	sessionCmd.AddCommand(sessionStatusCmd)
	sessionCmd.AddCommand(sessionDeleteCmd)
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <session-id> <question>",
	Short: "Ask a question about a session's invoices",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		showEvidence, _ := cmd.Flags().GetBool("evidence")
		question := strings.Join(args[1:], " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]string{
			"owner_id": owner,
			"question": question,
		}
		resp, err := client.post(cmd.Context(), "/sessions/"+args[0]+"/chat", req)
		if err != nil {
			return err
		}

		var answer struct {
			Text     string   `json:"answer"`
			Evidence []string `json:"evidence"`
		}
		if err := decodeJSON(resp, &answer); err != nil {
			return err
		}

		fmt.Println(answer.Text)
		if showEvidence && len(answer.Evidence) > 0 {
			fmt.Printf("\n%s %s\n", colorize(colorBold, "Evidence:"), strings.Join(answer.Evidence, ", "))
		}
		return nil
	},
}

func init() {
	chatCmd.Flags().String("owner", "cli", "owner id that created the session")
	chatCmd.Flags().Bool("evidence", false, "print the fact ids the answer is based on")
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Export a session's invoices as general-ledger CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/sessions/%s/export?owner_id=%s", args[0], owner))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
		}

		return writeCSV(resp.Body, output)
	},
}

// --- archive ---

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Inspect or export archived invoices",
}

var archiveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived invoices for an owner",
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/archive?owner_id="+owner)
		if err != nil {
			return err
		}

		var entries []struct {
			ID         string `json:"id"`
			SessionID  string `json:"session_id"`
			ArchivedAt string `json:"archived_at"`
			Invoice    struct {
				VendorName    string   `json:"vendor_name"`
				InvoiceNumber string   `json:"invoice_number"`
				TotalAmount   *float64 `json:"total_amount"`
			} `json:"invoice"`
		}
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("No archived invoices found.")
			return nil
		}

		for _, e := range entries {
			amount := "n/a"
			if e.Invoice.TotalAmount != nil {
				amount = fmt.Sprintf("$%.2f", *e.Invoice.TotalAmount)
			}
			id := e.ID
			if len(id) > 8 {
				id = id[:8]
			}
			fmt.Printf("%s  %s  %-20s %-15s %s\n",
				colorize(colorCyan, id),
				e.ArchivedAt,
				e.Invoice.VendorName,
				e.Invoice.InvoiceNumber,
				amount,
			)
		}
		return nil
	},
}

var archiveExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all archived invoices as general-ledger CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/archive/export?owner_id="+owner)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
		}

		return writeCSV(resp.Body, output)
	},
}

func writeCSV(r io.Reader, output string) error {
	var writer *os.File
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		writer = f
	} else {
		writer = os.Stdout
	}

	if _, err := io.Copy(writer, r); err != nil {
		return fmt.Errorf("writing export: %w", err)
	}
	if output != "" {
		printSuccess("Exported to %s", output)
	}
	return nil
}

func init() {
	exportCmd.Flags().String("owner", "cli", "owner id that created the session")
	exportCmd.Flags().String("output", "", "output file path (default: stdout)")
	archiveListCmd.Flags().String("owner", "cli", "owner id")
	archiveExportCmd.Flags().String("owner", "cli", "owner id")
	archiveExportCmd.Flags().String("output", "", "output file path (default: stdout)")

	archiveCmd.AddCommand(archiveListCmd)
	archiveCmd.AddCommand(archiveExportCmd)
}
