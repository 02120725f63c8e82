package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/faidrapts/sharepoint-connector/internal/graph"
)

func newTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Verify authentication and site access",
		Long: `Authenticate with the saved credentials, resolve the configured site,
and list its document libraries. Nothing is downloaded.`,
		RunE: runTest,
	}
}

// connectionOutput is the JSON schema for `test --json`.
type connectionOutput struct {
	User      connectionUser      `json:"user"`
	Site      connectionSite      `json:"site"`
	Libraries []connectionLibrary `json:"libraries"`
}

type connectionUser struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

type connectionSite struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	WebURL      string `json:"web_url"`
}

type connectionLibrary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	WebURL string `json:"web_url"`
}

func runTest(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := shutdownContext(cmd.Context(), logger)

	if err := resolvedCfg.SharePointReady(); err != nil {
		return err
	}

	store, err := loadCredentials(logger)
	if err != nil {
		return err
	}

	client := graph.NewClient(graph.DefaultBaseURL, newHTTPClient(resolvedCfg), store, logger)

	user, err := client.Me(ctx)
	if err != nil {
		return fmt.Errorf("authentication check failed: %w", err)
	}

	siteURL := resolvedCfg.SharePoint.SiteURL

	site, err := client.SiteByURL(ctx, siteURL)
	if err != nil {
		return fmt.Errorf("resolving site %s: %w", siteURL, err)
	}

	drives, err := client.SiteDrives(ctx, site.ID)
	if err != nil {
		return fmt.Errorf("listing document libraries: %w", err)
	}

	if flagJSON {
		return printConnectionJSON(user, site, drives)
	}

	printConnectionText(user, site, drives)

	return nil
}

func printConnectionJSON(user *graph.User, site *graph.Site, drives []graph.Drive) error {
	out := connectionOutput{
		User:      connectionUser{DisplayName: user.DisplayName, Email: user.Email},
		Site:      connectionSite{ID: site.ID, DisplayName: site.DisplayName, WebURL: site.WebURL},
		Libraries: make([]connectionLibrary, 0, len(drives)),
	}

	for _, d := range drives {
		out.Libraries = append(out.Libraries, connectionLibrary{
			ID:     d.ID,
			Name:   d.Name,
			WebURL: d.WebURL,
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printConnectionText(user *graph.User, site *graph.Site, drives []graph.Drive) {
	fmt.Printf("Connection OK\n")
	fmt.Printf("User:  %s (%s)\n", user.DisplayName, user.Email)
	fmt.Printf("Site:  %s\n", site.DisplayName)
	fmt.Printf("  ID:  %s\n", site.ID)
	fmt.Printf("  URL: %s\n", site.WebURL)

	if len(drives) == 0 {
		fmt.Println("No document libraries visible.")

		return
	}

	fmt.Printf("\nDocument libraries (%d):\n", len(drives))

	rows := make([][]string, 0, len(drives))
	for _, d := range drives {
		rows = append(rows, []string{d.Name, d.DriveType, d.WebURL})
	}

	printTable(os.Stdout, []string{"NAME", "TYPE", "URL"}, rows)
}
