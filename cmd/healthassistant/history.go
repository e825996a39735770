package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/healthassistant/backend/internal/config"
	"github.com/healthassistant/backend/internal/model/chat"
)

var (
	sessionHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("212")).
				MarginBottom(1)

	userRoleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	assistantRoleStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("135")).
				Bold(true)

	timestampStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	contentStyle = lipgloss.NewStyle().
			PaddingLeft(2).
			MarginBottom(1)
)

type historyEntry struct {
	Role      string `json:"role" yaml:"role"`
	Content   string `json:"content" yaml:"content"`
	CreatedAt string `json:"created_at" yaml:"created_at"`
}

type historyDocument struct {
	SessionID string         `json:"session_id" yaml:"session_id"`
	Messages  []historyEntry `json:"messages" yaml:"messages"`
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "history <session-id>",
		Short: "Print the stored conversation of a session",
		Example: `  healthassistant history 3f0c...          # Styled transcript
  healthassistant history 3f0c... -o json  # JSON document`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch output {
			case "text", "json", "yaml":
			default:
				return fmt.Errorf("invalid output format %q: want text, json or yaml", output)
			}

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if cfg.Store.Driver != config.StoreDriverSQLite {
				return fmt.Errorf("history requires the sqlite store")
			}
			store, err := openStore(cfg.Store)
			if err != nil {
				return err
			}
			defer store.Close()

			messages, err := store.ListBySession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeHistory(cmd.OutOrStdout(), output, args[0], messages)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format (text, json, yaml)")
	return cmd
}

func writeHistory(w io.Writer, format, sessionID string, messages []chat.Message) error {
	doc := historyDocument{SessionID: sessionID, Messages: make([]historyEntry, 0, len(messages))}
	for _, m := range messages {
		doc.Messages = append(doc.Messages, historyEntry{
			Role:      string(m.Role),
			Content:   m.Content,
			CreatedAt: m.CreatedAt.Format(time.RFC3339Nano),
		})
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer func() { _ = enc.Close() }()
		return enc.Encode(doc)
	}

	var b strings.Builder
	b.WriteString(sessionHeaderStyle.Render(fmt.Sprintf("Session %s (%d messages)", sessionID, len(messages))))
	b.WriteString("\n")
	for _, m := range messages {
		role := userRoleStyle.Render("You")
		if m.Role == chat.RoleAssistant {
			role = assistantRoleStyle.Render("Assistant")
		}
		b.WriteString(role + " " + timestampStyle.Render(m.CreatedAt.Local().Format("2006-01-02 15:04:05")) + "\n")
		b.WriteString(contentStyle.Render(m.Content) + "\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}
