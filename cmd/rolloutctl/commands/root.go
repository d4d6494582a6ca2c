package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/edgeward/fleet-backend/internal/client"
)

// Globals holds the persistent flags shared by every subcommand.
type Globals struct {
	APIURL  string
	Token   string
	Tenant  string
	Actor   string
	Timeout time.Duration

	client *client.Client
}

func NewRootCommand(version string) *cobra.Command {
	g := &Globals{}
	root := &cobra.Command{
		Use:           "rolloutctl",
		Short:         "Operate phased and flat firmware rollouts",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.connect()
		},
	}

	fl := root.PersistentFlags()
	fl.StringVar(&g.APIURL, "api", envOr("FLEET_API_URL", "http://localhost:8080"), "API base URL")
	fl.StringVar(&g.Token, "token", envOr("FLEET_API_TOKEN", ""), "Bearer token; when empty --tenant is sent as a header")
	fl.StringVar(&g.Tenant, "tenant", envOr("FLEET_TENANT_ID", ""), "Tenant id")
	fl.StringVar(&g.Actor, "actor", envOr("FLEET_ACTOR", ""), "Actor recorded in the audit trail")
	fl.DurationVar(&g.Timeout, "timeout", 30*time.Second, "Request timeout")

	root.AddCommand(
		newRolloutsCommand(g),
		newFlatCommand(g),
	)
	return root
}

func (g *Globals) connect() error {
	var tenantID uuid.UUID
	if t := strings.TrimSpace(g.Tenant); t != "" {
		id, err := uuid.Parse(t)
		if err != nil {
			return fmt.Errorf("invalid --tenant: %w", err)
		}
		tenantID = id
	}
	c, err := client.New(client.Options{
		BaseURL:    g.APIURL,
		Token:      g.Token,
		TenantID:   tenantID,
		Actor:      g.Actor,
		Timeout:    g.Timeout,
		MaxRetries: 2,
	})
	if err != nil {
		return err
	}
	g.client = c
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(raw, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s %q", what, raw)
	}
	return id, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
