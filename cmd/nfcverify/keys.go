package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/raakeshmj/nfcverify/internal/audit"
	"github.com/raakeshmj/nfcverify/internal/server"
	"github.com/raakeshmj/nfcverify/internal/service"
	"github.com/raakeshmj/nfcverify/internal/validation"
)

const cliActor = "cli"

var keysFlags struct {
	expiresAt string
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys",
	Long: `Issue and revoke API keys directly against the store. Use this to
bootstrap the first key, since the HTTP key endpoints require one.`,
}

var keysCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Issue a new API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysCreate,
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRevoke,
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysCreateCmd, keysRevokeCmd)

	keysCreateCmd.Flags().StringVar(&keysFlags.expiresAt, "expires-at", "", "expiry as RFC 3339 or YYYY-MM-DD")
}

// keyService opens the store and cache the server would use. Without
// REDIS_URL, revoking from the CLI cannot evict a key a running server holds
// in its process cache; it stops working when that entry expires.
func keyService(cmd *cobra.Command) (*service.KeyService, func(), error) {
	store, err := server.OpenStore(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	c := server.OpenCache(cmd.Context(), cfg, logger)
	closeAll := func() {
		_ = store.Close()
		_ = c.Close()
	}
	return service.NewKeyService(store, c, cfg.APIKeyCacheTTL, nil, logger), closeAll, nil
}

func runKeysCreate(cmd *cobra.Command, args []string) error {
	body := map[string]any{"name": args[0]}
	if keysFlags.expiresAt != "" {
		body["expiresAt"] = keysFlags.expiresAt
	}
	name, expiresAt, err := validation.ValidateKeyRequest(body)
	if err != nil {
		return err
	}

	svc, closeAll, err := keyService(cmd)
	if err != nil {
		return err
	}
	defer closeAll()

	apiKey, rawKey, err := svc.CreateAPIKey(cmd.Context(), name, expiresAt)
	if err != nil {
		return err
	}

	audit.NewZapLogger(logger).Log(audit.LogEntry{
		ActorID:  cliActor,
		Action:   audit.ActionKeyCreate,
		Resource: "apikey:" + apiKey.ID,
		Status:   http.StatusCreated,
		Metadata: map[string]interface{}{"key_name": name, "prefix": apiKey.Prefix},
	})

	result := struct {
		ID        string     `json:"id"`
		Key       string     `json:"key"`
		Name      string     `json:"name"`
		ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	}{
		ID:        apiKey.ID,
		Key:       rawKey,
		Name:      apiKey.Name,
		ExpiresAt: apiKey.ExpiresAt,
	}

	b, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "API key created. Store it securely, it will not be shown again.")
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}

func runKeysRevoke(cmd *cobra.Command, args []string) error {
	svc, closeAll, err := keyService(cmd)
	if err != nil {
		return err
	}
	defer closeAll()

	id := args[0]
	if _, err := svc.RevokeAPIKey(cmd.Context(), id); err != nil {
		return err
	}

	audit.NewZapLogger(logger).Log(audit.LogEntry{
		ActorID:  cliActor,
		Action:   audit.ActionKeyRevoke,
		Resource: "apikey:" + id,
		Status:   http.StatusOK,
	})

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "API key %s revoked\n", id)
	return err
}
