package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/tubelink/internal/security/tokencipher"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	cl := &client{
		BaseURL:   envOr("TUBELINK_ADMIN_URL", "http://localhost:8080"),
		APIKey:    envOr("TUBELINK_ADMIN_KEY", ""),
		OutFormat: envOr("TUBELINK_OUT", "text"),
		HTTP:      &http.Client{Timeout: 60 * time.Second},
		Out:       out,
	}

	root := &cobra.Command{
		Use:           "tubelink",
		Short:         "CLI admin para las credenciales de Google/YouTube",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cl.BaseURL, "admin-api-url", cl.BaseURL, "URL base del API (env TUBELINK_ADMIN_URL)")
	root.PersistentFlags().StringVar(&cl.APIKey, "admin-api-key", cl.APIKey, "API key admin (env TUBELINK_ADMIN_KEY)")
	root.PersistentFlags().StringVar(&cl.OutFormat, "out", cl.OutFormat, "Formato de salida: json|text")

	// los comandos remotos exigen API key; keys gen es offline
	requireKey := func(cmd *cobra.Command, args []string) error {
		if cl.APIKey == "" {
			return fmt.Errorf("falta API key (flag --admin-api-key o env TUBELINK_ADMIN_KEY)")
		}
		return nil
	}

	credCmd := &cobra.Command{
		Use:               "credential",
		Short:             "Operaciones sobre la credencial de un tenant",
		PersistentPreRunE: requireKey,
	}
	credCmd.AddCommand(
		&cobra.Command{
			Use:   "get <tenant-id>",
			Short: "Muestra la credencial (sin tokens)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return cl.call("get", http.MethodGet, credentialPath(args[0]), nil)
			},
		},
		&cobra.Command{
			Use:   "refresh <tenant-id>",
			Short: "Fuerza un refresh del access token",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return cl.call("refresh", http.MethodPost, credentialPath(args[0])+"/refresh", nil)
			},
		},
		&cobra.Command{
			Use:   "delete <tenant-id>",
			Short: "Desvincula la cuenta de Google del tenant",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return cl.call("delete", http.MethodDelete, credentialPath(args[0]), nil)
			},
		},
		newStatusCmd(cl),
		&cobra.Command{
			Use:   "sync-channel <tenant-id>",
			Short: "Vuelve a leer el canal de YouTube",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return cl.call("sync-channel", http.MethodPost, tenantPath(args[0])+"/channel/sync", nil)
			},
		},
	)

	var (
		threshold time.Duration
		async     bool
	)
	scanCmd := &cobra.Command{
		Use:               "scan",
		Short:             "Corre un scan-and-refresh inmediato",
		PersistentPreRunE: requireKey,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if threshold > 0 {
				q.Set("threshold", threshold.String())
			}
			if async {
				q.Set("async", "true")
			}
			path := "/v2/admin/google/scan"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			return cl.call("scan", http.MethodPost, path, nil)
		},
	}
	scanCmd.Flags().DurationVar(&threshold, "threshold", 0, "Ventana de vencimiento (default: la del servidor)")
	scanCmd.Flags().BoolVar(&async, "async", false, "Despierta al scanner de fondo en vez de esperar el reporte")

	keysCmd := &cobra.Command{Use: "keys", Short: "Claves de cifrado"}
	keysCmd.AddCommand(&cobra.Command{
		Use:   "gen",
		Short: "Genera una ENCRYPTION_KEY (64 hex)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := tokencipher.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cl.Out, k)
			return nil
		},
	})

	root.AddCommand(credCmd, scanCmd, keysCmd)
	return root
}

func newStatusCmd(cl *client) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "status <tenant-id> <ACTIVE|REVOKED|ERROR|EXPIRED>",
		Short: "Cambia el estado de la credencial",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]string{"status": args[1]}
			if reason != "" {
				payload["reason"] = reason
			}
			return cl.call("status", http.MethodPut, credentialPath(args[0])+"/status", payload)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Motivo (se guarda como error_message)")
	return cmd
}

func tenantPath(tenantID string) string {
	return "/v2/tenants/" + url.PathEscape(tenantID) + "/google"
}

func credentialPath(tenantID string) string { return tenantPath(tenantID) + "/credential" }

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
