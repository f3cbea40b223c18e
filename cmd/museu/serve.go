package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"museu/internal/app"
	"museu/internal/config"
	"museu/internal/db"
	"museu/internal/server"
)

func serveCmd() *cobra.Command {
	var addr string
	var devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger()
			a, err := app.Bootstrap(cmd.Context(), workspace, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			authCfg := server.AuthConfig{
				JWTSecret:     viper.GetString("jwt-secret"),
				AllowDevLogin: devLogin || cfg.Access.AllowDevLogin,
				Logger:        logger,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("MUSEU_JWT_SECRET is required for bearer auth")
			}
			basePath := viper.GetString("base-path")
			if !cmd.Flags().Changed("base-path") && cfg.Server.BasePath != "" {
				basePath = cfg.Server.BasePath
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			hub := server.NewHub(logger)
			defer hub.Close()
			handler, err := server.New(server.Config{Engine: a.Engine, BasePath: basePath, Auth: authCfg, Hub: hub})
			if err != nil {
				return err
			}
			server.StartWebhooks(cmd.Context(), a.Engine.Repo, cfg, logger)

			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving %s on http://%s%s (OpenAPI at %s/openapi.json, live feed at %s/live)\n",
				cfg.Network.Name, addr, basePath, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr from config)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable POST /auth/dev/login")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default museu.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"valid": true})
			}
			fmt.Println("config is valid")
			return nil
		},
	}
}

func loginCmd() *cobra.Command {
	var principal, name string
	var save bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Get a development token from a server started with --dev-login",
		RunE: func(cmd *cobra.Command, args []string) error {
			if principal == "" {
				return fmt.Errorf("--principal is required")
			}
			gw := newGateway()
			token, err := gw.DevLogin(cmd.Context(), principal, name)
			if err != nil {
				return err
			}
			if save {
				path := filepath.Join(viper.GetString("workspace"), ".env")
				if err := setEnvValue(path, "MUSEU_TOKEN", token); err != nil {
					return err
				}
				fmt.Println("token saved to", path)
				return nil
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&principal, "principal", "", "principal id")
	cmd.Flags().StringVar(&name, "name", "", "display name for a first login")
	cmd.Flags().BoolVar(&save, "save", false, "store the token as MUSEU_TOKEN in <workspace>/.env")
	return cmd
}

// setEnvValue sets key in a dotenv file, keeping the other entries.
func setEnvValue(path, key, value string) error {
	env, err := godotenv.Read(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		env = map[string]string{}
	}
	env[key] = value
	return godotenv.Write(env, path)
}
