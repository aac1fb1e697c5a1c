package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"meritflow/internal/app"
	"meritflow/internal/config"
	"meritflow/internal/db"
	"meritflow/internal/domain"
	"meritflow/internal/engine"
	"meritflow/internal/repo"
	"meritflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "mf",
	Short: "Meritflow CLI",
	Long: `Meritflow runs a contribution-verification marketplace on your machine.
- Workspace: the .meritflow directory holding the database; policy lives in meritflow.yml.
- Contributions: submitted artifacts (code, dataset, document) identified by a content hash.
- Verifications: scored approve/reject/abstain votes from verifier agents.
- Consensus: once enough votes are in, the approval rate against the threshold decides verified or rejected.
- Rewards: verified contributions earn base * quality multiplier * complexity weight, boosted by contributor reputation.
- Event log: diary of every lifecycle change, view with 'mf log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("MERITFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("agent-id", "local-agent", "agent identifier for verifications")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("agent-id", rootCmd.PersistentFlags().Lookup("agent-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(contributionCmd())
	rootCmd.AddCommand(verificationCmd())
	rootCmd.AddCommand(consensusCmd())
	rootCmd.AddCommand(contributorCmd())
	rootCmd.AddCommand(rewardCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage workspace config",
		Long:  "Config is the rulebook: the consensus policy (minimum votes, approval threshold), the reward tariff, and the verifier agent catalog.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default meritflow.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Marketplace overview",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.Repo.CountContributionsByStatus(ctx)
				if err != nil {
					return err
				}
				minVerifications, threshold := e.Policy()
				return printJSONOrTable(map[string]any{
					"db_path":             db.Path(viper.GetString("workspace")),
					"contribution_counts": counts,
					"consensus": map[string]any{
						"min_verifications": minVerifications,
						"threshold":         threshold,
					},
				})
			})
		},
	}
	return cmd
}

func contributionCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "contribution",
		Short: "Manage contributions",
		Long:  "Contributions are the artifacts under verification. Each is keyed by a SHA-256 content hash and moves pending -> verifying -> verified/rejected.",
	}
	c.AddCommand(contributionCreateCmd())
	c.AddCommand(contributionShowCmd())
	c.AddCommand(contributionListCmd())
	c.AddCommand(contributionStatusCmd())
	return c
}

func contributionCreateCmd() *cobra.Command {
	var submitter, typ, title, description, contentHash, contentFile, storageRef, language string
	var tags []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Submit a contribution",
		RunE: func(cmd *cobra.Command, args []string) error {
			if contentHash == "" && contentFile != "" {
				data, err := os.ReadFile(contentFile)
				if err != nil {
					return err
				}
				contentHash = engine.HashContent(data)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				meta := domain.ContributionMetadata{
					Title:       title,
					Description: description,
					Tags:        tags,
				}
				if language != "" {
					meta.Language = &language
				}
				c, err := e.CreateContribution(ctx, engine.ContributionCreateOptions{
					Submitter:   submitter,
					Type:        typ,
					Metadata:    meta,
					ContentHash: contentHash,
					StorageRef:  storageRef,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&submitter, "submitter", "", "submitter address")
	cmd.Flags().StringVar(&typ, "type", "other", "contribution type (code, dataset, document, other)")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringArrayVar(&tags, "tag", []string{}, "tag (repeatable)")
	cmd.Flags().StringVar(&language, "language", "", "language")
	cmd.Flags().StringVar(&contentHash, "content-hash", "", "precomputed SHA-256 content hash")
	cmd.Flags().StringVar(&contentFile, "content", "", "file to hash as the content")
	cmd.Flags().StringVar(&storageRef, "storage-ref", "", "external storage reference")
	_ = cmd.MarkFlagRequired("submitter")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func contributionShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a contribution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Repo.GetContribution(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func contributionListCmd() *cobra.Command {
	var f repo.ContributionFilter
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List contributions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListContributions(ctx, f, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Title", "Status", "Votes", "Quality", "Reward"})
				for _, c := range items {
					quality := ""
					if c.QualityScore != nil {
						quality = fmt.Sprintf("%.1f", *c.QualityScore)
					}
					rewardCol := ""
					if c.RewardAmount != nil {
						rewardCol = fmt.Sprintf("%.2f", *c.RewardAmount)
					}
					tw.AppendRow(table.Row{c.ID, c.Type, c.Metadata.Title, c.Status, c.VerificationCount, quality, rewardCol})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Submitter, "submitter", "", "submitter filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&limit, "limit", 100, "max rows")
	return cmd
}

func contributionStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Show verification status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Repo.GetContribution(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"contribution_id":    c.ID,
					"status":             c.Status,
					"verification_count": c.VerificationCount,
					"quality_score":      c.QualityScore,
					"reward_amount":      c.RewardAmount,
					"updated_at":         c.UpdatedAt,
				})
			})
		},
	}
	return cmd
}

func verificationCmd() *cobra.Command {
	v := &cobra.Command{
		Use:   "verification",
		Short: "Manage verifications",
		Long:  "Verifications are scored votes from verifier agents. Submitting one may settle consensus for the contribution in the same step.",
	}
	v.AddCommand(verificationSubmitCmd())
	v.AddCommand(verificationShowCmd())
	v.AddCommand(verificationListCmd())
	return v
}

func verificationSubmitCmd() *cobra.Command {
	var contributionID, vote, reasoning, detailsJSON string
	var score float64
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a verification",
		RunE: func(cmd *cobra.Command, args []string) error {
			var details map[string]any
			if detailsJSON != "" {
				if err := json.Unmarshal([]byte(detailsJSON), &details); err != nil {
					return fmt.Errorf("invalid details JSON: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.SubmitVerification(ctx, engine.VerificationSubmitOptions{
					ContributionID: contributionID,
					AgentID:        viper.GetString("agent-id"),
					Vote:           vote,
					Score:          score,
					Reasoning:      reasoning,
					Details:        details,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().StringVar(&contributionID, "contribution", "", "contribution id")
	cmd.Flags().StringVar(&vote, "vote", "", "vote (approve, reject, abstain)")
	cmd.Flags().Float64Var(&score, "score", 0, "quality score 0..100")
	cmd.Flags().StringVar(&reasoning, "reasoning", "", "free-form reasoning")
	cmd.Flags().StringVar(&detailsJSON, "details-json", "", "structured details JSON")
	_ = cmd.MarkFlagRequired("contribution")
	_ = cmd.MarkFlagRequired("vote")
	return cmd
}

func verificationShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a verification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.Repo.GetVerification(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	return cmd
}

func verificationListCmd() *cobra.Command {
	var contributionID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List verifications for a contribution",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListVerificationsForContribution(ctx, contributionID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Agent", "Vote", "Score", "Created"})
				for _, v := range items {
					tw.AppendRow(table.Row{v.ID, v.AgentID, v.Vote, v.Score, v.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&contributionID, "contribution", "", "contribution id")
	_ = cmd.MarkFlagRequired("contribution")
	return cmd
}

func consensusCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "consensus",
		Short: "Inspect consensus",
	}
	c.AddCommand(consensusShowCmd())
	return c
}

func consensusShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <contribution-id>",
		Short: "Show the current consensus projection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cons, err := e.Consensus(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(cons)
			})
		},
	}
	return cmd
}

func contributorCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "contributor",
		Short: "Manage contributors",
		Long:  "Contributors are keyed by wallet address. Registration is optional but unlocks the reputation bonus on rewards.",
	}
	c.AddCommand(contributorRegisterCmd())
	c.AddCommand(contributorShowCmd())
	c.AddCommand(contributorListCmd())
	c.AddCommand(contributorStatsCmd())
	return c
}

func contributorRegisterCmd() *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a contributor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.RegisterContributor(ctx, address)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "wallet address")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}

func contributorShowCmd() *cobra.Command {
	var byAddress bool
	cmd := &cobra.Command{
		Use:   "show <id-or-address>",
		Short: "Show a contributor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var (
					c   domain.Contributor
					err error
				)
				if byAddress {
					c, err = e.Repo.GetContributorByAddress(ctx, args[0])
				} else {
					c, err = e.Repo.GetContributor(ctx, args[0])
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().BoolVar(&byAddress, "by-address", false, "look up by wallet address instead of id")
	return cmd
}

func contributorListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List contributors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListContributors(ctx, limit)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "max rows")
	return cmd
}

func contributorStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats <address>",
		Short: "Show contributor statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				stats, err := e.Repo.ContributorStats(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(stats)
			})
		},
	}
	return cmd
}

func rewardCmd() *cobra.Command {
	r := &cobra.Command{
		Use:   "reward",
		Short: "Reward calculations",
	}
	r.AddCommand(rewardEstimateCmd())
	return r
}

func rewardEstimateCmd() *cobra.Command {
	var typ string
	var quality, bonus float64
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate a reward without settling anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(map[string]any{
					"quality_score":    quality,
					"type":             typ,
					"reputation_bonus": bonus,
					"amount":           e.Reward.Amount(quality, typ, bonus),
				})
			})
		},
	}
	cmd.Flags().Float64Var(&quality, "quality", 0, "quality score 0..100")
	cmd.Flags().StringVar(&typ, "type", "other", "contribution type")
	cmd.Flags().Float64Var(&bonus, "bonus", 0, "reputation bonus 0..1")
	return cmd
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
		Long:  "API keys authenticate agents against the HTTP API via the X-Api-Key header. Only the SHA-256 hash is stored.",
	}
	k.AddCommand(apikeyCreateCmd())
	k.AddCommand(apikeyListCmd())
	k.AddCommand(apikeyRevokeCmd())
	return k
}

func apikeyCreateCmd() *cobra.Command {
	var agentID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (secret shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			secretBytes := make([]byte, 24)
			if _, err := rand.Read(secretBytes); err != nil {
				return err
			}
			secret := "mfk_" + hex.EncodeToString(secretBytes)
			key := domain.APIKey{
				ID:        "key_" + hex.EncodeToString(secretBytes[:6]),
				AgentID:   agentID,
				Name:      name,
				KeyHash:   repo.HashAPIKey(secret),
				CreatedAt: time.Now().UTC().Format(time.RFC3339),
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"id":       key.ID,
					"agent_id": key.AgentID,
					"name":     key.Name,
					"secret":   secret,
				})
			})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var agentID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, agentID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Agent", "Name", "Created"})
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.AgentID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "agent filter")
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("revoked", args[0])
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: submissions, verifications, decisions and rewards.",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.ListEvents(ctx, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			appCtx, err := app.Open(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer appCtx.Close()
			authCfg := server.AuthConfig{
				JWTSecret:        appCtx.Config.Auth.JWTSecret,
				AllowAgentHeader: appCtx.Config.Auth.AllowAgentHeader,
				DevLogin:         appCtx.Config.Auth.DevLogin,
			}
			if env := os.Getenv("MERITFLOW_JWT_SECRET"); env != "" {
				authCfg.JWTSecret = env
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowAgentHeader {
				return fmt.Errorf("MERITFLOW_JWT_SECRET (or auth.jwt_secret) is required unless auth.allow_agent_header is on")
			}
			handler, err := server.New(server.Config{Engine: appCtx.Engine, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Meritflow API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	appCtx, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer appCtx.Close()
	return fn(ctx, appCtx.Engine)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		return fn(ctx, e.Repo)
	})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
