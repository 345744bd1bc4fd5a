package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"flowsentinel/backend/internal/catalog"
	"flowsentinel/backend/internal/patterns"
	"flowsentinel/backend/internal/platform"
	"flowsentinel/backend/internal/validation"
	"flowsentinel/backend/pkg/models"
)

var timeNow = time.Now

func newSeedCommand(g *globals) *cobra.Command {
	var platformVersion string
	cmd := &cobra.Command{
		Use:   "seed <node-types.json>",
		Short: "Store a catalog snapshot from a file of node-type descriptors",
		Long: `Seed builds a catalog snapshot from a JSON array of node-type descriptors
and stores it as the active snapshot, so the server can validate
workflows before it has reached the platform.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			snap, err := readSnapshot(args[0], platformVersion)
			if err != nil {
				return err
			}

			cfg, err := g.config()
			if err != nil {
				return err
			}
			store, pool, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			previous, _, err := store.LoadSnapshot(ctx)
			if err != nil {
				return fmt.Errorf("failed to load current snapshot: %w", err)
			}
			diff := catalog.Diff(previous, snap, timeNow())
			if err := store.SaveSnapshot(ctx, snap, diff); err != nil {
				return err
			}
			if err := store.InvalidateCache(ctx); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d node types (catalog %s): %d added, %d removed, %d modified\n",
				snap.Len(), snap.Version(), len(diff.Added), len(diff.Removed), len(diff.Modified))
			return nil
		},
	}
	cmd.Flags().StringVar(&platformVersion, "platform-version", "seed", "Platform version recorded on the snapshot")
	return cmd
}

func newValidateCommand(g *globals) *cobra.Command {
	var catalogFile, profile string
	cmd := &cobra.Command{
		Use:   "validate <workflow.json>",
		Short: "Validate a workflow file against the node catalog",
		Long: `Validate runs every validation layer against a workflow file and prints
the verdict as JSON. The command fails when the workflow is invalid.

Use '-' to read the workflow from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := validation.Options{Profile: validation.Profile(profile)}.Normalize()
			if err != nil {
				return err
			}

			var doc models.WorkflowDocument
			if err := readJSON(args[0], &doc); err != nil {
				return err
			}
			view, err := loadView(cmd.Context(), g, catalogFile)
			if err != nil {
				return err
			}

			verdict := validation.Validate(&doc, view, opts)
			if err := writeJSON(cmd.OutOrStdout(), verdict); err != nil {
				return err
			}
			printVerdictSummary(cmd.ErrOrStderr(), verdict)
			if !verdict.Valid {
				return fmt.Errorf("workflow is invalid: %d error(s)", len(verdict.Errors))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&catalogFile, "catalog", "", "Node-type descriptor file to validate against instead of the stored snapshot")
	cmd.Flags().StringVar(&profile, "profile", string(validation.ProfileAIFriendly), "Validation profile (minimal, runtime, ai-friendly, strict)")
	return cmd
}

// decideInput is the file format read by the decide command.
type decideInput struct {
	Evidence  models.PatternEvidence      `json:"evidence"`
	Prior     *models.PriorDecision       `json:"prior,omitempty"`
	Conflicts []models.ConflictingPattern `json:"conflicts,omitempty"`
}

func newDecideCommand(g *globals) *cobra.Command {
	var catalogFile string
	cmd := &cobra.Command{
		Use:   "decide <evidence.json>",
		Short: "Evaluate pattern evidence without persisting anything",
		Long: `Decide runs the promotion engine over a file holding a pattern's
evidence, its prior decision and the conflicting patterns, and prints
the decision with its reasoning. Thresholds come from the config.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in decideInput
			if err := readJSON(args[0], &in); err != nil {
				return err
			}
			if in.Evidence.PatternID == "" {
				return fmt.Errorf("evidence.patternId is required")
			}

			cfg, err := g.config()
			if err != nil {
				return err
			}
			view, err := loadView(cmd.Context(), g, catalogFile)
			if err != nil {
				return err
			}

			engine := patterns.NewEngine(patterns.Thresholds{
				MinObservations:        cfg.Patterns.MinObservations,
				MinSuccessRate:         cfg.Patterns.MinSuccessRate,
				MinEmbeddingConfidence: cfg.Patterns.MinEmbeddingConfidence,
				DemoteSuccessRate:      cfg.Patterns.DemoteSuccessRate,
				DemoteSatisfaction:     cfg.Patterns.DemoteSatisfaction,
				TrailingWindow:         cfg.Patterns.TrailingWindow,
			}, view)
			return writeJSON(cmd.OutOrStdout(), engine.Decide(in.Evidence, in.Prior, in.Conflicts))
		},
	}
	cmd.Flags().StringVar(&catalogFile, "catalog", "", "Node-type descriptor file to check pattern node types against")
	return cmd
}

func newSyncCommand(g *globals) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one catalog synchronization against the platform",
		Long: `Sync loads the stored catalog snapshot, runs a single synchronization
cycle against the configured platform and stores the result.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := g.config()
			if err != nil {
				return err
			}
			logger := g.logger(cmd.ErrOrStderr())

			client, err := platform.NewClient(platform.Options{
				URL:       cfg.Platform.URL,
				APIKey:    cfg.Platform.APIKey,
				Timeout:   cfg.Platform.Timeout,
				RateLimit: cfg.Platform.RateLimit,
				Burst:     cfg.Platform.Burst,
			})
			if err != nil {
				return err
			}
			store, pool, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			synchronizer := catalog.NewSynchronizer(client, store, catalog.Options{
				RetryInterval:     cfg.Sync.RetryInterval,
				RequestTimeout:    cfg.Sync.RequestTimeout,
				MaxRetries:        cfg.Sync.MaxRetries,
				DegradedThreshold: cfg.Sync.DegradedThreshold,
			}, logger.Component("catalog"), nil, catalog.InvalidatorFunc(store.InvalidateCache))
			if err := synchronizer.Bootstrap(ctx); err != nil {
				return err
			}

			result, err := synchronizer.SyncNow(ctx, force)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Re-enumerate node types even if the platform version is unchanged")
	return cmd
}
