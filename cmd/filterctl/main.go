// Command filterctl drives the adaptive spatial filter engine from the
// command line against a synthetic Host fixture, for exercising and
// demonstrating filter/unfilter/redo/reset/export the way a real desktop-GIS
// plugin would call into orchestrator.Engine.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/filtermate/spatialengine/config"
	"github.com/filtermate/spatialengine/executor/ogr"
	"github.com/filtermate/spatialengine/internal/fmlog"
	"github.com/filtermate/spatialengine/model"
	"github.com/filtermate/spatialengine/orchestrator"
	"github.com/filtermate/spatialengine/testhost"
)

var log = fmlog.For("cmd.filterctl")

var (
	fixturePath string
	configPath  string
)

var rootCmd = &cobra.Command{
	Use:   "filterctl",
	Short: "Drive the adaptive spatial filter engine against a synthetic layer fixture",
	Long: `filterctl loads a JSON fixture of synthetic layers and features into an
in-memory Host and runs the engine's filter/unfilter/redo/reset/export
actions against it, printing the resulting subset strings and metrics.

Each invocation builds a fresh engine and fixture, so undo/redo history does
not persist across separate filterctl runs; chain flags within a single
"filter" call (source layer plus targets) to exercise a full run.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&fixturePath, "fixture", "", "path to a JSON layer fixture (required)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file (optional, defaults applied otherwise)")

	rootCmd.AddCommand(filterCmd, unfilterCmd, redoCmd, resetCmd, exportCmd)

	filterCmd.Flags().String("source-layer", "", "source layer id to narrow before filtering targets")
	filterCmd.Flags().String("source-attr", "", "attribute expression applied to the source layer")
	filterCmd.Flags().StringSlice("target", nil, "target layer id (repeatable)")
	filterCmd.Flags().String("attr", "", "attribute expression applied to each target layer")
	filterCmd.Flags().StringSlice("predicate", nil, "spatial predicate name (repeatable): intersects, within, contains, overlaps, touches, crosses, disjoint, equals")
	filterCmd.Flags().Float64("buffer", 0, "buffer distance applied to the source geometry before testing predicates")
	filterCmd.Flags().String("description", "", "human-readable description recorded in filter history")
}

func newEngine() (*orchestrator.Engine, *testhost.Host, error) {
	if fixturePath == "" {
		return nil, nil, fmt.Errorf("--fixture is required")
	}
	h, err := loadFixture(fixturePath)
	if err != nil {
		return nil, nil, err
	}

	cfg := config.Default()
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, nil, fmt.Errorf("loading config: %w", err)
		}
	}

	e, err := orchestrator.NewEngine(orchestrator.Deps{
		Host:              h,
		Ogr:               ogr.New(h),
		PlannerThresholds: cfg.PlannerThresholds(),
		HistoryDepth:      cfg.HistoryDepth,
		GeometryCacheSize: cfg.Cache.SourceGeometryMaxEntries,
	})
	if err != nil {
		return nil, nil, err
	}
	return e, h, nil
}

func parsePredicates(names []string) ([]model.SpatialPredicate, error) {
	out := make([]model.SpatialPredicate, 0, len(names))
	for _, n := range names {
		p := model.SpatialPredicate(strings.ToLower(n))
		if _, ok := model.CostTable[p]; !ok {
			return nil, fmt.Errorf("unknown spatial predicate %q", n)
		}
		out = append(out, p)
	}
	return out, nil
}

func printResults(results []model.FilterResult) {
	for _, r := range results {
		if r.Success {
			fmt.Printf("%s: applied %q\n", r.LayerID, r.Applied)
		} else {
			fmt.Printf("%s: failed: %v\n", r.LayerID, r.Error)
		}
	}
}

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Apply an attribute and/or spatial filter to one or more target layers",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, _, err := newEngine()
		if err != nil {
			return err
		}

		sourceLayer, _ := cmd.Flags().GetString("source-layer")
		sourceAttr, _ := cmd.Flags().GetString("source-attr")
		targets, _ := cmd.Flags().GetStringSlice("target")
		attr, _ := cmd.Flags().GetString("attr")
		predicateNames, _ := cmd.Flags().GetStringSlice("predicate")
		buffer, _ := cmd.Flags().GetFloat64("buffer")
		description, _ := cmd.Flags().GetString("description")

		if len(targets) == 0 {
			return fmt.Errorf("at least one --target is required")
		}
		predicates, err := parsePredicates(predicateNames)
		if err != nil {
			return err
		}

		req := orchestrator.Request{
			SourceLayerID:       sourceLayer,
			SourceAttributeExpr: sourceAttr,
			TargetLayerIDs:      targets,
			Filter: model.FilterExpression{
				SQL:               attr,
				SpatialPredicates: predicates,
				BufferValue:       buffer,
				HasBuffer:         buffer != 0,
			},
			Description: description,
		}

		results, err := e.Filter(context.Background(), req, func(fraction float64) {
			log.WithField("fraction", fraction).Debug("filter progress")
		})
		if err != nil {
			return err
		}
		printResults(results)

		metrics := e.Metrics()
		fmt.Printf("metrics: direct=%d mv=%d two_phase=%d progressive=%d cache_hits=%d ogr_fallbacks=%d\n",
			metrics.DirectExecutions, metrics.MVExecutions, metrics.TwoPhaseExecutions,
			metrics.ProgressiveExecutions, metrics.CacheHits, metrics.OGRFallbacks)
		return nil
	},
}

var unfilterCmd = &cobra.Command{
	Use:   "unfilter <layer-id>...",
	Short: "Undo the most recently applied filter on the named layers",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, _, err := newEngine()
		if err != nil {
			return err
		}
		printResults(e.Unfilter(context.Background(), args))
		return nil
	},
}

var redoCmd = &cobra.Command{
	Use:   "redo <layer-id>...",
	Short: "Reapply the next undone filter on the named layers",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, _, err := newEngine()
		if err != nil {
			return err
		}
		printResults(e.Redo(context.Background(), args))
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset <layer-id>...",
	Short: "Clear filter history for the named layers and drop all of the session's materialized views",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, _, err := newEngine()
		if err != nil {
			return err
		}
		printResults(e.Reset(context.Background(), args))
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <layer-id>",
	Short: "Print the currently applied filter state for a layer as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, _, err := newEngine()
		if err != nil {
			return err
		}
		data, err := e.Export(args[0])
		if err != nil {
			return err
		}
		var pretty map[string]interface{}
		if err := json.Unmarshal(data, &pretty); err == nil {
			if out, err := json.MarshalIndent(pretty, "", "  "); err == nil {
				data = out
			}
		}
		fmt.Println(string(data))
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
