package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mnemo-dev/mnemo/internal/engine"
)

var (
	flagGroup       string
	flagConcepts    []string
	flagConfidence  float64
	flagRecallLimit int
	flagRecallSeed  string
)

func init() {
	rememberCmd.Flags().StringVarP(&flagGroup, "group", "g", "default", "memory group")
	rememberCmd.Flags().StringSliceVarP(&flagConcepts, "concept", "c", nil, "concept(s) to attach the memory to")
	rememberCmd.Flags().Float64Var(&flagConfidence, "confidence", 0.8, "confidence of the fact (0..1)")

	recallCmd.Flags().StringVarP(&flagGroup, "group", "g", "default", "memory group")
	recallCmd.Flags().IntVarP(&flagRecallLimit, "limit", "n", 10, "maximum number of results")
	recallCmd.Flags().StringVar(&flagRecallSeed, "seed", "", "concept to spread association from")

	maintainCmd.Flags().StringVarP(&flagGroup, "group", "g", "", "maintain only this group (default: all)")
}

// --- remember command ---

var rememberCmd = &cobra.Command{
	Use:   "remember [text]",
	Short: "Store a memory",
	Long:  "Store a memory in a group. With --concept flags the text becomes a fact on those concepts; without them keywords are extracted from the text.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRemember,
}

func runRemember(cmd *cobra.Command, args []string) error {
	eng, db, _, err := newEngine(zap.NewNop())
	if err != nil {
		return err
	}
	defer db.Close()
	defer eng.Stop()

	text := strings.Join(args, " ")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var ids []string
	if len(flagConcepts) > 0 {
		ids, err = eng.FormMemory(ctx, flagGroup, []engine.FactRecord{{
			Content:    text,
			Concepts:   flagConcepts,
			Confidence: flagConfidence,
		}})
	} else {
		var result engine.ParseResult
		ids, result, err = eng.FormMemoryRaw(ctx, flagGroup, text)
		for _, w := range result.Warnings {
			fmt.Printf("warning: %s\n", w)
		}
	}
	if err != nil {
		return fmt.Errorf("remember: %w", err)
	}

	for _, id := range ids {
		fmt.Printf("stored %s\n", id)
	}
	return nil
}

// --- recall command ---

var recallCmd = &cobra.Command{
	Use:   "recall [query]",
	Short: "Recall memories",
	Long:  "Recall memories from a group by layered retrieval. Scores blend keyword, semantic, associative, temporal, and strength signals.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRecall,
}

func runRecall(cmd *cobra.Command, args []string) error {
	eng, db, _, err := newEngine(zap.NewNop())
	if err != nil {
		return err
	}
	defer db.Close()
	defer eng.Stop()

	query := strings.Join(args, " ")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	results, err := eng.Recall(ctx, flagGroup, query, engine.RecallOptions{
		Limit: flagRecallLimit,
		Seed:  flagRecallSeed,
	})
	if err != nil {
		return fmt.Errorf("recall: %w", err)
	}
	if len(results) == 0 {
		fmt.Println("No memories recalled.")
		return nil
	}

	for i, r := range results {
		fmt.Printf("%d. [%.3f] %s\n", i+1, r.Score, r.Memory.Content)
		if r.Memory.Details != "" {
			fmt.Printf("   %s\n", r.Memory.Details)
		}
		fmt.Printf("   strength %.2f, accessed %d times\n", r.Memory.Strength, r.Memory.AccessCount)
	}
	return nil
}

// --- maintain command ---

var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Run a decay and consolidation pass",
	RunE:  runMaintain,
}

func runMaintain(cmd *cobra.Command, args []string) error {
	eng, db, _, err := newEngine(zap.NewNop())
	if err != nil {
		return err
	}
	defer db.Close()
	defer eng.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	groups := []string{flagGroup}
	if flagGroup == "" {
		groups, err = eng.Partition.Groups()
		if err != nil {
			return fmt.Errorf("list groups: %w", err)
		}
	}
	if len(groups) == 0 {
		fmt.Println("No groups to maintain.")
		return nil
	}

	for _, group := range groups {
		stats, err := eng.RunMaintenance(ctx, group)
		if err != nil {
			return fmt.Errorf("maintain %s: %w", group, err)
		}
		fmt.Printf("%s: %d intervals, %d memories removed, %d concepts pruned, %d merges\n",
			group, stats.Decay.Intervals, stats.Decay.MemoriesRemoved,
			stats.Decay.ConceptsPruned, stats.Consolidation.Merges)
	}
	return nil
}

// --- groups command ---

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "List memory groups",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, db, _, err := newEngine(zap.NewNop())
		if err != nil {
			return err
		}
		defer db.Close()
		defer eng.Stop()

		groups, err := eng.Partition.Groups()
		if err != nil {
			return fmt.Errorf("list groups: %w", err)
		}
		if len(groups) == 0 {
			fmt.Println("No groups yet.")
			return nil
		}
		for _, g := range groups {
			fmt.Println(g)
		}
		return nil
	},
}
