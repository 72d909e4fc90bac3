package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ent0n29/hrdesk/internal/schema"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Print the task registry",
	RunE:  runTasks,
}

func init() {
	tasksCmd.Flags().Bool("json", false, "print the registry as JSON")
	tasksCmd.Flags().String("file", "", "registry file (default TASK_REGISTRY_PATH or the built-in tasks)")
}

func runTasks(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	path := cfg.TaskRegistryPath
	if f, _ := cmd.Flags().GetString("file"); f != "" {
		path = f
	}
	reg, err := schema.Load(path, cfg.DefaultMaxRetries)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(reg.Tasks())
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, t := range reg.Tasks() {
		fmt.Fprintf(tw, "%s\t%s\t-> %s\n", t.Intent, t.Description, t.Completion.Action)
		for _, slot := range t.Slots {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", slot.Name, slot.Type, slotNotes(slot))
		}
	}
	return tw.Flush()
}

func slotNotes(slot schema.Slot) string {
	var notes []string
	if !slot.Required {
		notes = append(notes, "optional")
	}
	if slot.HasFallback() {
		notes = append(notes, "default "+slot.Default)
	}
	if len(slot.Options) > 0 {
		notes = append(notes, "one of "+strings.Join(slot.Options, "|"))
	}
	notes = append(notes, fmt.Sprintf("retries %d", slot.MaxRetries))
	return strings.Join(notes, ", ")
}
