package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	"github.com/lanscout/lanscout/internal/db"
	"github.com/lanscout/lanscout/internal/scanning"
)

var (
	scheduleName     string
	scheduleTarget   string
	scheduleType     string
	scheduleInterval time.Duration
	scheduleDisabled bool
)

// scheduleCmd groups schedule management subcommands.
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage recurring scan schedules",
	Example: `  lanscout schedule add --name lan --target 192.168.1.0/24 --interval 5m
  lanscout schedule list`,
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a recurring scan schedule",
	RunE:  runScheduleAdd,
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scan schedules",
	RunE:  runScheduleList,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleAddCmd, scheduleListCmd)

	scheduleAddCmd.Flags().StringVar(&scheduleName, "name", "", "schedule name")
	scheduleAddCmd.Flags().StringVar(&scheduleTarget, "target", "", "target networks and addresses")
	scheduleAddCmd.Flags().StringVar(&scheduleType, "type", scanning.ScanTypeARP, "scan type: arp, ping, tcp-syn")
	scheduleAddCmd.Flags().DurationVar(&scheduleInterval, "interval", 5*time.Minute, "time between scans")
	scheduleAddCmd.Flags().BoolVar(&scheduleDisabled, "disabled", false, "create the schedule disabled")
	_ = scheduleAddCmd.MarkFlagRequired("name")
	_ = scheduleAddCmd.MarkFlagRequired("target")
}

func runScheduleAdd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sched := &db.ScheduleDefinition{
		Name:            scheduleName,
		ScanType:        scheduleType,
		Target:          scheduleTarget,
		IntervalSeconds: int(scheduleInterval.Seconds()),
		Enabled:         !scheduleDisabled,
	}
	if err := validator.New().Struct(sched); err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}

	ctx := cmd.Context()
	dbConfig := cfg.GetDatabaseConfig()
	database, err := db.Connect(ctx, &dbConfig)
	if err != nil {
		return err
	}
	defer func() {
		_ = database.Close()
	}()
	if err := database.Migrate(ctx); err != nil {
		return err
	}

	if err := database.CreateSchedule(ctx, sched); err != nil {
		return err
	}
	fmt.Printf("Schedule %q created (%s every %s)\n", sched.Name, sched.ScanType, scheduleInterval)
	return nil
}

func runScheduleList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	dbConfig := cfg.GetDatabaseConfig()
	database, err := db.Connect(ctx, &dbConfig)
	if err != nil {
		return err
	}
	defer func() {
		_ = database.Close()
	}()

	schedules, err := database.ListSchedules(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tTARGET\tINTERVAL\tENABLED\tNEXT RUN")
	for _, s := range schedules {
		nextRun := "-"
		if s.NextRunAt != nil {
			nextRun = s.NextRunAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n",
			s.Name, s.ScanType, s.Target, s.Interval(), s.Enabled, nextRun)
	}
	return w.Flush()
}
