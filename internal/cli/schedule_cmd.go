package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"backupvault/internal/backup"
	"backupvault/internal/logging"
	"backupvault/internal/progress"
	"backupvault/internal/scheduler"
)

func (a *app) scheduleCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "schedule",
		Short: "Manage declarative backup schedules",
	}
	root.AddCommand(a.scheduleListCommand())
	root.AddCommand(a.scheduleAddCommand())
	root.AddCommand(a.scheduleRemoveCommand())
	root.AddCommand(a.scheduleRunCommand())
	root.AddCommand(a.scheduleDaemonCommand())
	return root
}

func (a *app) newScheduler() (*scheduler.Scheduler, error) {
	return a.newSchedulerWith(progress.NewReporter(64))
}

func (a *app) newSchedulerWith(rep *progress.Reporter) (*scheduler.Scheduler, error) {
	return scheduler.New(a.store, a.catalog, rep)
}

func (a *app) scheduleListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, err := a.newScheduler()
			if err != nil {
				return err
			}
			list := sched.ListSchedules()
			if len(list) == 0 {
				fmt.Println("no schedules configured")
				return nil
			}
			for _, s := range list {
				status := "enabled"
				if !s.Enabled {
					status = "disabled"
				}
				fmt.Printf("%s  %-20s %-8s %-12s next=%s (%s)\n",
					s.ID, s.Name, s.Mode, s.Frequency, s.NextFire.Format("2006-01-02 15:04"), status)
			}
			return nil
		},
	}
}

func (a *app) scheduleAddCommand() *cobra.Command {
	var name, source, destination, mode, frequency, password, daysOfWeek string
	var hour, minute, hourInterval, dayOfMonth int
	var compress, encrypt bool

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a new schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			if source == "" || destination == "" {
				return fmt.Errorf("--source and --dest are required")
			}
			if encrypt && password == "" {
				return fmt.Errorf("--encrypt requires --password")
			}
			freq := scheduler.Frequency(frequency)
			var days []time.Weekday
			if daysOfWeek != "" {
				var err error
				days, err = parseWeekdays(daysOfWeek)
				if err != nil {
					return err
				}
			} else if freq == scheduler.Weekly || freq == scheduler.Custom {
				return fmt.Errorf("--days-of-week is required for weekly and custom frequencies")
			}
			sched, err := a.newScheduler()
			if err != nil {
				return err
			}
			s := scheduler.NewSchedule(name, source, destination, backup.Mode(mode), freq)
			s.Hour = hour
			s.Minute = minute
			s.HourInterval = hourInterval
			s.DaysOfWeek = days
			s.DayOfMonth = dayOfMonth
			s.Compress = compress
			s.Encrypt = encrypt
			s.Password = password

			created, err := sched.AddSchedule(s)
			if err != nil {
				return fmt.Errorf("add schedule: %w", err)
			}
			color.New(color.FgGreen).Printf("schedule %s created, next fire %s\n", created.ID, created.NextFire.Format("2006-01-02 15:04"))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Human-readable schedule name")
	cmd.Flags().StringVarP(&source, "source", "s", "", "Source directory")
	cmd.Flags().StringVarP(&destination, "dest", "d", "", "Destination directory")
	cmd.Flags().StringVarP(&mode, "mode", "m", "incremental", "Backup mode: full, incremental, differential")
	cmd.Flags().StringVar(&frequency, "frequency", "daily", "once, hourly, daily, weekly, monthly, custom")
	cmd.Flags().IntVar(&hour, "hour", 2, "Hour of day (0-23)")
	cmd.Flags().IntVar(&minute, "minute", 0, "Minute of hour (0-59)")
	cmd.Flags().IntVar(&hourInterval, "hour-interval", 1, "Hourly frequency: fire every N hours")
	cmd.Flags().StringVar(&daysOfWeek, "days-of-week", "", "Weekly/custom frequency: comma-separated weekdays (e.g. mon,wed,fri or 1,3,5)")
	cmd.Flags().IntVar(&dayOfMonth, "day-of-month", 1, "Monthly frequency: day of month (1-28)")
	cmd.Flags().BoolVar(&compress, "compress", false, "Zip the backup folder after each run")
	cmd.Flags().BoolVar(&encrypt, "encrypt", false, "Password-encrypt the zip after each run (implies --compress)")
	cmd.Flags().StringVar(&password, "password", "", "Password for --encrypt")
	return cmd
}

func (a *app) scheduleRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a schedule by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid schedule id %q: %w", args[0], err)
			}
			sched, err := a.newScheduler()
			if err != nil {
				return err
			}
			if err := sched.RemoveSchedule(id); err != nil {
				return err
			}
			color.New(color.FgGreen).Println("schedule removed")
			return nil
		},
	}
}

func (a *app) scheduleRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <id>",
		Short: "Run a schedule immediately, without altering its next-fire time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid schedule id %q: %w", args[0], err)
			}
			sched, err := a.newScheduler()
			if err != nil {
				return err
			}
			result, err := sched.RunNowSync(context.Background(), id)
			if err != nil {
				return fmt.Errorf("run schedule: %w", err)
			}
			printBackupSummary(result)
			return nil
		},
	}
}

func (a *app) scheduleDaemonCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the scheduler in the foreground, firing schedules as they come due",
		RunE: func(cmd *cobra.Command, args []string) error {
			rep := progress.NewReporter(64)
			sched, err := a.newSchedulerWith(rep)
			if err != nil {
				return err
			}

			// Drain progress so scheduled backups' outcomes reach the log;
			// per-file updates are coalesced by the reporter, so only the
			// terminal events matter here.
			go func() {
				for ev := range rep.C() {
					if ev.Terminal != nil {
						logging.Info().Str("status", ev.Terminal.Status).
							Str("folder", ev.Terminal.BackupFolder).Msg("scheduled backup finished")
					}
				}
			}()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sched.Start(ctx)
			color.New(color.FgCyan).Printf("scheduler running with %d schedule(s), press Ctrl-C to stop\n", len(sched.ListSchedules()))
			<-ctx.Done()
			sched.Stop()
			rep.Close()
			fmt.Println("scheduler stopped")
			return nil
		},
	}
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// parseWeekdays parses a comma-separated list of weekday names or
// numbers (Sunday=0..Saturday=6) into a sorted, deduplicated slice.
func parseWeekdays(value string) ([]time.Weekday, error) {
	seen := make(map[time.Weekday]bool)
	var out []time.Weekday
	for _, part := range strings.Split(value, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		day, ok := weekdayNames[part]
		if !ok {
			n, err := strconv.Atoi(part)
			if err != nil || n < 0 || n > 6 {
				return nil, fmt.Errorf("invalid weekday %q (use names like mon,fri or numbers 0-6 with Sunday=0)", part)
			}
			day = time.Weekday(n)
		}
		if !seen[day] {
			seen[day] = true
			out = append(out, day)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no weekdays given")
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
