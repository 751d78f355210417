package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"recsched/internal/app"
	"recsched/internal/catalog"
	"recsched/internal/recording"
)

const timeLayout = "2006-01-02 15:04"

func newListCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show pending recordings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cc.withApp(cmd, 0, func(ctx context.Context, a *app.App) error {
				l, err := a.Recorder().ListScheduledRecordings(ctx)
				if err != nil {
					return err
				}
				if cc.jsonOut {
					return writeJSON(cmd, l.Intents)
				}
				out := cmd.OutOrStdout()
				if len(l.Intents) == 0 {
					fmt.Fprintln(out, "No pending recordings")
				} else {
					rows := make([][]string, 0, len(l.Intents))
					for i, in := range l.Intents {
						rows = append(rows, []string{
							l.Jobs[i].Handle,
							in.ID.String(),
							in.Name,
							channelLabel(in),
							in.Start.Local().Format(timeLayout),
							in.Duration().String(),
							in.Filename,
						})
					}
					fmt.Fprintln(out, renderTable(out,
						[]string{"Job", "ID", "Name", "Channel", "Start", "Length", "File"},
						rows,
						[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
					))
				}
				if l.Corrupt > 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %d queued job(s) have unreadable payloads\n", l.Corrupt)
				}
				return nil
			})
		},
	}
}

func channelLabel(in recording.Intent) string {
	if in.ChannelName != "" {
		return in.ChannelName
	}
	return in.ChannelURI
}

type scheduleFlags struct {
	id          string
	name        string
	description string
	channel     string
	start       string
	end         string
	duration    time.Duration
	file        string
}

func newScheduleCommand(cc *commandContext) *cobra.Command {
	var f scheduleFlags
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Schedule a recording, or replace one with --id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cc.withApp(cmd, needQueue|needCatalog, func(ctx context.Context, a *app.App) error {
				in, err := f.intent(a.Catalog().Current(), time.Now())
				if err != nil {
					return err
				}
				var job recording.ScheduledJob
				if f.id != "" {
					job, err = a.Recorder().UpdateRecording(ctx, in)
				} else {
					job, err = a.Recorder().ScheduleRecording(ctx, in)
				}
				if err != nil {
					return err
				}
				if cc.jsonOut {
					return writeJSON(cmd, map[string]any{"id": in.ID, "handle": job.Handle, "fire_at": job.FireAt})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Scheduled %q as job %s (id %s) at %s\n",
					in.Name, job.Handle, in.ID, job.FireAt.Local().Format(timeLayout))
				return nil
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.id, "id", "", "Existing recording id to replace")
	fl.StringVar(&f.name, "name", "", "Recording name")
	fl.StringVar(&f.description, "description", "", "Free-form description")
	fl.StringVar(&f.channel, "channel", "", "Stream URI or channel name from the playlist")
	fl.StringVar(&f.start, "start", "", `Start time: RFC 3339 or "YYYY-MM-DD HH:MM" local`)
	fl.StringVar(&f.end, "end", "", "End time, same formats as --start")
	fl.DurationVar(&f.duration, "duration", 0, "Length; alternative to --end")
	fl.StringVar(&f.file, "file", "", "Output file path")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("channel")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// intent builds the recording from flags. Channel names are resolved to
// stream URIs through cat.
func (f scheduleFlags) intent(cat *catalog.Catalog, now time.Time) (recording.Intent, error) {
	in := recording.NewIntent()
	if f.id != "" {
		id, err := uuid.Parse(f.id)
		if err != nil {
			return in, fmt.Errorf("%w: --id: %v", recording.ErrValidation, err)
		}
		in.ID = id
	}
	in.Name = strings.TrimSpace(f.name)
	in.Description = strings.TrimSpace(f.description)
	in.Filename = strings.TrimSpace(f.file)

	ch := strings.TrimSpace(f.channel)
	if strings.Contains(ch, "://") {
		in.ChannelURI = ch
		if e, ok := cat.Lookup(ch); ok {
			in.ChannelName = e.Name
		}
	} else {
		e, ok := cat.LookupName(ch)
		if !ok {
			return in, fmt.Errorf("%w: channel %q is not in the playlist", recording.ErrValidation, ch)
		}
		in.ChannelURI, in.ChannelName = e.URI, e.Name
	}

	start, err := parseWhen(f.start, now.Location())
	if err != nil {
		return in, fmt.Errorf("%w: --start: %v", recording.ErrValidation, err)
	}
	in.Start = start
	switch {
	case f.end != "" && f.duration != 0:
		return in, fmt.Errorf("%w: use --end or --duration, not both", recording.ErrValidation)
	case f.end != "":
		if in.End, err = parseWhen(f.end, now.Location()); err != nil {
			return in, fmt.Errorf("%w: --end: %v", recording.ErrValidation, err)
		}
	case f.duration > 0:
		in.End = start.Add(f.duration)
	default:
		return in, fmt.Errorf("%w: --end or --duration is required", recording.ErrValidation)
	}
	return in, nil
}

func parseWhen(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(timeLayout, raw, loc); err == nil {
		return t, nil
	}
	if sec, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(sec, 0).In(loc), nil
	}
	return time.Time{}, errors.New(`want RFC 3339, "YYYY-MM-DD HH:MM" or unix seconds`)
}

func newCancelCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>...",
		Short: "Cancel pending recordings",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cc.withApp(cmd, needQueue, func(ctx context.Context, a *app.App) error {
				var errs []error
				for _, arg := range args {
					id, err := uuid.Parse(strings.TrimSpace(arg))
					if err != nil {
						errs = append(errs, fmt.Errorf("%s: %w", arg, err))
						continue
					}
					out, err := a.Recorder().CancelRecording(ctx, id)
					if err != nil {
						errs = append(errs, fmt.Errorf("%s: %w", id, err))
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", id, out)
				}
				return errors.Join(errs...)
			})
		},
	}
}
