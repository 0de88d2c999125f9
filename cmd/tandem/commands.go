package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/DukeRupert/tandem/internal/catalog"
	"github.com/DukeRupert/tandem/internal/domain"
	"github.com/DukeRupert/tandem/internal/jobs"
	"github.com/DukeRupert/tandem/internal/session"
	"github.com/DukeRupert/tandem/internal/worker"
)

// cli carries the app between the root hooks and the subcommands.
type cli struct {
	app *app
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "tandem",
		Short:         "Daily missions for two, synced across devices",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), os.Stderr)
			if err != nil {
				return err
			}
			c.app = a
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if c.app == nil {
				return nil
			}
			return c.app.Close()
		},
	}

	root.AddCommand(
		c.loadCmd(),
		c.todayCmd(),
		c.completeCmd(),
		c.reflectCmd(),
		c.modeCmd(),
		c.languageCmd(),
		c.profileCmd(),
		c.resetCmd(),
		c.signinCmd(),
		c.signoutCmd(),
		c.subscribeCmd(),
		c.trialCmd(),
		c.confirmCmd(),
		c.syncCmd(),
		c.refreshCmd(),
		c.cancelCmd(),
		c.accessCmd(),
		c.watchCmd(),
	)
	return root
}

// =============================================================================
// Journey
// =============================================================================

func (c *cli) loadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Reconcile the device snapshot with the remote profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r := c.app.session.LoadCanonical(cmd.Context())
			printRecord(cmd.OutOrStdout(), r, time.Now())
			return nil
		},
	}
}

func (c *cli) todayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "today",
		Short: "Show today's mission",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			r := c.app.session.LoadCanonical(ctx)
			id := c.app.session.TodayMission(ctx)

			status := "open"
			if r.IsCompleted(id) {
				status = "done"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "day %d: mission %d (%s)\n",
				catalog.DayIndex(r.StartDate, time.Now())+1, id, status)
			return nil
		},
	}
}

func (c *cli) completeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <mission-id>",
		Short: "Mark a mission as completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := missionArg(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			c.app.session.LoadCanonical(ctx)
			r, err := c.app.session.CompleteMission(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "completed mission %d, streak %d\n", id, r.Streak)
			return nil
		},
	}
}

func (c *cli) reflectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reflect <mission-id> [text]",
		Short: "Save a reflection on a mission; omit text to remove it",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := missionArg(args[0])
			if err != nil {
				return err
			}
			var text string
			if len(args) == 2 {
				text = args[1]
			}
			ctx := cmd.Context()
			c.app.session.LoadCanonical(ctx)
			if _, err := c.app.session.SetReflection(ctx, id, text); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "reflection saved")
			return nil
		},
	}
}

func (c *cli) resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Start the journey over from today",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c.app.session.LoadCanonical(ctx)
			r := c.app.session.Reset(ctx)
			printRecord(cmd.OutOrStdout(), r, time.Now())
			return nil
		},
	}
}

// =============================================================================
// Profile
// =============================================================================

func (c *cli) modeCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "mode <solo|couple|distance>",
		Short:     "Switch the relationship mode",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(domain.ModeSolo), string(domain.ModeCouple), string(domain.ModeDistance)},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c.app.session.LoadCanonical(ctx)
			r, err := c.app.session.SwitchMode(ctx, domain.Mode(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mode: %s\n", r.Mode)
			return nil
		},
	}
}

func (c *cli) languageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "language [tag]",
		Short: "Set the display language (BCP 47); omit the tag to clear it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var tag string
			if len(args) == 1 {
				tag = args[0]
			}
			ctx := cmd.Context()
			c.app.session.LoadCanonical(ctx)
			r, err := c.app.session.SetLanguage(ctx, tag)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "language: %s\n", orDash(r.Language))
			return nil
		},
	}
}

func (c *cli) profileCmd() *cobra.Command {
	var name, partner, username, mode string
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Edit names and mode; unset flags keep their current value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			r := c.app.session.LoadCanonical(ctx)

			p := domain.ProfileUpdateParams{
				Name:        r.Name,
				PartnerName: r.PartnerName,
				Username:    r.Username,
				Mode:        r.Mode,
			}
			flags := cmd.Flags()
			if flags.Changed("name") {
				p.Name = name
			}
			if flags.Changed("partner") {
				p.PartnerName = partner
			}
			if flags.Changed("username") {
				p.Username = username
			}
			if flags.Changed("mode") {
				p.Mode = domain.Mode(mode)
			}

			r, err := c.app.session.UpdateProfile(ctx, p)
			if err != nil {
				var ve *domain.ValidationError
				if errors.As(err, &ve) {
					for field, msg := range ve.Fields {
						fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s\n", field, msg)
					}
				}
				return err
			}
			printRecord(cmd.OutOrStdout(), r, time.Now())
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "your name")
	cmd.Flags().StringVar(&partner, "partner", "", "your partner's name")
	cmd.Flags().StringVar(&username, "username", "", "public username")
	cmd.Flags().StringVar(&mode, "mode", "", "solo, couple or distance")
	return cmd
}

// =============================================================================
// Identity
// =============================================================================

func (c *cli) signinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signin <id-token>",
		Short: "Sign in with a Firebase ID token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.app.firebase == nil {
				return domain.Errorf(domain.ENOTIMPL, "cli.signin", "Sign-in is not configured on this device.")
			}
			ctx := cmd.Context()
			id, err := c.app.firebase.SignIn(ctx, args[0])
			if err != nil {
				return err
			}
			r := c.app.session.LoadCanonical(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s\n", orDash(id.Email))
			printRecord(cmd.OutOrStdout(), r, time.Now())
			return nil
		},
	}
}

func (c *cli) signoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Sign out and wipe this device's snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := c.app.session.SignOut(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return nil
		},
	}
}

// =============================================================================
// Billing
// =============================================================================

func (c *cli) subscribeCmd() *cobra.Command {
	var trial bool
	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Start a hosted checkout and print its URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			plan := session.PlanSubscription
			if trial {
				plan = session.PlanTrial
			}
			ctx := cmd.Context()
			c.app.session.LoadCanonical(ctx)
			url, err := c.app.session.Subscribe(ctx, plan)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}
	cmd.Flags().BoolVar(&trial, "trial", false, "use the free-trial plan")
	return cmd
}

func (c *cli) trialCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trial",
		Short: "Start a free-trial checkout and print its URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c.app.session.LoadCanonical(ctx)
			url, err := c.app.session.Subscribe(ctx, session.PlanTrial)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}
}

func (c *cli) confirmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <return-url>",
		Short: "Confirm a checkout from the URL the provider returned to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nav, err := session.NewURLNavigator(args[0])
			if err != nil {
				return domain.Invalid("cli.confirm", "That is not a valid URL.")
			}
			ctx := cmd.Context()
			c.app.session.LoadCanonical(ctx)
			r := c.app.session.ConfirmCheckout(ctx, nav)
			printRecord(cmd.OutOrStdout(), r, time.Now())
			fmt.Fprintf(cmd.OutOrStdout(), "location: %s\n", nav.String())
			return nil
		},
	}
}

func (c *cli) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run every billing synchronization flow once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c.app.session.LoadCanonical(ctx)
			r := c.app.session.Sync(ctx, nil)
			printRecord(cmd.OutOrStdout(), r, time.Now())
			return nil
		},
	}
}

func (c *cli) refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the subscription status from the provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c.app.session.LoadCanonical(ctx)
			r := c.app.session.RefreshStatus(ctx)
			printRecord(cmd.OutOrStdout(), r, time.Now())
			return nil
		},
	}
}

func (c *cli) cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the subscription now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c.app.session.LoadCanonical(ctx)
			r, err := c.app.session.Cancel(ctx)
			if err != nil {
				return err
			}
			printRecord(cmd.OutOrStdout(), r, time.Now())
			return nil
		},
	}
}

func (c *cli) accessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "access",
		Short: "Report whether premium access is granted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c.app.session.LoadCanonical(cmd.Context())
			if c.app.session.Access() {
				fmt.Fprintln(cmd.OutOrStdout(), "granted")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "denied")
			}
			return nil
		},
	}
}

// =============================================================================
// Watch
// =============================================================================

func (c *cli) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep syncing billing and the remote profile until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := c.app.logger
			c.app.session.LoadCanonical(ctx)

			cfg := worker.DefaultConfig()
			cfg.Interval = c.app.cfg.WatchInterval
			if cfg.JobTimeout > cfg.Interval {
				cfg.JobTimeout = cfg.Interval
			}
			runner, err := worker.New(cfg, logger)
			if err != nil {
				return err
			}
			runner.Register(jobs.NewSyncBillingHandler(c.app.session, logger))
			runner.Register(jobs.NewReconcileProfileHandler(c.app.session, logger))

			runner.Start(ctx)
			<-ctx.Done()
			if !runner.Stop() {
				logger.Warn("jobs still running at shutdown")
			}
			return nil
		},
	}
}

// =============================================================================
// Output
// =============================================================================

func missionArg(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, domain.Invalid("cli.mission", "Mission id must be a number.")
	}
	return id, nil
}

func printRecord(w io.Writer, r domain.Record, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "name\t%s\n", orDash(r.Name))
	fmt.Fprintf(tw, "partner\t%s\n", orDash(r.PartnerName))
	fmt.Fprintf(tw, "mode\t%s\n", r.Mode)
	fmt.Fprintf(tw, "language\t%s\n", orDash(r.Language))
	fmt.Fprintf(tw, "day\t%d\n", catalog.DayIndex(r.StartDate, now)+1)
	fmt.Fprintf(tw, "completed\t%d\n", len(r.CompletedMissionIDs))
	fmt.Fprintf(tw, "streak\t%d\n", r.Streak)
	fmt.Fprintf(tw, "subscription\t%s\n", orDash(r.SubscriptionStatus))
	if r.CurrentPeriodEnd != nil {
		end := time.Unix(*r.CurrentPeriodEnd, 0).UTC().Format(time.DateOnly)
		if r.CancelAtPeriodEnd {
			fmt.Fprintf(tw, "ends\t%s\n", end)
		} else {
			fmt.Fprintf(tw, "renews\t%s\n", end)
		}
	}
	access := "denied"
	if domain.HasAccess(r, now) {
		access = "granted"
	}
	fmt.Fprintf(tw, "access\t%s\n", access)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
