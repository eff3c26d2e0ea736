package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/claude/repquest/internal/attempts"
	"github.com/claude/repquest/internal/camera"
	"github.com/claude/repquest/internal/coach"
	"github.com/claude/repquest/internal/completion"
	"github.com/claude/repquest/internal/exercise"
	"github.com/claude/repquest/internal/pose"
	"github.com/claude/repquest/internal/publish"
	"github.com/claude/repquest/internal/quest"
	"github.com/claude/repquest/internal/tracking"
)

const initialCue = "Coach is watching. Start moving."

func newTrackCmd(a *app) *cobra.Command {
	var noMQTT bool
	var target int

	cmd := &cobra.Command{
		Use:   "track <quest-id>",
		Short: "Run a live quest attempt from the camera",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, ok := quest.Find(args[0])
			if !ok {
				return fmt.Errorf("unknown quest %q (see repquest-live quests)", args[0])
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := a.openAttempts()
			if err != nil {
				return err
			}
			defer store.Close()

			if target <= 0 {
				target = quest.TargetReps
			}
			attempt, err := store.Start(ctx, q.ID, attempts.SourceLive, target, "")
			if err != nil {
				return err
			}

			ch := coach.NewChannel(a.client, a.cfg.Coach.Cooldown, a.cfg.Timeout, initialCue, a.log)
			defer ch.Close()
			guard := completion.NewGuard(a.crediter(), q.Difficulty.Reward(), a.cfg.Timeout, a.log)

			observers := []tracking.Observer{newRenderer(a.out, q, a.tty)}
			if a.cfg.MQTT.Broker != "" && !noMQTT {
				pub, err := publish.Connect(publish.Config{
					Broker:      a.cfg.MQTT.Broker,
					ClientID:    a.cfg.MQTT.ClientID,
					Username:    a.cfg.MQTT.Username,
					Password:    a.cfg.MQTT.Password,
					TopicPrefix: a.cfg.MQTT.TopicPrefix,
				}, a.log)
				if err != nil {
					a.log.Warn("snapshot publishing disabled", "error", err)
				} else {
					defer pub.Close()
					observers = append(observers, pub)
				}
			}

			opener := &camera.GstOpener{
				Devices: map[camera.Facing]string{
					camera.FacingEnvironment: a.cfg.Camera.Environment,
					camera.FacingUser:        a.cfg.Camera.User,
				},
				DefaultDevice:     a.cfg.Camera.Default,
				FirstFrameTimeout: a.cfg.Camera.FirstFrameTimeout,
				Log:               a.log,
			}
			startEstimator := func(ctx context.Context) (pose.Estimator, error) {
				return pose.StartWorker(ctx, pose.WorkerConfig{
					Command:        a.cfg.Pose.Command,
					Model:          a.cfg.Pose.Model,
					Args:           a.cfg.Pose.Args,
					RequestTimeout: a.cfg.Pose.RequestTimeout,
				}, a.log)
			}

			session := tracking.NewSession(tracking.Config{
				Quest:           q,
				Target:          target,
				EstimateTimeout: a.cfg.Pose.RequestTimeout,
			}, opener, startEstimator, ch, guard, a.log, observers...)

			fmt.Fprintf(a.out, "%s: defeat the %s with %d %s.\n", q.Title, q.Monster, target, q.Workout)
			if !a.client.Authenticated() {
				fmt.Fprintln(a.out, "Not signed in: coaching and EXP are disabled for this attempt.")
			}

			res, runErr := session.Run(ctx)

			// Record the attempt even when the user quit early.
			finishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			snap := res.Snapshot
			if err := store.Finish(finishCtx, attempt.ID, snap.Reps, snap.Phase == exercise.PhaseComplete, res.Outcome == completion.Credited); err != nil {
				a.log.Warn("recording attempt", "error", err)
			}

			switch {
			case runErr == nil:
				fmt.Fprintln(a.out)
				fmt.Fprintln(a.out, styleDone.Render(snap.Message))
				return nil
			case errors.Is(runErr, context.Canceled):
				fmt.Fprintf(a.out, "\nAttempt stopped at %d/%d reps.\n", snap.Reps, snap.Target)
				return nil
			case errors.Is(runErr, camera.ErrUnavailable):
				return fmt.Errorf("camera unavailable, check the device and permissions: %w", runErr)
			default:
				return runErr
			}
		},
	}

	cmd.Flags().BoolVar(&noMQTT, "no-mqtt", false, "do not publish snapshots even if a broker is configured")
	cmd.Flags().IntVar(&target, "target", quest.TargetReps, "reps needed to defeat the monster")
	return cmd
}
